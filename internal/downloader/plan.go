package downloader

import (
	"fmt"
	"strings"
	"time"
)

// Target is one remote payload and the staging file it is saved to.
type Target struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Organ    string `json:"organ,omitempty"`
	Year     int    `json:"year,omitempty"`
	Month    int    `json:"month,omitempty"`
}

// PlanMonthly lists one target per month in [from, to], both inclusive at
// month granularity, using {base}/{path}/{year}/{year}{month}.json.
func PlanMonthly(baseURL, organ, organPath string, from, to time.Time) []Target {
	base := strings.TrimRight(baseURL, "/")
	path := strings.Trim(organPath, "/")
	cur := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []Target
	for !cur.After(end) {
		y, m := cur.Year(), int(cur.Month())
		out = append(out, Target{
			URL:      fmt.Sprintf("%s/%s/%d/%d%02d.json", base, path, y, y, m),
			Filename: fmt.Sprintf("%s_%d%02d.json", organ, y, m),
			Organ:    organ,
			Year:     y,
			Month:    m,
		})
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}

// ParseMonth parses "YYYY-MM" or "YYYYMM" into the first day of that month.
func ParseMonth(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01", "200601"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid month %q (want YYYY-MM)", s)
}
