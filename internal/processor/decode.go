package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"jurisline/internal/domain"
)

// Decision is one decision object as published in the open-data feeds.
type Decision struct {
	ID              json.RawMessage `json:"id"`
	CaseNumber      string          `json:"processo"`
	PublicationDate json.RawMessage `json:"dataPublicacao"`
	JudgmentDate    json.RawMessage `json:"dataJulgamento"`
	Organ           string          `json:"orgaoJulgador"`
	Relator         string          `json:"relator"`
	Minister        string          `json:"ministro"`
	Ementa          string          `json:"ementa"`
	FullText        string          `json:"inteiro_teor"`
	Relatorio       string          `json:"relatorio"`
	Voto            string          `json:"voto"`
	Decisao         string          `json:"decisao"`
	Class           string          `json:"classe"`
	Subjects        json.RawMessage `json:"assuntos"`
	URL             string          `json:"url"`
	Version         string          `json:"versao"`
}

// UnmarshalJSON accepts numbers, booleans and strings for the text fields.
// Feeds occasionally publish "processo" or "versao" as numbers.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID              json.RawMessage `json:"id"`
		CaseNumber      json.RawMessage `json:"processo"`
		PublicationDate json.RawMessage `json:"dataPublicacao"`
		JudgmentDate    json.RawMessage `json:"dataJulgamento"`
		Organ           json.RawMessage `json:"orgaoJulgador"`
		Relator         json.RawMessage `json:"relator"`
		Minister        json.RawMessage `json:"ministro"`
		Ementa          json.RawMessage `json:"ementa"`
		FullText        json.RawMessage `json:"inteiro_teor"`
		Relatorio       json.RawMessage `json:"relatorio"`
		Voto            json.RawMessage `json:"voto"`
		Decisao         json.RawMessage `json:"decisao"`
		Class           json.RawMessage `json:"classe"`
		Subjects        json.RawMessage `json:"assuntos"`
		URL             json.RawMessage `json:"url"`
		Version         json.RawMessage `json:"versao"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Decision{
		ID:              raw.ID,
		CaseNumber:      rawString(raw.CaseNumber),
		PublicationDate: raw.PublicationDate,
		JudgmentDate:    raw.JudgmentDate,
		Organ:           rawString(raw.Organ),
		Relator:         rawString(raw.Relator),
		Minister:        rawString(raw.Minister),
		Ementa:          rawString(raw.Ementa),
		FullText:        rawString(raw.FullText),
		Relatorio:       rawString(raw.Relatorio),
		Voto:            rawString(raw.Voto),
		Decisao:         rawString(raw.Decisao),
		Class:           rawString(raw.Class),
		Subjects:        raw.Subjects,
		URL:             rawString(raw.URL),
		Version:         rawString(raw.Version),
	}
	return nil
}

// DecodeFile decodes a feed body holding either an array of decisions or a
// single decision object. Array elements that are not decision objects are
// reported as item errors and the rest of the file is kept.
func DecodeFile(data []byte) ([]Decision, []ItemError, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, domain.WrapError(domain.ErrMalformed, "decode feed", fmt.Errorf("empty body"))
	}
	switch trimmed[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, nil, domain.WrapError(domain.ErrMalformed, "decode feed", err)
		}
		out := make([]Decision, 0, len(elems))
		var itemErrs []ItemError
		for i, elem := range elems {
			var d Decision
			if err := json.Unmarshal(elem, &d); err != nil {
				itemErrs = append(itemErrs, ItemError{Index: i, Err: domain.WrapError(domain.ErrMalformed, "decode decision", err)})
				continue
			}
			out = append(out, d)
		}
		return out, itemErrs, nil
	case '{':
		var d Decision
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return nil, nil, domain.WrapError(domain.ErrMalformed, "decode feed", err)
		}
		return []Decision{d}, nil, nil
	default:
		return nil, nil, domain.WrapError(domain.ErrMalformed, "decode feed", fmt.Errorf("expected array or object"))
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
	"02/01/2006",
}

// ParseDate accepts ISO strings, compact YYYYMMDD, dd/mm/yyyy and epoch
// milliseconds. Unparseable or empty values yield nil.
func ParseDate(raw json.RawMessage) *time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] != '"' {
		ms, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil
		}
		t := time.UnixMilli(int64(ms)).UTC()
		return &t
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// ParseSubjects accepts a list of strings, a list of scalars or a single
// ";"-separated string.
func ParseSubjects(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []string{}
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if v == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		out := []string{}
		for _, part := range strings.Split(s, ";") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return []string{}
}

func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
