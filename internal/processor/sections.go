package processor

import (
	"regexp"
	"strings"
)

// Sections holds the parts of a judgment located by their markers.
type Sections struct {
	Relatorio   string
	Voto        string
	Dispositivo string
	// Operative is the dispositivo, or the "ante o exposto" excerpt when the
	// dispositivo marker is missing.
	Operative string
}

const operativeExcerptLimit = 1500

var (
	markerRelatorio   = regexp.MustCompile(`(?i)\brelat[óo]rio\b`)
	markerVoto        = regexp.MustCompile(`(?i)\bvoto\b`)
	markerDispositivo = regexp.MustCompile(`(?i)\bdispositivo\b`)
	anteOExposto      = regexp.MustCompile(`[Aa]nte o exposto`)
	sectionLead       = regexp.MustCompile(`^[\s:.\-–]+`)
)

type marker struct {
	start, end int
	found      bool
}

func locate(re *regexp.Regexp, text string) marker {
	loc := re.FindStringIndex(text)
	if loc == nil {
		return marker{}
	}
	return marker{start: loc[0], end: loc[1], found: true}
}

// ExtractSections slices text at the first RELATÓRIO, VOTO and DISPOSITIVO
// markers. Each section ends where the next later marker starts, or at the
// end of the text.
func ExtractSections(text string) Sections {
	ordered := []marker{
		locate(markerRelatorio, text),
		locate(markerVoto, text),
		locate(markerDispositivo, text),
	}
	slice := func(i int) string {
		m := ordered[i]
		if !m.found {
			return ""
		}
		stop := len(text)
		for _, next := range ordered[i+1:] {
			if next.found && next.start >= m.end {
				stop = next.start
				break
			}
		}
		return cleanSection(text[m.end:stop])
	}

	s := Sections{
		Relatorio:   slice(0),
		Voto:        slice(1),
		Dispositivo: slice(2),
	}
	s.Operative = s.Dispositivo
	if !ordered[2].found {
		s.Operative = anteOExpostoExcerpt(text)
	}
	return s
}

func anteOExpostoExcerpt(text string) string {
	loc := anteOExposto.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	return truncateRunes(cleanSection(text[loc[0]:]), operativeExcerptLimit)
}

func cleanSection(s string) string {
	return strings.TrimSpace(sectionLead.ReplaceAllString(s, ""))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
