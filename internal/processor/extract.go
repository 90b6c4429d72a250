package processor

import (
	"regexp"
	"strings"
)

const (
	ementaMaxLen     = 2000
	ementaMinCut     = 1500
	relatorMaxLen    = 100
	classifyPrefixSz = 2000
)

var (
	ementaPattern = regexp.MustCompile(`(?is)\bE\s*M\s*E\s*N\s*T\s*A\b\s*[:\-–]?\s*(.*?)(?:\b(?-i:RELAT[ÓO]RIO|VOTO|DISPOSITIVO|AC[ÓO]RD[ÃA]O|VISTOS)\b|$)`)

	relatorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brelat[óo]r(?:\(a\)|a)?\s*[:\-]\s*(?:ministr[oa]\s+)?([^\n]+)`),
		regexp.MustCompile(`(?i)\bministr[oa]\s+relat[óo]r(?:\(a\)|a)?\s*[:\-]?\s*([^\n]+)`),
		regexp.MustCompile(`(?i)\b(?:o|a)\s+(?:senhor|senhora)\s+ministr[oa]\s+([^\n(]+?)\s*\(relat[óo]r`),
	}
	parenthetical = regexp.MustCompile(`\s*\([^)]*\)`)
)

// ExtractEmenta returns the headnote found after an EMENTA marker, or "".
func ExtractEmenta(text string) string {
	m := ementaPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	ementa := strings.TrimSpace(whitespaceRun.ReplaceAllString(m[1], " "))
	if len([]rune(ementa)) <= 1 {
		return ""
	}
	return capEmenta(ementa)
}

// capEmenta limits a headnote, preferring to cut at a sentence end.
func capEmenta(ementa string) string {
	r := []rune(ementa)
	if len(r) <= ementaMaxLen {
		return ementa
	}
	head := string(r[:ementaMaxLen])
	if dot := strings.LastIndex(head, "."); dot >= 0 && len([]rune(head[:dot])) > ementaMinCut {
		return head[:dot+1]
	}
	return head + "..."
}

// ExtractRelator returns the reporting justice's name, or "".
func ExtractRelator(text string) string {
	for _, re := range relatorPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		name := parenthetical.ReplaceAllString(m[1], "")
		name = strings.TrimSpace(whitespaceRun.ReplaceAllString(name, " "))
		name = strings.TrimRight(name, " .,;:-")
		if len(strings.Fields(name)) < 2 {
			continue
		}
		return truncateRunes(name, relatorMaxLen)
	}
	return ""
}
