package processor

import (
	"regexp"
	"strings"

	"jurisline/internal/domain"
)

// Rule maps a pattern to the outcome it signals.
type Rule struct {
	Pattern *regexp.Regexp
	Outcome domain.Outcome
}

// Rules is evaluated top to bottom and the first match wins. Partial grant
// phrasing contains full grant phrasing, and "não conhecido" sits next to
// denial wording, so the order below must not change.
var Rules = []Rule{
	// partial grant
	{regexp.MustCompile(`parcial(mente)?\s+provid[oa]`), domain.OutcomePartialGrant},
	{regexp.MustCompile(`provid[oa]\s+(em\s+)?parte`), domain.OutcomePartialGrant},
	{regexp.MustCompile(`d(ou|ar|ei|eu|eram)(-lhe)?\s+parcial\s+provimento`), domain.OutcomePartialGrant},
	{regexp.MustCompile(`parcial\s+provimento`), domain.OutcomePartialGrant},
	{regexp.MustCompile(`provimento\s+parcial`), domain.OutcomePartialGrant},

	// inadmissible
	{regexp.MustCompile(`n[ãa]o\s+conhe[çc](o|er|ido|ida|eu)`), domain.OutcomeNotKnown},
	{regexp.MustCompile(`recurso\s+(especial\s+)?n[ãa]o\s+conhecido`), domain.OutcomeNotKnown},

	// denial
	{regexp.MustCompile(`n[ãa]o\s+provid[oa]`), domain.OutcomeDenial},
	{regexp.MustCompile(`neg(ar|o|ou|aram|a-se)(-lhe)?\s+provimento`), domain.OutcomeDenial},
	{regexp.MustCompile(`negado\s+provimento`), domain.OutcomeDenial},
	{regexp.MustCompile(`improvid[oa]`), domain.OutcomeDenial},
	{regexp.MustCompile(`desprovid[oa]`), domain.OutcomeDenial},

	// full grant
	{regexp.MustCompile(`d(ou|ar|ei|eu|eram)(-lhe)?\s+provimento`), domain.OutcomeFullGrant},
	{regexp.MustCompile(`recurso\s+(especial\s+)?(conhecido\s+e\s+)?provido`), domain.OutcomeFullGrant},
	{regexp.MustCompile(`provid[oa]\s+o\s+recurso`), domain.OutcomeFullGrant},
	{regexp.MustCompile(`\bprovid[oa]\b`), domain.OutcomeFullGrant},
}

// Classify returns the outcome signalled by text, or indeterminate.
func Classify(text string) domain.Outcome {
	if strings.TrimSpace(text) == "" {
		return domain.OutcomeIndeterminate
	}
	normalized := strings.ToLower(Normalize(text))
	for _, r := range Rules {
		if r.Pattern.MatchString(normalized) {
			return r.Outcome
		}
	}
	return domain.OutcomeIndeterminate
}
