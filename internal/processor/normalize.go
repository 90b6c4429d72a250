package processor

import (
	"regexp"
	"strings"
)

var boilerplateLines = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^[ \t]*superior\s+tribunal\s+de\s+justi[çc]a[ \t]*$`),
	regexp.MustCompile(`(?im)^[ \t]*(primeira|segunda|terceira|quarta|quinta|sexta)\s+turma[ \t]*$`),
	regexp.MustCompile(`(?im)^[ \t]*(primeira|segunda|terceira)\s+se[çc][ãa]o[ \t]*$`),
	regexp.MustCompile(`(?im)^[ \t]*corte\s+especial[ \t]*$`),
	regexp.MustCompile(`(?im)^[ \t]*(processo|proc\.)?\s*(resp|aresp|agint|agrg|edcl|eresp|hc|rhc|rms|ms|cc)\s+n?[º°o.]*\s*[\d.\-/]+(\s*/\s*[a-z]{2})?[ \t]*$`),
	regexp.MustCompile(`(?im)^[ \t]*processo\s*(n[º°o.]*)?\s*:?\s*[\d.\-/]+[ \t]*$`),
	regexp.MustCompile(`(?im)^[ \t]*(recorrentes?|recorridos?|agravantes?|agravados?|embargantes?|embargados?|impetrantes?|impetrados?|requerentes?|requeridos?|interessad[oa]s?|advogad[oa]s?|procuradores?)\s*:[^\n]*$`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize removes boilerplate lines and collapses whitespace.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, re := range boilerplateLines {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}
