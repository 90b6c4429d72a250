// Package processor turns raw decisions into normalized, classified records.
// Nothing in this package performs I/O.
package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"jurisline/internal/domain"
)

const (
	DefaultTribunal = "STJ"
	DefaultSource   = "STJ-Dados-Abertos"
)

type Processor struct {
	Tribunal string
	Source   string
	Now      func() time.Time
}

func New(tribunal string) Processor {
	if tribunal == "" {
		tribunal = DefaultTribunal
	}
	return Processor{Tribunal: tribunal, Source: DefaultSource, Now: time.Now}
}

func (p Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Stats counts what a batch produced.
type Stats struct {
	Processed   int `json:"processed"`
	WithEmenta  int `json:"with_ementa"`
	WithRelator int `json:"with_relator"`
	Classified  int `json:"classified"`
	Errors      int `json:"errors"`
}

// ItemError reports a decision that could not become a record.
type ItemError struct {
	Index      int
	CaseNumber string
	Err        error
}

// HashContent returns the SHA-256 hex digest used as the dedup key.
func HashContent(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// RecordID derives the synthetic id from the content hash.
func RecordID(hash string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("acordao|"+hash)).String()
}

// Process builds a record from d. Unrecognized text is not an error: it
// yields an indeterminate outcome. The only error is a decision with no text
// at all, since a record requires a full text.
func (p Processor) Process(d Decision) (domain.Record, error) {
	raw := assembleFullText(d)
	fullText := Normalize(raw)
	if fullText == "" {
		fullText = Normalize(d.Ementa)
	}
	if fullText == "" {
		return domain.Record{}, domain.WrapError(domain.ErrInvalid, "process decision", fmt.Errorf("decision %q has no text", d.CaseNumber))
	}
	hash := HashContent(fullText)

	ementa := strings.TrimSpace(d.Ementa)
	if ementa == "" {
		ementa = ExtractEmenta(raw)
	}
	relator := strings.TrimSpace(d.Relator)
	if relator == "" {
		relator = strings.TrimSpace(d.Minister)
	}
	if relator == "" {
		relator = ExtractRelator(raw)
	}

	outcome, from := classifyRecord(fullText, ementa)

	metadata := map[string]any{
		"processed_at":    p.now().UTC().Format(time.RFC3339),
		"classified_from": from,
	}
	if id := rawString(d.ID); id != "" {
		metadata["original_id"] = id
	}
	version := d.Version
	if version == "" {
		version = "1.0"
	}
	metadata["version"] = version

	return domain.Record{
		ID:           RecordID(hash),
		CaseNumber:   strings.TrimSpace(d.CaseNumber),
		ContentHash:  hash,
		Tribunal:     p.Tribunal,
		Organ:        strings.TrimSpace(d.Organ),
		DecisionType: decisionType(fullText),
		CaseClass:    strings.TrimSpace(d.Class),
		Outcome:      outcome,
		Ementa:       ementa,
		FullText:     fullText,
		Relator:      relator,
		PublishedAt:  ParseDate(d.PublicationDate),
		JudgedAt:     ParseDate(d.JudgmentDate),
		Subjects:     ParseSubjects(d.Subjects),
		Source:       p.Source,
		SourceURL:    d.URL,
		Metadata:     metadata,
	}, nil
}

// ProcessBatch processes every decision, skipping the ones that fail.
func (p Processor) ProcessBatch(decisions []Decision) ([]domain.Record, Stats, []ItemError) {
	var (
		stats   Stats
		records = make([]domain.Record, 0, len(decisions))
		errs    []ItemError
	)
	for i, d := range decisions {
		rec, err := p.Process(d)
		if err != nil {
			stats.Errors++
			errs = append(errs, ItemError{Index: i, CaseNumber: d.CaseNumber, Err: err})
			continue
		}
		stats.Processed++
		if rec.Ementa != "" {
			stats.WithEmenta++
		}
		if rec.Relator != "" {
			stats.WithRelator++
		}
		if rec.Outcome != domain.OutcomeIndeterminate {
			stats.Classified++
		}
		records = append(records, rec)
	}
	return records, stats, errs
}

// classifyRecord classifies the operative clause, then the ementa, then a
// bounded prefix of the full text, stopping at the first conclusive result.
func classifyRecord(fullText, ementa string) (domain.Outcome, string) {
	sections := ExtractSections(fullText)
	candidates := []struct {
		name string
		text string
	}{
		{"operative", sections.Operative},
		{"ementa", ementa},
		{"prefix", truncateRunes(fullText, classifyPrefixSz)},
	}
	for _, c := range candidates {
		if c.text == "" {
			continue
		}
		if o := Classify(c.text); o != domain.OutcomeIndeterminate {
			return o, c.name
		}
	}
	return domain.OutcomeIndeterminate, "none"
}

func assembleFullText(d Decision) string {
	if strings.TrimSpace(d.FullText) != "" {
		return d.FullText
	}
	var parts []string
	if d.Ementa != "" {
		parts = append(parts, "EMENTA:\n"+d.Ementa)
	}
	if d.Relatorio != "" {
		parts = append(parts, "RELATÓRIO:\n"+d.Relatorio)
	}
	if d.Voto != "" {
		parts = append(parts, "VOTO:\n"+d.Voto)
	}
	if d.Decisao != "" {
		parts = append(parts, "DECISÃO:\n"+d.Decisao)
	}
	return strings.Join(parts, "\n\n")
}

func decisionType(fullText string) string {
	if strings.Contains(strings.ToLower(truncateRunes(fullText, 500)), "monocr") {
		return domain.DecisionTypeMonocratica
	}
	return domain.DecisionTypeAcordao
}
