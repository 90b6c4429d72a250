package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"jurisline/internal/domain"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 500

	ModeFTS      = "fts"
	ModeFallback = "fallback"

	// bm25 column weights for (record_id, ementa, texto).
	ementaWeight = 10.0
	textWeight   = 1.0
)

type Query struct {
	Term    string
	Organ   string
	Outcome domain.Outcome
	From    *time.Time
	To      *time.Time
	Limit   int
}

// Search ranks records by relevance to q.Term. A fresh index gives BM25
// ranking with the ementa weighted above the full text. A stale or missing
// index degrades to a substring scan ordered by ementa hit, then by
// publication date.
func (s *Store) Search(ctx context.Context, q Query) ([]domain.SearchResult, error) {
	q.Term = strings.TrimSpace(q.Term)
	if q.Term == "" {
		return nil, domain.WrapError(domain.ErrInvalid, "search", fmt.Errorf("empty search term"))
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.Limit > MaxSearchLimit {
		q.Limit = MaxSearchLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.indexStatus(ctx)
	if err != nil {
		return nil, err
	}
	match := s.Analyzer.MatchQuery(q.Term)
	if st.Available && !st.Stale && match != "" {
		return s.searchFTS(ctx, match, q)
	}
	s.Log.Debug("search fallback",
		zap.Bool("index_available", st.Available),
		zap.Bool("index_stale", st.Stale),
		zap.String("term", q.Term))
	return s.searchLike(ctx, q)
}

func filters(q Query) ([]string, []any) {
	var (
		clauses []string
		args    []any
	)
	if q.Organ != "" {
		clauses = append(clauses, "a.orgao_julgador = ?")
		args = append(args, q.Organ)
	}
	if q.Outcome != "" {
		clauses = append(clauses, "a.resultado_julgamento = ?")
		args = append(args, string(q.Outcome))
	}
	if q.From != nil {
		clauses = append(clauses, "a.data_publicacao >= ?")
		args = append(args, q.From.UTC().Format(time.RFC3339))
	}
	if q.To != nil {
		// To names a whole day.
		end := q.To.UTC().Truncate(24*time.Hour).AddDate(0, 0, 1)
		clauses = append(clauses, "a.data_publicacao < ?")
		args = append(args, end.Format(time.RFC3339))
	}
	return clauses, args
}

const resultColumns = `a.id, a.numero_processo, a.orgao_julgador, a.tipo_decisao, a.resultado_julgamento,
COALESCE(a.relator,''), a.data_publicacao, a.data_julgamento, COALESCE(a.ementa,'')`

func (s *Store) searchFTS(ctx context.Context, match string, q Query) ([]domain.SearchResult, error) {
	clauses, args := filters(q)
	where := "acordaos_fts MATCH ?"
	if len(clauses) > 0 {
		where += " AND " + strings.Join(clauses, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s, bm25(acordaos_fts, 0.0, %.1f, %.1f) AS rank
FROM acordaos_fts JOIN acordaos a ON a.id = acordaos_fts.record_id
WHERE %s
ORDER BY rank, a.data_publicacao DESC
LIMIT ?`, resultColumns, ementaWeight, textWeight, where)
	args = append([]any{match}, args...)
	args = append(args, q.Limit)
	return s.queryResults(ctx, ModeFTS, query, args, func(rank float64) float64 { return -rank })
}

func (s *Store) searchLike(ctx context.Context, q Query) ([]domain.SearchResult, error) {
	pattern := "%" + escapeLike(q.Term) + "%"
	clauses, args := filters(q)
	where := `(a.ementa LIKE ? ESCAPE '\' OR a.texto_integral LIKE ? ESCAPE '\')`
	if len(clauses) > 0 {
		where += " AND " + strings.Join(clauses, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s, CASE WHEN a.ementa LIKE ? ESCAPE '\' THEN 1.0 ELSE 0.0 END AS rank
FROM acordaos a
WHERE %s
ORDER BY rank DESC, a.data_publicacao DESC
LIMIT ?`, resultColumns, where)
	args = append([]any{pattern, pattern, pattern}, args...)
	args = append(args, q.Limit)
	return s.queryResults(ctx, ModeFallback, query, args, func(rank float64) float64 { return rank })
}

func (s *Store) queryResults(ctx context.Context, mode, query string, args []any, score func(float64) float64) ([]domain.SearchResult, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", mode, err)
	}
	defer rows.Close()
	res := []domain.SearchResult{}
	for rows.Next() {
		var (
			r                 domain.SearchResult
			outcome           string
			published, judged sql.NullString
			rank              float64
		)
		if err := rows.Scan(&r.ID, &r.CaseNumber, &r.Organ, &r.Decision, &outcome, &r.Relator, &published, &judged, &r.Ementa, &rank); err != nil {
			return nil, err
		}
		r.Outcome = domain.Outcome(outcome)
		r.PublishedAt = parseTime(published)
		r.JudgedAt = parseTime(judged)
		r.Score = score(rank)
		r.Mode = mode
		res = append(res, r)
	}
	return res, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
