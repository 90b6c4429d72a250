package repo

import (
	"context"
	"database/sql"
	"time"

	"jurisline/internal/db"
	"jurisline/internal/domain"
)

// Statistics computes the store aggregates on demand.
func (s *Store) Statistics(ctx context.Context) (domain.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := domain.Statistics{
		ByOutcome:      make(map[domain.Outcome]int, len(domain.Outcomes)),
		ByOrgan:        map[string]int{},
		ByDecisionType: map[string]int{},
	}
	for _, o := range domain.Outcomes {
		st.ByOutcome[o] = 0
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM acordaos`).Scan(&st.Total); err != nil {
		return st, err
	}

	groups := []struct {
		query string
		add   func(key string, n int)
	}{
		{`SELECT resultado_julgamento, count(*) FROM acordaos GROUP BY resultado_julgamento`,
			func(k string, n int) { st.ByOutcome[domain.Outcome(k)] = n }},
		{`SELECT orgao_julgador, count(*) FROM acordaos GROUP BY orgao_julgador`,
			func(k string, n int) { st.ByOrgan[k] = n }},
		{`SELECT tipo_decisao, count(*) FROM acordaos GROUP BY tipo_decisao`,
			func(k string, n int) { st.ByDecisionType[k] = n }},
	}
	for _, g := range groups {
		if err := s.groupCounts(ctx, g.query, g.add); err != nil {
			return st, err
		}
	}

	var oldest, newest sql.NullString
	if err := s.DB.QueryRowContext(ctx, `SELECT MIN(data_publicacao), MAX(data_publicacao) FROM acordaos`).Scan(&oldest, &newest); err != nil {
		return st, err
	}
	st.Oldest = parseTime(oldest)
	st.Newest = parseTime(newest)

	since := s.now().AddDate(0, 0, -30).Format(time.RFC3339)
	if err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM acordaos WHERE data_insercao >= ?`, since).Scan(&st.Last30Days); err != nil {
		return st, err
	}
	if s.Dir != "" {
		st.SizeBytes = db.Size(s.Dir)
	}
	return st, nil
}

func (s *Store) groupCounts(ctx context.Context, query string, add func(string, int)) error {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		add(key, n)
	}
	return rows.Err()
}
