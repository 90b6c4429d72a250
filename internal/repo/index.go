package repo

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"jurisline/internal/domain"
	"jurisline/internal/textindex"
)

const rebuildPage = 500

// IndexStatus reports whether the full-text index can serve ranked search.
// The index is stale when it was built by another analyzer version or when
// its row count differs from the record count.
func (s *Store) IndexStatus(ctx context.Context) (domain.IndexStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexStatus(ctx)
}

func (s *Store) indexStatus(ctx context.Context) (domain.IndexStatus, error) {
	var st domain.IndexStatus
	var tables int
	if err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE name='acordaos_fts'`).Scan(&tables); err != nil {
		return st, err
	}
	st.Available = tables > 0
	if err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM acordaos`).Scan(&st.Records); err != nil {
		return st, err
	}
	if !st.Available {
		st.Stale = true
		return st, nil
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM acordaos_fts`).Scan(&st.IndexedRows); err != nil {
		return st, err
	}
	var rebuilt sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT analyzer_version, rebuilt_at FROM index_state WHERE id=1`).Scan(&st.AnalyzerVersion, &rebuilt)
	if err != nil && err != sql.ErrNoRows {
		return st, err
	}
	st.RebuiltAt = parseTime(rebuilt)
	versionMismatch := st.AnalyzerVersion != textindex.Version && (st.AnalyzerVersion != "" || st.Records > 0)
	st.Stale = versionMismatch || st.IndexedRows != st.Records
	return st, nil
}

// RebuildIndex repopulates the full-text index from the stored records with
// the current analyzer.
func (s *Store) RebuildIndex(ctx context.Context) (domain.IndexStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.IndexStatus{}, fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM acordaos_fts`); err != nil {
		return domain.IndexStatus{}, fmt.Errorf("clear index: %w", err)
	}
	indexed := 0
	cursor := ""
	for {
		page, err := loadIndexPage(ctx, tx, cursor)
		if err != nil {
			return domain.IndexStatus{}, err
		}
		for _, row := range page {
			if _, err := tx.ExecContext(ctx, `INSERT INTO acordaos_fts(record_id,ementa,texto) VALUES (?,?,?)`,
				row.id, s.Analyzer.Analyze(row.ementa), s.Analyzer.Analyze(row.text)); err != nil {
				return domain.IndexStatus{}, fmt.Errorf("index %s: %w", row.id, err)
			}
			indexed++
			cursor = row.id
		}
		if len(page) < rebuildPage {
			break
		}
	}

	rebuiltAt := s.now()
	if _, err := tx.ExecContext(ctx, `INSERT INTO index_state(id,analyzer_version,indexed_rows,rebuilt_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET analyzer_version=excluded.analyzer_version, indexed_rows=excluded.indexed_rows, rebuilt_at=excluded.rebuilt_at`,
		textindex.Version, indexed, formatTime(&rebuiltAt)); err != nil {
		return domain.IndexStatus{}, fmt.Errorf("record index state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.IndexStatus{}, fmt.Errorf("commit rebuild: %w", err)
	}
	s.Log.Info("index rebuilt", zap.Int("rows", indexed), zap.String("analyzer", textindex.Version))
	return s.indexStatus(ctx)
}

type indexRow struct {
	id, ementa, text string
}

func loadIndexPage(ctx context.Context, tx *sql.Tx, after string) ([]indexRow, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, COALESCE(ementa,''), texto_integral FROM acordaos WHERE id > ? ORDER BY id LIMIT ?`, after, rebuildPage)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	defer rows.Close()
	page := make([]indexRow, 0, rebuildPage)
	for rows.Next() {
		var r indexRow
		if err := rows.Scan(&r.id, &r.ementa, &r.text); err != nil {
			return nil, err
		}
		page = append(page, r)
	}
	return page, rows.Err()
}
