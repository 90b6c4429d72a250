package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jurisline/internal/domain"
)

// runTimeLayout has a fixed width so timestamps sort as text.
const runTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// StartRun records a run in the running state and returns it with its id
// and start time filled in.
func (s *Store) StartRun(ctx context.Context, run domain.DownloadRun) (domain.DownloadRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	if run.Kind == "" {
		run.Kind = domain.RunKindAPI
	}
	run.Status = domain.RunStatusRunning

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO download_runs(id,tribunal,orgao,period_start,period_end,kind,started_at,status) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.Tribunal, nullable(run.Organ), nullable(run.PeriodStart), nullable(run.PeriodEnd), run.Kind,
		run.StartedAt.UTC().Format(runTimeLayout), run.Status)
	if err != nil {
		return run, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// FinishRun stores the final totals and status of a run. The status is
// derived from the totals unless the run already carries a failure.
func (s *Store) FinishRun(ctx context.Context, run domain.DownloadRun) (domain.DownloadRun, error) {
	finished := s.now()
	run.FinishedAt = &finished
	run.DurationMs = finished.Sub(run.StartedAt).Milliseconds()
	if run.Status == "" || run.Status == domain.RunStatusRunning {
		run.Status = RunStatusFor(run.Totals)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := run.Totals
	res, err := s.DB.ExecContext(ctx, `UPDATE download_runs SET downloaded=?,skipped=?,new_records=?,duplicates=?,failed=?,not_found=?,errored=?,
finished_at=?,duration_ms=?,status=?,error=? WHERE id=?`,
		t.Downloaded, t.Skipped, t.New, t.Duplicate, t.Failed, t.NotFound, t.Errored,
		finished.Format(runTimeLayout), run.DurationMs, run.Status, nullable(run.Error), run.ID)
	if err != nil {
		return run, fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return run, ErrNotFound
	}
	return run, nil
}

// RunStatusFor maps run totals to a final status.
func RunStatusFor(t domain.RunTotals) string {
	bad := t.Failed + t.Errored
	good := t.Downloaded + t.Skipped + t.New + t.Duplicate + t.NotFound
	switch {
	case bad == 0:
		return domain.RunStatusCompleted
	case good > 0:
		return domain.RunStatusPartial
	default:
		return domain.RunStatusFailed
	}
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.DownloadRun, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.DB.QueryContext(ctx, `SELECT id,tribunal,COALESCE(orgao,''),COALESCE(period_start,''),COALESCE(period_end,''),kind,
downloaded,skipped,new_records,duplicates,failed,not_found,errored,started_at,finished_at,duration_ms,status,COALESCE(error,'')
FROM download_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DownloadRun
	for rows.Next() {
		var (
			r        domain.DownloadRun
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Tribunal, &r.Organ, &r.PeriodStart, &r.PeriodEnd, &r.Kind,
			&r.Totals.Downloaded, &r.Totals.Skipped, &r.Totals.New, &r.Totals.Duplicate, &r.Totals.Failed, &r.Totals.NotFound, &r.Totals.Errored,
			&started, &finished, &r.DurationMs, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		if t, err := time.Parse(runTimeLayout, started); err == nil {
			r.StartedAt = t
		}
		if finished.Valid {
			if t, err := time.Parse(runTimeLayout, finished.String); err == nil {
				r.FinishedAt = &t
			}
		}
		res = append(res, r)
	}
	return res, rows.Err()
}
