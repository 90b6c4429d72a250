package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"jurisline/internal/domain"
	"jurisline/internal/logging"
	"jurisline/internal/textindex"
)

// DefaultBatchSize bounds how many records share one existence query and
// one transaction.
const DefaultBatchSize = 1000

var ErrNotFound = domain.ErrNotFound

// Store is the single-node record store. Writes are serialised, reads share
// a read lock.
type Store struct {
	DB        *sql.DB
	Dir       string
	BatchSize int
	Analyzer  *textindex.Analyzer
	Log       *zap.Logger
	Now       func() time.Time

	mu sync.RWMutex
}

type Options struct {
	// Dir is the directory of the database file, used for size reporting.
	Dir       string
	BatchSize int
	Logger    *zap.Logger
}

func New(conn *sql.DB, opts Options) *Store {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	log := logging.OrNop(opts.Logger)
	return &Store{
		DB:        conn,
		Dir:       opts.Dir,
		BatchSize: opts.BatchSize,
		Analyzer:  textindex.New(),
		Log:       log,
		Now:       time.Now,
	}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Store) Close() error {
	return s.DB.Close()
}

const recordColumns = `id,numero_processo,hash_conteudo,tribunal,orgao_julgador,tipo_decisao,classe_processual,resultado_julgamento,
COALESCE(ementa,''),texto_integral,COALESCE(relator,''),data_publicacao,data_julgamento,data_insercao,assuntos,fonte,COALESCE(fonte_url,''),metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.Record, error) {
	var (
		r                           domain.Record
		outcome                     string
		published, judged, inserted sql.NullString
		subjects, metadata          string
	)
	err := row.Scan(&r.ID, &r.CaseNumber, &r.ContentHash, &r.Tribunal, &r.Organ, &r.DecisionType, &r.CaseClass, &outcome,
		&r.Ementa, &r.FullText, &r.Relator, &published, &judged, &inserted, &subjects, &r.Source, &r.SourceURL, &metadata)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.Outcome = domain.Outcome(outcome)
	r.PublishedAt = parseTime(published)
	r.JudgedAt = parseTime(judged)
	r.InsertedAt = parseTime(inserted)
	r.Subjects = []string{}
	if err := json.Unmarshal([]byte(subjects), &r.Subjects); err != nil {
		return r, err
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
			return r, err
		}
	}
	return r, nil
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// GetByHash returns the record stored under a content hash.
func (s *Store) GetByHash(ctx context.Context, hash string) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanRecord(s.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM acordaos WHERE hash_conteudo=?`, hash))
}

// GetByCaseNumber returns every stored version of a case, oldest first.
func (s *Store) GetByCaseNumber(ctx context.Context, caseNumber string) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.DB.QueryContext(ctx, `SELECT `+recordColumns+` FROM acordaos WHERE numero_processo=? ORDER BY data_insercao, id`, caseNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}
