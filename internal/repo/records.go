package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"jurisline/internal/domain"
	"jurisline/internal/textindex"
)

type InsertStatus string

const (
	StatusInserted  InsertStatus = "inserted"
	StatusDuplicate InsertStatus = "duplicate"
	StatusErrored   InsertStatus = "errored"
)

// RecordOutcome is the fate of one record passed to InsertBatch.
type RecordOutcome struct {
	Index       int          `json:"index"`
	ID          string       `json:"id"`
	ContentHash string       `json:"hash_conteudo"`
	Status      InsertStatus `json:"status"`
	Err         error        `json:"-"`
}

type InsertResult struct {
	Inserted  int             `json:"inserted"`
	Duplicate int             `json:"duplicate"`
	Errored   int             `json:"errored"`
	Records   []RecordOutcome `json:"records,omitempty"`
}

func (r *InsertResult) add(o RecordOutcome) {
	switch o.Status {
	case StatusInserted:
		r.Inserted++
	case StatusDuplicate:
		r.Duplicate++
	case StatusErrored:
		r.Errored++
	}
	r.Records = append(r.Records, o)
}

// InsertBatch stores records whose content hash is not yet present. Records
// already stored, or repeated within the batch, are counted as duplicates.
// A record that fails on its own is counted as errored and the batch goes on;
// only failures to begin or commit a transaction are returned as errors.
func (s *Store) InsertBatch(ctx context.Context, records []domain.Record) (InsertResult, error) {
	res := InsertResult{Records: make([]RecordOutcome, 0, len(records))}
	s.mu.Lock()
	defer s.mu.Unlock()

	for start := 0; start < len(records); start += s.BatchSize {
		end := min(start+s.BatchSize, len(records))
		outcomes, err := s.insertChunk(ctx, records[start:end], start)
		for _, o := range outcomes {
			res.add(o)
		}
		if err != nil {
			return res, err
		}
	}
	s.Log.Debug("insert batch",
		zap.Int("records", len(records)),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicate", res.Duplicate),
		zap.Int("errored", res.Errored))
	return res, nil
}

func (s *Store) insertChunk(ctx context.Context, chunk []domain.Record, offset int) ([]RecordOutcome, error) {
	outcomes := make([]RecordOutcome, len(chunk))
	var hashes []string
	for i, rec := range chunk {
		outcomes[i] = RecordOutcome{Index: offset + i, ID: rec.ID, ContentHash: rec.ContentHash}
		if err := validateRecord(rec); err != nil {
			outcomes[i].Status = StatusErrored
			outcomes[i].Err = err
			continue
		}
		hashes = append(hashes, rec.ContentHash)
	}

	existing, err := s.existingHashes(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("lookup existing hashes: %w", err)
	}

	seen := make(map[string]bool, len(chunk))
	var pending []int
	for i, rec := range chunk {
		if outcomes[i].Status == StatusErrored {
			continue
		}
		if existing[rec.ContentHash] || seen[rec.ContentHash] {
			outcomes[i].Status = StatusDuplicate
			continue
		}
		seen[rec.ContentHash] = true
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return outcomes, nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		markErrored(outcomes, pending, err)
		return outcomes, fmt.Errorf("begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO index_state(id,analyzer_version,indexed_rows) VALUES (1,?,0)`, textindex.Version); err != nil {
		markErrored(outcomes, pending, err)
		return outcomes, fmt.Errorf("init index state: %w", err)
	}

	insertedAt := s.now()
	for _, i := range pending {
		rec := chunk[i]
		rec.InsertedAt = &insertedAt
		status, err := s.insertOne(ctx, tx, rec)
		outcomes[i].Status = status
		outcomes[i].Err = err
		if err != nil {
			s.Log.Warn("record insert failed",
				zap.String("hash", rec.ContentHash),
				zap.String("processo", rec.CaseNumber),
				zap.Error(err))
		}
	}

	if err := tx.Commit(); err != nil {
		markErrored(outcomes, pending, err)
		return outcomes, fmt.Errorf("commit insert transaction: %w", err)
	}
	return outcomes, nil
}

// insertOne writes the row and its index entry under a savepoint so a
// failure leaves neither behind.
func (s *Store) insertOne(ctx context.Context, tx *sql.Tx, rec domain.Record) (InsertStatus, error) {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT record_insert`); err != nil {
		return StatusErrored, err
	}
	status, err := s.writeRecord(ctx, tx, rec)
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO record_insert`); rbErr != nil {
			return StatusErrored, fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
	}
	if _, relErr := tx.ExecContext(ctx, `RELEASE record_insert`); relErr != nil && err == nil {
		return StatusErrored, relErr
	}
	return status, err
}

func (s *Store) writeRecord(ctx context.Context, tx *sql.Tx, rec domain.Record) (InsertStatus, error) {
	subjects := rec.Subjects
	if subjects == nil {
		subjects = []string{}
	}
	subjectsJSON, err := json.Marshal(subjects)
	if err != nil {
		return StatusErrored, fmt.Errorf("marshal assuntos: %w", err)
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return StatusErrored, fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO acordaos(id,numero_processo,hash_conteudo,tribunal,orgao_julgador,tipo_decisao,classe_processual,resultado_julgamento,ementa,texto_integral,relator,data_publicacao,data_julgamento,data_insercao,assuntos,fonte,fonte_url,metadata)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(hash_conteudo) DO NOTHING`,
		rec.ID, rec.CaseNumber, rec.ContentHash, rec.Tribunal, rec.Organ, rec.DecisionType, rec.CaseClass, string(outcomeOf(rec)),
		nullable(rec.Ementa), rec.FullText, nullable(rec.Relator), formatTime(rec.PublishedAt), formatTime(rec.JudgedAt), formatTime(rec.InsertedAt),
		string(subjectsJSON), rec.Source, nullable(rec.SourceURL), string(metadataJSON))
	if err != nil {
		return StatusErrored, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return StatusDuplicate, nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO acordaos_fts(record_id,ementa,texto) VALUES (?,?,?)`,
		rec.ID, s.Analyzer.Analyze(rec.Ementa), s.Analyzer.Analyze(rec.FullText)); err != nil {
		return StatusErrored, fmt.Errorf("index record: %w", err)
	}
	return StatusInserted, nil
}

func (s *Store) existingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	found := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return found, nil
	}
	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = h
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	rows, err := s.DB.QueryContext(ctx, `SELECT hash_conteudo FROM acordaos WHERE hash_conteudo IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		found[h] = true
	}
	return found, rows.Err()
}

func validateRecord(rec domain.Record) error {
	switch {
	case rec.ID == "":
		return domain.WrapError(domain.ErrInvalid, "insert record", fmt.Errorf("missing id"))
	case rec.ContentHash == "":
		return domain.WrapError(domain.ErrInvalid, "insert record", fmt.Errorf("missing content hash"))
	case strings.TrimSpace(rec.FullText) == "":
		return domain.WrapError(domain.ErrInvalid, "insert record", fmt.Errorf("empty full text"))
	case rec.Outcome != "" && !rec.Outcome.Valid():
		return domain.WrapError(domain.ErrInvalid, "insert record", fmt.Errorf("unknown outcome %q", rec.Outcome))
	}
	return nil
}

func outcomeOf(rec domain.Record) domain.Outcome {
	if rec.Outcome == "" {
		return domain.OutcomeIndeterminate
	}
	return rec.Outcome
}

func markErrored(outcomes []RecordOutcome, idx []int, err error) {
	for _, i := range idx {
		outcomes[i].Status = StatusErrored
		outcomes[i].Err = err
	}
}
