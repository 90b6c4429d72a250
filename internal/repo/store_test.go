package repo_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jurisline/internal/db"
	"jurisline/internal/domain"
	"jurisline/internal/migrate"
	"jurisline/internal/processor"
	"jurisline/internal/repo"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *repo.Store {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	s := repo.New(conn, repo.Options{Dir: dir})
	s.Now = func() time.Time { return testNow }
	return s
}

func record(t *testing.T, d processor.Decision) domain.Record {
	t.Helper()
	p := processor.New("STJ")
	p.Now = func() time.Time { return testNow }
	rec, err := p.Process(d)
	require.NoError(t, err)
	return rec
}

func TestInsertBatchDedupIdempotence(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	rec := record(t, processor.Decision{CaseNumber: "REsp 1", FullText: "Recurso especial provido."})

	first, err := s.InsertBatch(ctx, []domain.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	assert.Equal(t, 0, first.Duplicate)

	second, err := s.InsertBatch(ctx, []domain.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Duplicate)
	require.Len(t, second.Records, 1)
	assert.Equal(t, repo.StatusDuplicate, second.Records[0].Status)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestInsertBatchSameTextDifferentSourceID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	text := "Ante o exposto, nego provimento ao agravo."
	a := record(t, processor.Decision{CaseNumber: "AREsp 10", FullText: text, URL: "https://a"})
	b := record(t, processor.Decision{CaseNumber: "AREsp 10-B", FullText: text, URL: "https://b"})

	_, err := s.InsertBatch(ctx, []domain.Record{a})
	require.NoError(t, err)
	res, err := s.InsertBatch(ctx, []domain.Record{b})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Duplicate)
}

func TestInsertBatchDedupesWithinBatchAndKeepsOrder(t *testing.T) {
	s := newStore(t)
	s.BatchSize = 2
	ctx := context.Background()
	a := record(t, processor.Decision{FullText: "Primeiro texto. Recurso provido."})
	b := record(t, processor.Decision{FullText: "Segundo texto. Recurso improvido."})
	bad := domain.Record{ID: "x", ContentHash: "deadbeef"}

	res, err := s.InsertBatch(ctx, []domain.Record{a, a, bad, b, b})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, res.Duplicate)
	assert.Equal(t, 1, res.Errored)

	want := []repo.InsertStatus{repo.StatusInserted, repo.StatusDuplicate, repo.StatusErrored, repo.StatusInserted, repo.StatusDuplicate}
	require.Len(t, res.Records, len(want))
	for i, st := range want {
		assert.Equal(t, i, res.Records[i].Index)
		assert.Equal(t, st, res.Records[i].Status, "record %d", i)
	}
	assert.ErrorIs(t, res.Records[2].Err, domain.ErrInvalid)
}

func TestRecordRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	pub := time.Date(2023, 5, 10, 0, 0, 0, 0, time.UTC)
	rec := record(t, processor.Decision{
		CaseNumber: "REsp 77",
		Ementa:     "Tributário. ICMS.",
		FullText:   "RELATOR: MINISTRO ANTONIO SOUZA\nAnte o exposto, dou provimento ao recurso.",
		Organ:      "SEGUNDA TURMA",
		Class:      "REsp",
		URL:        "https://example.test/77",
	})
	rec.PublishedAt = &pub
	rec.Subjects = []string{"ICMS", "Crédito"}

	_, err := s.InsertBatch(ctx, []domain.Record{rec})
	require.NoError(t, err)

	got, err := s.GetByHash(ctx, rec.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.FullText, got.FullText)
	assert.Equal(t, "ANTONIO SOUZA", got.Relator)
	assert.Equal(t, domain.OutcomeFullGrant, got.Outcome)
	assert.Equal(t, []string{"ICMS", "Crédito"}, got.Subjects)
	require.NotNil(t, got.PublishedAt)
	assert.True(t, pub.Equal(*got.PublishedAt))
	require.NotNil(t, got.InsertedAt)
	assert.True(t, testNow.Equal(*got.InsertedAt))
	assert.Equal(t, "operative", got.Metadata["classified_from"])

	byCase, err := s.GetByCaseNumber(ctx, "REsp 77")
	require.NoError(t, err)
	require.Len(t, byCase, 1)

	_, err = s.GetByHash(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatisticsAggregateRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	texts := []string{
		"Recurso especial provido.",
		"Recurso especial parcialmente provido.",
		"Agravo improvido.",
		"Não conheço do recurso.",
		"Certidão sem conteúdo.",
		"Recurso especial provido. Segundo caso.",
	}
	var recs []domain.Record
	for i, text := range texts {
		rec := record(t, processor.Decision{CaseNumber: fmt.Sprintf("P%d", i), FullText: text, Organ: "TURMA"})
		pub := time.Date(2020+i, 1, 1, 0, 0, 0, 0, time.UTC)
		rec.PublishedAt = &pub
		recs = append(recs, rec)
	}
	res, err := s.InsertBatch(ctx, recs)
	require.NoError(t, err)
	require.Equal(t, len(texts), res.Inserted)

	st, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(texts), st.Total)
	sum := 0
	for _, n := range st.ByOutcome {
		sum += n
	}
	assert.Equal(t, st.Total, sum)
	assert.Equal(t, 2, st.ByOutcome[domain.OutcomeFullGrant])
	assert.Equal(t, 1, st.ByOutcome[domain.OutcomeIndeterminate])
	assert.Equal(t, len(texts), st.ByOrgan["TURMA"])
	assert.Equal(t, len(texts), st.Last30Days)
	require.NotNil(t, st.Oldest)
	require.NotNil(t, st.Newest)
	assert.Equal(t, 2020, st.Oldest.Year())
	assert.Equal(t, 2025, st.Newest.Year())
	assert.Greater(t, st.SizeBytes, int64(0))
}

func TestSearchRanksEmentaAboveDeepText(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	filler := strings.Repeat("Considerações gerais sobre a competência do juízo e o rito processual. ", 40)
	inEmenta := record(t, processor.Decision{
		CaseNumber: "EMENTA-HIT",
		Ementa:     "Direito civil. Usucapião extraordinária reconhecida.",
		FullText:   "Discussão sobre posse. Recurso provido.",
	})
	deep := record(t, processor.Decision{
		CaseNumber: "DEEP-HIT",
		Ementa:     "Processual civil. Honorários.",
		FullText:   filler + "Menção lateral a usucapião em obiter dictum. " + filler,
	})
	recs := []domain.Record{deep, inEmenta}
	for i := 0; i < 4; i++ {
		recs = append(recs, record(t, processor.Decision{
			CaseNumber: fmt.Sprintf("OTHER-%d", i),
			Ementa:     "Tributário. Execução fiscal.",
			FullText:   fmt.Sprintf("Caso %d sobre penhora de bens. Recurso improvido.", i),
		}))
	}
	_, err := s.InsertBatch(ctx, recs)
	require.NoError(t, err)

	st, err := s.IndexStatus(ctx)
	require.NoError(t, err)
	require.False(t, st.Stale)

	hits, err := s.Search(ctx, repo.Query{Term: "usucapião"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "EMENTA-HIT", hits[0].CaseNumber)
	assert.Equal(t, "DEEP-HIT", hits[1].CaseNumber)
	assert.Equal(t, repo.ModeFTS, hits[0].Mode)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchMatchesInflections(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.InsertBatch(ctx, []domain.Record{
		record(t, processor.Decision{CaseNumber: "A", Ementa: "Recursos repetitivos.", FullText: "Julgamento de recursos repetitivos."}),
	})
	require.NoError(t, err)
	hits, err := s.Search(ctx, repo.Query{Term: "recurso"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "A", hits[0].CaseNumber)
}

func TestSearchFiltersByOrgan(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.InsertBatch(ctx, []domain.Record{
		record(t, processor.Decision{CaseNumber: "A", Organ: "PRIMEIRA TURMA", FullText: "Prescrição intercorrente reconhecida."}),
		record(t, processor.Decision{CaseNumber: "B", Organ: "TERCEIRA TURMA", FullText: "Prescrição afastada no caso concreto."}),
	})
	require.NoError(t, err)
	hits, err := s.Search(ctx, repo.Query{Term: "prescrição", Organ: "TERCEIRA TURMA"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "B", hits[0].CaseNumber)
}

func TestSearchDateWindowIncludesWholeDay(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.InsertBatch(ctx, []domain.Record{
		record(t, processor.Decision{CaseNumber: "BEFORE", PublicationDate: json.RawMessage(`"2024-01-09T23:59:00"`), FullText: "Usucapião extraordinária reconhecida."}),
		record(t, processor.Decision{CaseNumber: "AFTERNOON", PublicationDate: json.RawMessage(`"2024-01-10T15:30:00"`), FullText: "Usucapião especial urbana afastada."}),
		record(t, processor.Decision{CaseNumber: "NEXT", PublicationDate: json.RawMessage(`"2024-01-11T00:00:00"`), FullText: "Usucapião de bem público vedada."}),
	})
	require.NoError(t, err)

	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	hits, err := s.Search(ctx, repo.Query{Term: "usucapião", From: &day, To: &day})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "AFTERNOON", hits[0].CaseNumber)

	_, err = s.DB.ExecContext(ctx, `DELETE FROM acordaos_fts`)
	require.NoError(t, err)
	hits, err = s.Search(ctx, repo.Query{Term: "usucapião", From: &day, To: &day})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "AFTERNOON", hits[0].CaseNumber)
}

func TestInsertBatchConcurrentWithSearch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	const writers, perWriter = 4, 10

	batches := make([][]domain.Record, writers)
	for w := range batches {
		for i := 0; i < perWriter; i++ {
			batches[w] = append(batches[w], record(t, processor.Decision{
				CaseNumber: fmt.Sprintf("REsp %d-%d", w, i),
				FullText:   fmt.Sprintf("Execução fiscal número %d do lote %d.", i, w),
			}))
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, rec := range batches[w] {
				if _, err := s.InsertBatch(ctx, []domain.Record{rec}); err != nil {
					errs <- err
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.Search(ctx, repo.Query{Term: "execução fiscal"}); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, stats.Total)
	hits, err := s.Search(ctx, repo.Query{Term: "execução fiscal", Limit: 100})
	require.NoError(t, err)
	assert.Len(t, hits, writers*perWriter)
}

func TestSearchFallsBackWhenIndexStale(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.InsertBatch(ctx, []domain.Record{
		record(t, processor.Decision{CaseNumber: "OLD", Ementa: "Outro tema.", FullText: "Texto que cita penhora online."}),
		record(t, processor.Decision{CaseNumber: "HEAD", Ementa: "Penhora online de ativos.", FullText: "Bloqueio de valores."}),
	})
	require.NoError(t, err)

	_, err = s.DB.ExecContext(ctx, `DELETE FROM acordaos_fts`)
	require.NoError(t, err)
	st, err := s.IndexStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.Stale)

	hits, err := s.Search(ctx, repo.Query{Term: "penhora"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, repo.ModeFallback, hits[0].Mode)
	assert.Equal(t, "HEAD", hits[0].CaseNumber)

	st, err = s.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.False(t, st.Stale)
	assert.Equal(t, 2, st.IndexedRows)
	require.NotNil(t, st.RebuiltAt)

	hits, err = s.Search(ctx, repo.Query{Term: "penhora"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, repo.ModeFTS, hits[0].Mode)
}

func TestIndexStaleOnAnalyzerVersionChange(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.InsertBatch(ctx, []domain.Record{record(t, processor.Decision{FullText: "Recurso provido."})})
	require.NoError(t, err)
	_, err = s.DB.ExecContext(ctx, `UPDATE index_state SET analyzer_version='old'`)
	require.NoError(t, err)

	st, err := s.IndexStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.Stale)
	assert.Equal(t, 1, st.IndexedRows)
}

func TestSearchRejectsEmptyTerm(t *testing.T) {
	s := newStore(t)
	_, err := s.Search(context.Background(), repo.Query{Term: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestRunsRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run, err := s.StartRun(ctx, domain.DownloadRun{Tribunal: "STJ", Organ: "corte_especial", PeriodStart: "2024-01", PeriodEnd: "2024-03"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	run.Totals = domain.RunTotals{Downloaded: 3, New: 10, Duplicate: 2, NotFound: 1, Failed: 1}
	run, err = s.FinishRun(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPartial, run.Status)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, run.Totals, runs[0].Totals)
	assert.Equal(t, domain.RunKindAPI, runs[0].Kind)
	require.NotNil(t, runs[0].FinishedAt)

	_, err = s.FinishRun(ctx, domain.DownloadRun{ID: "missing", StartedAt: testNow})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunStatusFor(t *testing.T) {
	assert.Equal(t, domain.RunStatusCompleted, repo.RunStatusFor(domain.RunTotals{NotFound: 2}))
	assert.Equal(t, domain.RunStatusPartial, repo.RunStatusFor(domain.RunTotals{New: 1, Errored: 1}))
	assert.Equal(t, domain.RunStatusFailed, repo.RunStatusFor(domain.RunTotals{Failed: 2}))
}
