package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jurisline/internal/ckan"
	"jurisline/internal/config"
	"jurisline/internal/domain"
	"jurisline/internal/downloader"
	"jurisline/internal/logging"
	"jurisline/internal/metrics"
	"jurisline/internal/processor"
	"jurisline/internal/repo"
)

// Engine chains the downloader, the processor and the store.
type Engine struct {
	Config     *config.Config
	Store      *repo.Store
	Downloader *downloader.Downloader
	CKAN       *ckan.Client
	Processor  processor.Processor
	Metrics    *metrics.Ingest
	Log        *zap.Logger
	Now        func() time.Time
}

func New(cfg *config.Config, store *repo.Store, dl *downloader.Downloader, log *zap.Logger) Engine {
	log = logging.OrNop(log)
	return Engine{
		Config:     cfg,
		Store:      store,
		Downloader: dl,
		CKAN:       ckan.New(cfg.CKAN.BaseURL, dl, log),
		Processor:  processor.New(cfg.Tribunal),
		Metrics:    metrics.NewIngest(cfg.Tribunal),
		Log:        log,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

type IngestOptions struct {
	// Organs to ingest; empty means every configured organ by priority.
	Organs []string
	From   time.Time
	To     time.Time
	// Kind is domain.RunKindAPI (monthly feed URLs) or domain.RunKindBatchFile
	// (CKAN resources).
	Kind  string
	Force bool
}

// FileReport is the outcome of one staged file.
type FileReport struct {
	Organ     string                `json:"organ,omitempty"`
	Filename  string                `json:"filename"`
	Path      string                `json:"path,omitempty"`
	Download  downloader.FileStatus `json:"download,omitempty"`
	Checksum  string                `json:"checksum,omitempty"`
	Decisions int                   `json:"decisions"`
	Stats     processor.Stats       `json:"stats"`
	Inserted  int                   `json:"inserted"`
	Duplicate int                   `json:"duplicate"`
	Errored   int                   `json:"errored"`
	Error     string                `json:"error,omitempty"`

	pub domain.Publication
}

type IngestReport struct {
	Run   domain.DownloadRun  `json:"run"`
	Files []FileReport        `json:"files"`
	Index *domain.IndexStatus `json:"index,omitempty"`
}

// Ingest plans, downloads, processes and stores one run. Failures of single
// files are counted and logged; only store failures abort the run.
func (e Engine) Ingest(ctx context.Context, opts IngestOptions) (IngestReport, error) {
	if opts.Kind == "" {
		opts.Kind = domain.RunKindAPI
	}
	if opts.Kind != domain.RunKindAPI && opts.Kind != domain.RunKindBatchFile {
		return IngestReport{}, domain.WrapError(domain.ErrInvalid, "ingest", fmt.Errorf("unknown run kind %q", opts.Kind))
	}
	if opts.To.Before(opts.From) {
		return IngestReport{}, domain.WrapError(domain.ErrInvalid, "ingest", fmt.Errorf("period end before start"))
	}
	organs := opts.Organs
	if len(organs) == 0 {
		organs = e.Config.OrganKeys()
	}
	for _, key := range organs {
		if _, err := e.Config.Organ(key); err != nil {
			return IngestReport{}, domain.WrapError(domain.ErrInvalid, "ingest", err)
		}
	}

	run, err := e.Store.StartRun(ctx, domain.DownloadRun{
		Tribunal:    e.Config.Tribunal,
		Organ:       strings.Join(organs, ","),
		PeriodStart: opts.From.Format("2006-01-02"),
		PeriodEnd:   opts.To.Format("2006-01-02"),
		Kind:        opts.Kind,
	})
	if err != nil {
		return IngestReport{}, err
	}
	log := e.Log.With(zap.String("run_id", run.ID), zap.String("kind", opts.Kind))
	log.Info("ingest started", zap.Strings("organs", organs), zap.String("from", run.PeriodStart), zap.String("to", run.PeriodEnd))

	targets, planFailures := e.plan(ctx, log, organs, opts)
	run.Totals.Failed += planFailures

	batch := e.Downloader.DownloadBatch(ctx, targets, opts.Force)
	run.Totals.Downloaded = batch.Downloaded
	run.Totals.Skipped = batch.Skipped
	run.Totals.NotFound = batch.NotFound
	run.Totals.Failed += batch.Failed

	report := IngestReport{Files: make([]FileReport, len(batch.Files))}
	var staged []int
	for i, f := range batch.Files {
		e.Metrics.ObserveFile(string(f.Status))
		report.Files[i] = FileReport{Organ: f.Organ, Filename: f.Filename, Path: f.Path, Download: f.Status, Checksum: f.Checksum, pub: f.Publication(e.Config.Tribunal)}
		if f.Err != nil {
			report.Files[i].Error = f.Err.Error()
		}
		if f.Status == downloader.FileDownloaded || f.Status == downloader.FileSkipped {
			staged = append(staged, i)
		}
	}

	procErr := e.processStaged(ctx, log, report.Files, staged, &run.Totals)
	return e.finish(ctx, log, run, report, procErr)
}

// ProcessFiles ingests files already on disk, skipping the download step.
func (e Engine) ProcessFiles(ctx context.Context, paths []string) (IngestReport, error) {
	run, err := e.Store.StartRun(ctx, domain.DownloadRun{
		Tribunal: e.Config.Tribunal,
		Kind:     domain.RunKindBatchFile,
	})
	if err != nil {
		return IngestReport{}, err
	}
	log := e.Log.With(zap.String("run_id", run.ID), zap.String("kind", run.Kind))
	report := IngestReport{Files: make([]FileReport, len(paths))}
	idx := make([]int, len(paths))
	for i, p := range paths {
		report.Files[i] = FileReport{Filename: filepath.Base(p), Path: p, Checksum: e.checksum(p), pub: domain.Publication{Tribunal: e.Config.Tribunal, Path: p}}
		idx[i] = i
	}
	procErr := e.processStaged(ctx, log, report.Files, idx, &run.Totals)
	return e.finish(ctx, log, run, report, procErr)
}

// checksum reuses the digest recorded by this session's downloads and hashes
// the file otherwise.
func (e Engine) checksum(path string) string {
	if e.Downloader != nil {
		if sum, ok := e.Downloader.Checksum(filepath.Base(path)); ok {
			return sum
		}
	}
	sum, _, err := downloader.FileChecksum(path)
	if err != nil {
		return ""
	}
	return sum
}

func (e Engine) plan(ctx context.Context, log *zap.Logger, organs []string, opts IngestOptions) ([]downloader.Target, int) {
	var (
		targets  []downloader.Target
		failures int
	)
	for _, key := range organs {
		organ, _ := e.Config.Organ(key)
		if opts.Kind == domain.RunKindAPI {
			targets = append(targets, downloader.PlanMonthly(e.Config.Download.BaseURL, key, organ.Path, opts.From, opts.To)...)
			continue
		}
		if organ.Dataset == "" {
			log.Warn("organ has no dataset; skipping", zap.String("organ", key))
			continue
		}
		pkg, err := e.CKAN.Package(ctx, organ.Dataset)
		if err != nil {
			log.Error("ckan package lookup failed", zap.String("organ", key), zap.Error(err))
			failures++
			continue
		}
		resources := ckan.ResourcesInRange(ckan.JSONResources(pkg), opts.From, opts.To)
		targets = append(targets, ckan.Targets(key, resources)...)
	}
	return targets, failures
}

// processStaged decodes, processes and inserts the files at idx with a
// bounded worker pool. It returns an error only when the store fails.
func (e Engine) processStaged(ctx context.Context, log *zap.Logger, files []FileReport, idx []int, totals *domain.RunTotals) error {
	workers := e.Config.Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, i := range idx {
		i := i
		g.Go(func() error {
			fr := &files[i]
			err := e.processFile(gctx, log, fr)
			mu.Lock()
			defer mu.Unlock()
			totals.New += fr.Inserted
			totals.Duplicate += fr.Duplicate
			totals.Errored += fr.Errored + fr.Stats.Errors
			if fr.Error != "" && fr.Decisions == 0 && err == nil {
				totals.Failed++
			}
			return err
		})
	}
	return g.Wait()
}

var errStore = errors.New("store failure")

func (e Engine) processFile(ctx context.Context, log *zap.Logger, fr *FileReport) error {
	flog := log.With(zap.String("file", fr.Filename))
	pub := fr.pub
	data, err := os.ReadFile(pub.Path)
	if err != nil {
		flog.Error("read staged file", zap.Error(err))
		fr.Error = err.Error()
		return nil
	}
	pub.Body = data
	decisions, decodeErrs, err := processor.DecodeFile(pub.Body)
	if err != nil {
		flog.Error("decode staged file", zap.Error(err))
		fr.Error = err.Error()
		return nil
	}
	for _, ie := range decodeErrs {
		flog.Warn("element skipped", zap.Int("index", ie.Index), zap.Error(ie.Err))
	}
	fr.Decisions = len(decisions) + len(decodeErrs)

	records, stats, itemErrs := e.Processor.ProcessBatch(decisions)
	stats.Errors += len(decodeErrs)
	fr.Stats = stats
	for _, ie := range itemErrs {
		flog.Warn("decision skipped", zap.Int("index", ie.Index), zap.String("processo", ie.CaseNumber), zap.Error(ie.Err))
	}
	for i := range records {
		if records[i].SourceURL == "" {
			records[i].SourceURL = pub.SourceURL
		}
		e.Metrics.ObserveOutcome(string(records[i].Outcome))
	}

	res, err := e.Store.InsertBatch(ctx, records)
	fr.Inserted, fr.Duplicate, fr.Errored = res.Inserted, res.Duplicate, res.Errored
	e.Metrics.ObserveRecords(res.Inserted, res.Duplicate, res.Errored)
	if err != nil {
		fr.Error = err.Error()
		flog.Error("store insert failed", zap.Error(err))
		return fmt.Errorf("%w: %s: %w", errStore, fr.Filename, err)
	}
	flog.Info("file ingested",
		zap.Int("decisions", fr.Decisions),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicate", res.Duplicate),
		zap.Int("errored", res.Errored+stats.Errors))
	return nil
}

func (e Engine) finish(ctx context.Context, log *zap.Logger, run domain.DownloadRun, report IngestReport, procErr error) (IngestReport, error) {
	if procErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = procErr.Error()
	}
	// Record the run even when the caller's context was cancelled.
	finished, err := e.Store.FinishRun(context.WithoutCancel(ctx), run)
	if err != nil {
		log.Error("finish run", zap.Error(err))
		if procErr == nil {
			procErr = err
		}
	} else {
		run = finished
	}
	report.Run = run

	success := run.Status == domain.RunStatusCompleted
	finishedAt := e.now()
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}
	e.Metrics.ObserveRun(time.Duration(run.DurationMs)*time.Millisecond, success, finishedAt)
	if err := e.Metrics.WriteTextfile(e.Config.Metrics.Textfile); err != nil {
		log.Warn("write metrics textfile", zap.Error(err))
	}

	if procErr == nil && e.Config.Ingest.RebuildIndex {
		st, err := e.Store.IndexStatus(ctx)
		if err == nil && st.Stale {
			log.Info("index stale after ingest; rebuilding")
			st, err = e.Store.RebuildIndex(ctx)
		}
		if err != nil {
			log.Error("index maintenance", zap.Error(err))
		} else {
			report.Index = &st
		}
	}

	t := run.Totals
	log.Info("ingest finished",
		zap.String("status", run.Status),
		zap.Int("downloaded", t.Downloaded),
		zap.Int("skipped", t.Skipped),
		zap.Int("not_found", t.NotFound),
		zap.Int("failed", t.Failed),
		zap.Int("new", t.New),
		zap.Int("duplicate", t.Duplicate),
		zap.Int("errored", t.Errored),
		zap.Int64("duration_ms", run.DurationMs))
	return report, procErr
}
