package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"jurisline/internal/app"
	"jurisline/internal/config"
	"jurisline/internal/domain"
	"jurisline/internal/downloader"
	"jurisline/internal/engine"
	"jurisline/internal/processor"
	"jurisline/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "jl",
	Short: "Jurisline CLI",
	Long: `Jurisline collects published court decisions and keeps them searchable.
- Download: monthly JSON feeds (or CKAN batch files) are staged under data/staging.
- Process: each decision is normalized, its ementa and relator extracted, and its outcome classified.
- Store: records are deduplicated by content hash into SQLite with a stemmed full-text index.
- Runs: every ingestion is audited with its counters, view them with 'jl runs list'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("JURISLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("data-dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(stagingCmd())
	rootCmd.AddCommand(ckanCmd())
}

func overrides() app.Overrides {
	return app.Overrides{
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
		DataDir:   viper.GetString("data-dir"),
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create jurisline.yml and the database in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			created := false
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				created = true
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := os.MkdirAll(ws.Config.StagingDir(), 0o755); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"config": path, "created": created, "data_dir": ws.Config.DataDir})
				}
				if created {
					fmt.Printf("wrote %s\n", path)
				}
				fmt.Printf("workspace ready (data in %s)\n", ws.Config.DataDir)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.LoadConfig(viper.GetString("workspace"), overrides())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			return yaml.NewEncoder(os.Stdout).Encode(c)
		},
	})
	var overwrite bool
	initc := &cobra.Command{
		Use:   "init",
		Short: "Write the default jurisline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	initc.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing file")
	cfg.AddCommand(initc)
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate jurisline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

type periodFlags struct {
	organs []string
	from   string
	to     string
	force  bool
}

func (p *periodFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&p.organs, "organ", nil, "organ key (repeatable; default all)")
	cmd.Flags().StringVar(&p.from, "from", "", "first month (YYYY-MM)")
	cmd.Flags().StringVar(&p.to, "to", "", "last month (YYYY-MM; default --from)")
	cmd.Flags().BoolVar(&p.force, "force", false, "download again even when staged")
	_ = cmd.MarkFlagRequired("from")
}

// period returns the first day of --from and the last day of --to.
func (p *periodFlags) period() (time.Time, time.Time, error) {
	from, err := downloader.ParseMonth(p.from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to := from
	if p.to != "" {
		if to, err = downloader.ParseMonth(p.to); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return from, to.AddDate(0, 1, -1), nil
}

func downloadCmd() *cobra.Command {
	var p periodFlags
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Stage monthly feeds without processing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := p.period()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				organs := p.organs
				if len(organs) == 0 {
					organs = ws.Config.OrganKeys()
				}
				var targets []downloader.Target
				for _, key := range organs {
					organ, err := ws.Config.Organ(key)
					if err != nil {
						return err
					}
					targets = append(targets, downloader.PlanMonthly(ws.Config.Download.BaseURL, key, organ.Path, from, to)...)
				}
				res := ws.Engine.Downloader.DownloadBatch(ctx, targets, p.force)
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable(table.Row{"File", "Status", "Size", "Checksum", "Error"})
				for _, f := range res.Files {
					size := ""
					if f.Bytes > 0 {
						size = humanize.Bytes(uint64(f.Bytes))
					}
					tw.AppendRow(table.Row{f.Filename, f.Status, size, shortHash(f.Checksum), errString(f.Err)})
				}
				tw.AppendFooter(table.Row{"", fmt.Sprintf("%d downloaded, %d skipped, %d not found, %d failed", res.Downloaded, res.Skipped, res.NotFound, res.Failed)})
				tw.Render()
				return nil
			})
		},
	}
	p.bind(cmd)
	return cmd
}

func ingestCmd() *cobra.Command {
	var (
		p    periodFlags
		kind string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Download, process and store decisions for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := p.period()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				rep, err := ws.Engine.Ingest(ctx, engine.IngestOptions{
					Organs: p.organs,
					From:   from,
					To:     to,
					Kind:   kind,
					Force:  p.force,
				})
				if err != nil && rep.Run.ID == "" {
					return err
				}
				if perr := printReport(rep); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	p.bind(cmd)
	cmd.Flags().StringVar(&kind, "kind", domain.RunKindAPI, "source kind (api, batch_file)")
	return cmd
}

func processCmd() *cobra.Command {
	var pattern string
	cmd := &cobra.Command{
		Use:   "process [file...]",
		Short: "Process and store local JSON files (default: staged files)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				paths := args
				if len(paths) == 0 {
					var err error
					if paths, err = ws.Engine.Downloader.StagingFiles(pattern); err != nil {
						return err
					}
				}
				if len(paths) == 0 {
					return fmt.Errorf("no files to process")
				}
				rep, err := ws.Engine.ProcessFiles(ctx, paths)
				if err != nil && rep.Run.ID == "" {
					return err
				}
				if perr := printReport(rep); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "*.json", "staging glob when no files are given")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		q        repo.Query
		outcome  string
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "search <term...>",
		Short: "Full-text search over stored decisions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Term = strings.Join(args, " ")
			if outcome != "" {
				q.Outcome = domain.Outcome(outcome)
				if !q.Outcome.Valid() {
					return fmt.Errorf("unknown outcome %q", outcome)
				}
			}
			var err error
			if q.From, err = parseDay(from); err != nil {
				return err
			}
			if q.To, err = parseDay(to); err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				hits, err := ws.Store.Search(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(hits)
				}
				tw := newTable(table.Row{"Processo", "Órgão", "Resultado", "Publicação", "Score", "Ementa"})
				for _, h := range hits {
					tw.AppendRow(table.Row{h.CaseNumber, h.Organ, h.Outcome, day(h.PublishedAt), fmt.Sprintf("%.3f", h.Score), clip(h.Ementa, 80)})
				}
				if len(hits) > 0 && hits[0].Mode == repo.ModeFallback {
					tw.SetCaption("index stale: substring fallback (run 'jl index rebuild')")
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.Organ, "organ", "", "orgao julgador filter")
	cmd.Flags().StringVar(&outcome, "outcome", "", "outcome filter")
	cmd.Flags().StringVar(&from, "from", "", "published on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "published on or before (YYYY-MM-DD)")
	cmd.Flags().IntVar(&q.Limit, "limit", repo.DefaultSearchLimit, "max results")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				st, err := ws.Store.Statistics(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := newTable(table.Row{"Metric", "Value"})
				tw.AppendRow(table.Row{"records", humanize.Comma(int64(st.Total))})
				tw.AppendRow(table.Row{"inserted last 30 days", humanize.Comma(int64(st.Last30Days))})
				tw.AppendRow(table.Row{"oldest publication", day(st.Oldest)})
				tw.AppendRow(table.Row{"newest publication", day(st.Newest)})
				tw.AppendRow(table.Row{"database size", humanize.Bytes(uint64(st.SizeBytes))})
				tw.AppendSeparator()
				for _, o := range domain.Outcomes {
					tw.AppendRow(table.Row{"outcome " + string(o), humanize.Comma(int64(st.ByOutcome[o]))})
				}
				tw.AppendSeparator()
				for _, k := range sortedKeys(st.ByOrgan) {
					tw.AppendRow(table.Row{"organ " + k, humanize.Comma(int64(st.ByOrgan[k]))})
				}
				for _, k := range sortedKeys(st.ByDecisionType) {
					tw.AppendRow(table.Row{"type " + k, humanize.Comma(int64(st.ByDecisionType[k]))})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func indexCmd() *cobra.Command {
	idx := &cobra.Command{Use: "index", Short: "Inspect or rebuild the full-text index"}
	idx.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show index freshness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				st, err := ws.Store.IndexStatus(ctx)
				if err != nil {
					return err
				}
				return printIndex(st)
			})
		},
	})
	idx.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index from stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				st, err := ws.Store.RebuildIndex(ctx)
				if err != nil {
					return err
				}
				return printIndex(st)
			})
		},
	})
	return idx
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Inspect ingestion runs"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Kind", "Period", "Status", "New", "Dup", "Failed", "Started", "Duration"})
				for _, r := range items {
					period := r.PeriodStart
					if r.PeriodEnd != "" && r.PeriodEnd != r.PeriodStart {
						period += ".." + r.PeriodEnd
					}
					tw.AppendRow(table.Row{
						shortHash(r.ID), r.Kind, period, r.Status,
						r.Totals.New, r.Totals.Duplicate, r.Totals.Failed + r.Totals.Errored,
						humanize.Time(r.StartedAt), (time.Duration(r.DurationMs) * time.Millisecond).String(),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "max runs")
	runs.AddCommand(list)
	return runs
}

func ckanCmd() *cobra.Command {
	c := &cobra.Command{Use: "ckan", Short: "Query the open-data portal"}
	c.AddCommand(&cobra.Command{
		Use:   "datasets",
		Short: "List the portal's dataset ids and the organs bound to them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				ids, err := ws.Engine.CKAN.ListPackages(ctx)
				if err != nil {
					return err
				}
				bound := map[string]string{}
				for _, key := range ws.Config.OrganKeys() {
					if o, err := ws.Config.Organ(key); err == nil && o.Dataset != "" {
						bound[o.Dataset] = key
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"datasets": ids, "organs": bound})
				}
				tw := newTable(table.Row{"Dataset", "Organ"})
				for _, id := range ids {
					tw.AppendRow(table.Row{id, bound[id]})
				}
				tw.Render()
				return nil
			})
		},
	})
	return c
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [file]",
		Short: "Classify the outcome of a decision text (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 1 && args[0] != "-" {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			text := string(data)
			sec := processor.ExtractSections(text)
			outcome := processor.Classify(sec.Operative)
			from := "operative"
			if outcome == domain.OutcomeIndeterminate {
				outcome, from = processor.Classify(text), "text"
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"outcome": outcome, "classified_from": from, "ementa": processor.ExtractEmenta(text)})
			}
			fmt.Printf("%s (%s)\n", outcome, from)
			return nil
		},
	}
}

func stagingCmd() *cobra.Command {
	st := &cobra.Command{Use: "staging", Short: "Manage staged payload files"}
	st.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List staged files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"), overrides())
			if err != nil {
				return err
			}
			dl := app.NewDownloader(cfg, nil)
			files, err := dl.StagingFiles("")
			if err != nil {
				return err
			}
			type entry struct {
				Name     string    `json:"name"`
				Bytes    int64     `json:"bytes"`
				Checksum string    `json:"checksum"`
				Modified time.Time `json:"modified"`
			}
			var out []entry
			for _, f := range files {
				sum, n, err := downloader.FileChecksum(f)
				if err != nil {
					return err
				}
				info, err := os.Stat(f)
				if err != nil {
					return err
				}
				out = append(out, entry{Name: filepath.Base(f), Bytes: n, Checksum: sum, Modified: info.ModTime()})
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			tw := newTable(table.Row{"File", "Size", "Checksum", "Modified"})
			for _, e := range out {
				tw.AppendRow(table.Row{e.Name, humanize.Bytes(uint64(e.Bytes)), shortHash(e.Checksum), humanize.Time(e.Modified)})
			}
			tw.Render()
			return nil
		},
	})
	var olderThan time.Duration
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove staged files older than --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"), overrides())
			if err != nil {
				return err
			}
			n, err := app.NewDownloader(cfg, nil).CleanupStaging(olderThan)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]int{"removed": n})
			}
			fmt.Printf("removed %d file(s)\n", n)
			return nil
		},
	}
	cleanup.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum file age")
	st.AddCommand(cleanup)
	return st
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"), overrides())
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func printReport(rep engine.IngestReport) error {
	if viper.GetBool("json") {
		return printJSON(rep)
	}
	tw := newTable(table.Row{"File", "Download", "Decisions", "New", "Dup", "Errored", "Error"})
	for _, f := range rep.Files {
		tw.AppendRow(table.Row{f.Filename, f.Download, f.Decisions, f.Inserted, f.Duplicate, f.Errored + f.Stats.Errors, clip(f.Error, 60)})
	}
	t := rep.Run.Totals
	tw.AppendFooter(table.Row{rep.Run.Status, fmt.Sprintf("%d ok / %d skip / %d 404 / %d fail", t.Downloaded, t.Skipped, t.NotFound, t.Failed), "", t.New, t.Duplicate, t.Errored, ""})
	tw.SetCaption("run %s in %s", rep.Run.ID, time.Duration(rep.Run.DurationMs)*time.Millisecond)
	tw.Render()
	return nil
}

func printIndex(st domain.IndexStatus) error {
	if viper.GetBool("json") {
		return printJSON(st)
	}
	rebuilt := "never"
	if st.RebuiltAt != nil {
		rebuilt = humanize.Time(*st.RebuiltAt)
	}
	tw := newTable(table.Row{"Analyzer", "Indexed", "Records", "Rebuilt", "Stale"})
	tw.AppendRow(table.Row{st.AnalyzerVersion, st.IndexedRows, st.Records, rebuilt, st.Stale})
	tw.Render()
	return nil
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return &t, nil
}

func day(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func clip(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

func shortHash(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
