package domain

import "time"

// Outcome is the classified result of a judgment.
type Outcome string

const (
	OutcomeFullGrant     Outcome = "full_grant"
	OutcomePartialGrant  Outcome = "partial_grant"
	OutcomeDenial        Outcome = "denial"
	OutcomeNotKnown      Outcome = "not_known"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// Outcomes lists every outcome in reporting order.
var Outcomes = []Outcome{
	OutcomeFullGrant,
	OutcomePartialGrant,
	OutcomeDenial,
	OutcomeNotKnown,
	OutcomeIndeterminate,
}

func (o Outcome) Valid() bool {
	for _, v := range Outcomes {
		if o == v {
			return true
		}
	}
	return false
}

const (
	DecisionTypeAcordao     = "Acórdão"
	DecisionTypeMonocratica = "Decisão Monocrática"
)

// Publication is a raw payload fetched for one tribunal period.
type Publication struct {
	Tribunal  string `json:"tribunal"`
	Organ     string `json:"organ"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	Body      []byte `json:"-"`
	SourceURL string `json:"source_url"`
	Path      string `json:"path,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
}

// Record is a processed decision. Records are write-once.
type Record struct {
	ID           string         `json:"id"`
	CaseNumber   string         `json:"numero_processo"`
	ContentHash  string         `json:"hash_conteudo"`
	Tribunal     string         `json:"tribunal"`
	Organ        string         `json:"orgao_julgador"`
	DecisionType string         `json:"tipo_decisao"`
	CaseClass    string         `json:"classe_processual"`
	Outcome      Outcome        `json:"resultado_julgamento"`
	Ementa       string         `json:"ementa,omitempty"`
	FullText     string         `json:"texto_integral"`
	Relator      string         `json:"relator,omitempty"`
	PublishedAt  *time.Time     `json:"data_publicacao,omitempty"`
	JudgedAt     *time.Time     `json:"data_julgamento,omitempty"`
	InsertedAt   *time.Time     `json:"data_insercao,omitempty"`
	Subjects     []string       `json:"assuntos"`
	Source       string         `json:"fonte"`
	SourceURL    string         `json:"fonte_url,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

const (
	RunKindAPI       = "api"
	RunKindBatchFile = "batch_file"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// RunTotals are the counters of one download run.
type RunTotals struct {
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	New        int `json:"new"`
	Duplicate  int `json:"duplicate"`
	Failed     int `json:"failed"`
	NotFound   int `json:"not_found"`
	Errored    int `json:"errored"`
}

// DownloadRun is the audit record of one ingestion run.
type DownloadRun struct {
	ID          string     `json:"id"`
	Tribunal    string     `json:"tribunal"`
	Organ       string     `json:"organ,omitempty"`
	PeriodStart string     `json:"period_start,omitempty"`
	PeriodEnd   string     `json:"period_end,omitempty"`
	Kind        string     `json:"kind"`
	Totals      RunTotals  `json:"totals"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// SearchResult is one hit returned by the store.
type SearchResult struct {
	ID          string     `json:"id"`
	CaseNumber  string     `json:"numero_processo"`
	Organ       string     `json:"orgao_julgador"`
	Decision    string     `json:"tipo_decisao"`
	Outcome     Outcome    `json:"resultado_julgamento"`
	Relator     string     `json:"relator,omitempty"`
	PublishedAt *time.Time `json:"data_publicacao,omitempty"`
	JudgedAt    *time.Time `json:"data_julgamento,omitempty"`
	Ementa      string     `json:"ementa,omitempty"`
	Score       float64    `json:"score"`
	Mode        string     `json:"mode"`
}

// Statistics are aggregates computed on demand.
type Statistics struct {
	Total          int             `json:"total"`
	ByOutcome      map[Outcome]int `json:"by_outcome"`
	ByOrgan        map[string]int  `json:"by_organ"`
	ByDecisionType map[string]int  `json:"by_decision_type"`
	Oldest         *time.Time      `json:"oldest,omitempty"`
	Newest         *time.Time      `json:"newest,omitempty"`
	Last30Days     int             `json:"last_30_days"`
	SizeBytes      int64           `json:"size_bytes"`
}

// IndexStatus describes the freshness of the full-text index.
type IndexStatus struct {
	AnalyzerVersion string     `json:"analyzer_version"`
	IndexedRows     int        `json:"indexed_rows"`
	Records         int        `json:"records"`
	RebuiltAt       *time.Time `json:"rebuilt_at,omitempty"`
	Stale           bool       `json:"stale"`
	Available       bool       `json:"available"`
}
