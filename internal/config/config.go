package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models jurisline.yml.
type Config struct {
	Tribunal string `yaml:"tribunal"`
	DataDir  string `yaml:"data_dir"`
	Log      struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Download Download         `yaml:"download"`
	CKAN     CKAN             `yaml:"ckan"`
	Organs   map[string]Organ `yaml:"organs"`
	Storage  struct {
		BatchSize   int           `yaml:"batch_size"`
		BusyTimeout time.Duration `yaml:"busy_timeout"`
	} `yaml:"storage"`
	Ingest struct {
		Workers      int  `yaml:"workers"`
		RebuildIndex bool `yaml:"rebuild_index"`
	} `yaml:"ingest"`
	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

type Download struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	Concurrency   int           `yaml:"concurrency"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Retry         struct {
		MaxAttempts    int           `yaml:"max_attempts"`
		InitialBackoff time.Duration `yaml:"initial_backoff"`
		MaxBackoff     time.Duration `yaml:"max_backoff"`
		Multiplier     float64       `yaml:"multiplier"`
	} `yaml:"retry"`
	Breaker struct {
		Enabled      bool          `yaml:"enabled"`
		MinRequests  uint32        `yaml:"min_requests"`
		FailureRatio float64       `yaml:"failure_ratio"`
		OpenTimeout  time.Duration `yaml:"open_timeout"`
	} `yaml:"breaker"`
}

type CKAN struct {
	BaseURL string `yaml:"base_url"`
}

// Organ is a judging body with its feed path and CKAN dataset.
type Organ struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Dataset  string `yaml:"dataset"`
	Priority int    `yaml:"priority"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tribunal == "" {
		return fmt.Errorf("config.tribunal is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config.data_dir is required")
	}
	if c.Download.BaseURL == "" {
		return fmt.Errorf("config.download.base_url is required")
	}
	if c.Download.Timeout <= 0 {
		return fmt.Errorf("config.download.timeout must be positive")
	}
	if c.Download.Concurrency <= 0 {
		return fmt.Errorf("config.download.concurrency must be positive")
	}
	if c.Download.RatePerSecond < 0 {
		return fmt.Errorf("config.download.rate_per_second must not be negative")
	}
	if c.Download.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config.download.retry.max_attempts must be positive")
	}
	if r := c.Download.Breaker.FailureRatio; c.Download.Breaker.Enabled && (r <= 0 || r > 1) {
		return fmt.Errorf("config.download.breaker.failure_ratio must be in (0,1]")
	}
	if len(c.Organs) == 0 {
		return fmt.Errorf("config.organs is required")
	}
	for key, o := range c.Organs {
		if key == "" {
			return fmt.Errorf("config.organs contains empty key")
		}
		if o.Path == "" {
			return fmt.Errorf("organ %s has empty path", key)
		}
	}
	if c.Storage.BatchSize <= 0 {
		return fmt.Errorf("config.storage.batch_size must be positive")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("config.ingest.workers must be positive")
	}
	return nil
}

// Organ returns the organ config for key.
func (c *Config) Organ(key string) (Organ, error) {
	o, ok := c.Organs[key]
	if !ok {
		return Organ{}, fmt.Errorf("unknown organ %q", key)
	}
	return o, nil
}

// OrganKeys returns organ keys sorted by priority, then key.
func (c *Config) OrganKeys() []string {
	keys := make([]string, 0, len(c.Organs))
	for k := range c.Organs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := c.Organs[keys[i]].Priority, c.Organs[keys[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func (c *Config) StagingDir() string  { return filepath.Join(c.DataDir, "staging") }
func (c *Config) DatabaseDir() string { return filepath.Join(c.DataDir, "database") }

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "jurisline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with jl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if workspace != "" && !filepath.IsAbs(cfg.DataDir) {
				cfg.DataDir = filepath.Join(workspace, cfg.DataDir)
			}
			return cfg, nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if workspace != "" && !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(workspace, cfg.DataDir)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config from raw YAML bytes over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `tribunal: STJ
data_dir: data

log:
  level: info
  format: console

download:
  base_url: https://www.stj.jus.br/sites/portalp/SiteAssets/documentos/noticias/abertos
  timeout: 30s
  concurrency: 4
  rate_per_second: 4
  retry:
    max_attempts: 3
    initial_backoff: 5s
    max_backoff: 30s
    multiplier: 2
  breaker:
    enabled: true
    min_requests: 10
    failure_ratio: 0.6
    open_timeout: 60s

ckan:
  base_url: https://dadosabertos.web.stj.jus.br

organs:
  corte_especial:
    name: Corte Especial
    path: CorteEspecial
    dataset: espelhos-de-acordaos-corte-especial
    priority: 1
  primeira_secao:
    name: Primeira Seção
    path: PrimeiraSecao
    dataset: espelhos-de-acordaos-primeira-secao
    priority: 2
  segunda_secao:
    name: Segunda Seção
    path: SegundaSecao
    dataset: espelhos-de-acordaos-segunda-secao
    priority: 2
  terceira_secao:
    name: Terceira Seção
    path: TerceiraSecao
    dataset: espelhos-de-acordaos-terceira-secao
    priority: 3
  primeira_turma:
    name: Primeira Turma
    path: PrimeiraTurma
    dataset: espelhos-de-acordaos-primeira-turma
    priority: 4
  segunda_turma:
    name: Segunda Turma
    path: SegundaTurma
    dataset: espelhos-de-acordaos-segunda-turma
    priority: 4
  terceira_turma:
    name: Terceira Turma
    path: TerceiraTurma
    dataset: espelhos-de-acordaos-terceira-turma
    priority: 4
  quarta_turma:
    name: Quarta Turma
    path: QuartaTurma
    dataset: espelhos-de-acordaos-quarta-turma
    priority: 4
  quinta_turma:
    name: Quinta Turma
    path: QuintaTurma
    dataset: espelhos-de-acordaos-quinta-turma
    priority: 4
  sexta_turma:
    name: Sexta Turma
    path: SextaTurma
    dataset: espelhos-de-acordaos-sexta-turma
    priority: 4

storage:
  batch_size: 1000
  busy_timeout: 5s

ingest:
  workers: 4
  rebuild_index: true

metrics:
  textfile: ""
`
