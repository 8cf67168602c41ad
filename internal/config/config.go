package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Site        Site        `yaml:"site"`
	LLM         LLM         `yaml:"llm"`
	Breaker     Breaker     `yaml:"breaker"`
	Costs       Costs       `yaml:"costs"`
	Budget      Budget      `yaml:"budget"`
	Discovery   Discovery   `yaml:"discovery"`
	Sources     Sources     `yaml:"sources"`
	Performance Performance `yaml:"performance"`
	Queue       Queue       `yaml:"queue"`
	Output      Output      `yaml:"output"`
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
}

// Site describes the storefront the content is written for.
type Site struct {
	Name         string `yaml:"name"`
	BaseURL      string `yaml:"base_url"`
	Brand        string `yaml:"brand"`
	AuthorCredit string `yaml:"author_credit"`
	// RSS or Atom feed of articles published outside contentpilot. They are
	// indexed for internal link suggestions.
	ExistingFeedURL string `yaml:"existing_feed_url"`
}

type LLM struct {
	Provider  string `yaml:"provider"` // anthropic, openai, ollama or mock
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	// Models per role. The reviewer runs on a cheaper model.
	StrategistModel string        `yaml:"strategist_model"`
	WriterModel     string        `yaml:"writer_model"`
	ReviewerModel   string        `yaml:"reviewer_model"`
	MaxTokens       int           `yaml:"max_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

type Breaker struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// Costs are the estimated USD prices of metered calls.
type Costs struct {
	Brief      float64 `yaml:"brief"`
	Article    float64 `yaml:"article"`
	Review     float64 `yaml:"review"`
	SerpAPI    float64 `yaml:"serpapi"`
	AgencyCost float64 `yaml:"agency_cost"`
}

type Budget struct {
	MonthlyTarget      float64 `yaml:"monthly_target"`
	WarningThreshold   float64 `yaml:"warning_threshold"`
	AlertThreshold     float64 `yaml:"alert_threshold"`
	WeeklyContentLimit int     `yaml:"weekly_content_limit"`
	SerpAPIDailyLimit  int     `yaml:"serpapi_daily_limit"`
}

type Discovery struct {
	Schedule       string   `yaml:"schedule"`
	LookbackDays   int      `yaml:"lookback_days"`
	MinImpressions int      `yaml:"min_impressions"`
	MaxCandidates  int      `yaml:"max_candidates"`
	MinScore       int      `yaml:"min_score"`
	QuickWinMaxPos int      `yaml:"quick_win_max_position"`
	ProductTerms   []string `yaml:"product_terms"`
	SampleKeywords []string `yaml:"sample_keywords"`
}

type Sources struct {
	SearchConsole   SearchConsole   `yaml:"search_console"`
	SerpAPI         SerpAPI         `yaml:"serpapi"`
	CompetitorPages CompetitorPages `yaml:"competitor_pages"`
}

// CompetitorPages controls fetching of ranking pages during brief creation.
type CompetitorPages struct {
	Enabled  bool          `yaml:"enabled"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxPages int           `yaml:"max_pages"`
}

type SearchConsole struct {
	SiteURL  string `yaml:"site_url"`
	TokenEnv string `yaml:"token_env"`
	Endpoint string `yaml:"endpoint"`
}

type SerpAPI struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Endpoint  string `yaml:"endpoint"`
	Location  string `yaml:"location"`
}

type Performance struct {
	Schedule            string  `yaml:"schedule"`
	ValuePerClick       float64 `yaml:"value_per_click"`
	UnderperformerWeeks int     `yaml:"underperformer_weeks"`
	MinImpressions      int     `yaml:"min_impressions"`
}

type Queue struct {
	Backend      string        `yaml:"backend"` // sqlite or redis
	RedisURL     string        `yaml:"redis_url"`
	Concurrency  int           `yaml:"concurrency"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBase    time.Duration `yaml:"retry_base"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port           int    `yaml:"port"`
	AdminSecretEnv string `yaml:"admin_secret_env"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for contentpilot.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "contentpilot")
}

// DataDir returns the XDG data directory for contentpilot.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "contentpilot")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/contentpilot/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'contentpilot init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration with only built-in defaults applied.
func Default() *Config {
	return defaults()
}

func defaults() *Config {
	return &Config{
		Site: Site{
			Name:         "Sustainable Catering Supplies",
			BaseURL:      "https://example.com",
			AuthorCredit: "Editorial Team",
		},
		LLM: LLM{
			Provider:        "mock",
			APIKeyEnv:       "ANTHROPIC_API_KEY",
			StrategistModel: "claude-sonnet-4",
			WriterModel:     "claude-sonnet-4",
			ReviewerModel:   "claude-haiku-4",
			MaxTokens:       4096,
			Timeout:         120 * time.Second,
		},
		Breaker: Breaker{FailureThreshold: 5, Cooldown: 15 * time.Minute},
		Costs: Costs{
			Brief:      0.50,
			Article:    2.50,
			Review:     0.30,
			SerpAPI:    1.33,
			AgencyCost: 600,
		},
		Budget: Budget{
			MonthlyTarget:      90,
			WarningThreshold:   80,
			AlertThreshold:     100,
			WeeklyContentLimit: 10,
			SerpAPIDailyLimit:  3,
		},
		Discovery: Discovery{
			Schedule:       "@daily",
			LookbackDays:   28,
			MinImpressions: 10,
			MaxCandidates:  3,
			MinScore:       30,
			QuickWinMaxPos: 20,
			ProductTerms:   []string{"cup", "container", "plate", "straw", "napkin", "packaging", "box"},
			SampleKeywords: []string{
				"eco-friendly paper cups",
				"biodegradable food containers",
				"compostable coffee cups",
			},
		},
		Sources: Sources{
			SearchConsole: SearchConsole{
				TokenEnv: "GSC_ACCESS_TOKEN",
				Endpoint: "https://www.googleapis.com/webmasters/v3",
			},
			SerpAPI: SerpAPI{
				APIKeyEnv: "SERPAPI_KEY",
				Endpoint:  "https://serpapi.com/search.json",
				Location:  "United Kingdom",
			},
			CompetitorPages: CompetitorPages{Timeout: 15 * time.Second, MaxPages: 3},
		},
		Performance: Performance{
			Schedule:            "@weekly",
			ValuePerClick:       2.50,
			UnderperformerWeeks: 8,
			MinImpressions:      50,
		},
		Queue: Queue{
			Backend:      "sqlite",
			Concurrency:  2,
			MaxAttempts:  3,
			RetryBase:    60 * time.Second,
			PollInterval: 5 * time.Second,
		},
		Server:  Server{Port: 8000, AdminSecretEnv: "ADMIN_SECRET"},
		Logging: Logging{Level: "INFO"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama", "mock", "":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Queue.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the SQLite database location inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "contentpilot.db")
}

// Secret reads the environment variable named by envName.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
