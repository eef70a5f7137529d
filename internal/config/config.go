package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Rendering strategies selectable at startup.
const (
	StrategyVector   = "vector"
	StrategyTemplate = "template"
)

// PaperSize is a page size in inches.
type PaperSize struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// APIKey is a static client key. RateLimit is requests per rate_limiter.interval;
// zero means unlimited.
type APIKey struct {
	Key       string `yaml:"key"`
	RateLimit int    `yaml:"rate_limit"`
}

// Config is loaded once at startup and passed by value afterwards.
type Config struct {
	Server struct {
		Host            string        `yaml:"host"`
		Port            string        `yaml:"port"`
		Prefork         bool          `yaml:"prefork"`
		BodyLimitBytes  int           `yaml:"body_limit_bytes"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Auth struct {
		// Keys enables X-API-Key authentication when non-empty.
		Keys []APIKey `yaml:"keys"`
		// AllowAnonymous lets requests without X-API-Key through to the
		// per-client limiter.
		AllowAnonymous bool `yaml:"allow_anonymous"`
	} `yaml:"auth"`

	RateLimiter struct {
		UserLimit int           `yaml:"user_limit"`
		Interval  time.Duration `yaml:"interval"`
		RedisHost string        `yaml:"redis_host"`
		RedisDB   int           `yaml:"redis_db"`
	} `yaml:"rate_limiter"`

	Render struct {
		Strategy     string               `yaml:"strategy"`
		Paper        string               `yaml:"paper"`
		PaperSizes   map[string]PaperSize `yaml:"paper_sizes"`
		Margin       float64              `yaml:"margin"`
		DateLayout   string               `yaml:"date_layout"`
		TemplatePath string               `yaml:"template_path"`

		// FontPath and BoldFontPath replace the bundled DejaVu Sans for the
		// vector strategy, e.g. with a CJK-capable TrueType font.
		FontPath     string `yaml:"font_path"`
		BoldFontPath string `yaml:"bold_font_path"`

		MaxRetries     int           `yaml:"max_retries"`
		RetryDelay     time.Duration `yaml:"retry_delay"`
		AttemptTimeout time.Duration `yaml:"attempt_timeout"`
		PageTimeout    time.Duration `yaml:"page_timeout"`
		SettleDelay    time.Duration `yaml:"settle_delay"`

		ChromePath      string `yaml:"chrome_path"`
		ChromeNoSandbox bool   `yaml:"chrome_no_sandbox"`
		UserDataDir     string `yaml:"user_data_dir"`
		MaxEngines      int    `yaml:"max_engines"`
	} `yaml:"render"`

	Print struct {
		Local struct {
			TempDir        string        `yaml:"temp_dir"`
			DefaultPrinter string        `yaml:"default_printer"`
			CommandTimeout time.Duration `yaml:"command_timeout"`
		} `yaml:"local"`
		Cloud struct {
			BaseURL string        `yaml:"base_url"`
			APIKey  string        `yaml:"api_key"`
			Paper   string        `yaml:"paper"`
			Source  string        `yaml:"source"`
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"cloud"`
	} `yaml:"print"`
}

// Paper returns the configured page size for the active preset.
func (c Config) Paper() PaperSize {
	return c.Render.PaperSizes[strings.ToUpper(c.Render.Paper)]
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads the file named by CONFIG_PATH (or ./config.yaml when present),
// applies environment overrides and defaults, and panics on invalid values.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return LoadFrom(path)
}

// LoadFrom is Load for an explicit path. An empty path means environment and
// defaults only.
func LoadFrom(path string) Config {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			panic(fmt.Sprintf("config: read %s: %v", path, err))
		}
		data = b
	}
	cfg, err := Parse(data)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// Parse decodes YAML, applies environment overrides and defaults, and
// validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if !strings.HasPrefix(v, ":") {
			v = ":" + v
		}
		cfg.Server.Port = v
	}
	if v := os.Getenv("PRINTNODE_API_KEY"); v != "" {
		cfg.Print.Cloud.APIKey = v
	}
	if v := os.Getenv("RENDER_STRATEGY"); v != "" {
		cfg.Render.Strategy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	// Allow the common container env var to fill chrome_path.
	if cfg.Render.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.Render.ChromePath = v
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":3000"
	}
	if cfg.Server.BodyLimitBytes == 0 {
		cfg.Server.BodyLimitBytes = 4 * 1024 * 1024
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.RateLimiter.Interval == 0 {
		cfg.RateLimiter.Interval = time.Minute
	}

	r := &cfg.Render
	if r.Strategy == "" {
		r.Strategy = StrategyVector
	}
	r.Strategy = strings.ToLower(r.Strategy)
	if r.PaperSizes == nil {
		r.PaperSizes = map[string]PaperSize{}
	}
	for name, size := range defaultPaperSizes() {
		if _, ok := r.PaperSizes[name]; !ok {
			r.PaperSizes[name] = size
		}
	}
	if r.Paper == "" {
		r.Paper = "A4"
	}
	r.Paper = strings.ToUpper(r.Paper)
	if r.Margin == 0 {
		r.Margin = 0.4
	}
	if r.DateLayout == "" {
		r.DateLayout = "1/2/2006"
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.RetryDelay == 0 {
		r.RetryDelay = 2 * time.Second
	}
	if r.AttemptTimeout == 0 {
		r.AttemptTimeout = 60 * time.Second
	}
	if r.PageTimeout == 0 {
		r.PageTimeout = 30 * time.Second
	}
	if r.SettleDelay == 0 {
		r.SettleDelay = 200 * time.Millisecond
	}
	if r.MaxEngines == 0 {
		r.MaxEngines = 2
	}

	p := &cfg.Print
	if p.Local.CommandTimeout == 0 {
		p.Local.CommandTimeout = 30 * time.Second
	}
	if p.Cloud.BaseURL == "" {
		p.Cloud.BaseURL = "https://api.printnode.com"
	}
	p.Cloud.BaseURL = strings.TrimRight(p.Cloud.BaseURL, "/")
	if p.Cloud.Paper == "" {
		p.Cloud.Paper = "80mm x 297mm"
	}
	if p.Cloud.Source == "" {
		p.Cloud.Source = "invoice-printer"
	}
	if p.Cloud.Timeout == 0 {
		p.Cloud.Timeout = 15 * time.Second
	}
}

func defaultPaperSizes() map[string]PaperSize {
	return map[string]PaperSize{
		"A4":        {Width: 8.27, Height: 11.69},
		"LETTER":    {Width: 8.5, Height: 11},
		"RECEIPT80": {Width: 3.15, Height: 11.69},
		"RECEIPT58": {Width: 2.28, Height: 11.69},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Render.Strategy {
	case StrategyVector, StrategyTemplate:
	default:
		return fmt.Errorf("render.strategy %q must be %q or %q", c.Render.Strategy, StrategyVector, StrategyTemplate)
	}
	size, ok := c.Render.PaperSizes[c.Render.Paper]
	if !ok {
		return fmt.Errorf("render.paper %q is not defined in render.paper_sizes", c.Render.Paper)
	}
	if size.Width <= 0 || size.Height <= 0 {
		return fmt.Errorf("render.paper %q must have positive width and height", c.Render.Paper)
	}
	if c.Render.MaxRetries < 1 {
		return errors.New("render.max_retries must be at least 1")
	}
	if c.Render.RetryDelay < 0 {
		return errors.New("render.retry_delay must not be negative")
	}
	if c.Render.MaxEngines < 1 {
		return errors.New("render.max_engines must be at least 1")
	}
	if c.Render.Margin < 0 || c.Render.Margin > 2 {
		return errors.New("render.margin must be between 0 and 2 inches")
	}
	if c.RateLimiter.UserLimit < 0 {
		return errors.New("rate_limiter.user_limit must not be negative")
	}
	for i, k := range c.Auth.Keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("auth.keys[%d].key must not be empty", i)
		}
		if k.RateLimit < 0 {
			return fmt.Errorf("auth.keys[%d].rate_limit must not be negative", i)
		}
	}
	if c.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be positive")
	}
	return nil
}
