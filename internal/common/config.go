package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // Default environment label stamped on runs that do not set one
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Browser     BrowserConfig   `toml:"browser"`
	Runner      RunnerConfig    `toml:"runner"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Suites      SuitesConfig    `toml:"suites"`
	Schedules   []ScheduleEntry `toml:"schedules"`
	LLM         LLMConfig       `toml:"llm"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Type   string       `toml:"type"` // Only "badger" is supported
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
	InMemory       bool   `toml:"in_memory"`        // Keep everything in memory (one-shot CLI runs, tests)
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// BrowserConfig controls the chromedp browser pool used by case runners
type BrowserConfig struct {
	PoolSize          int           `toml:"pool_size"`          // Number of Chrome processes; tabs are opened per case
	Headless          bool          `toml:"headless"`           // Run Chrome headless
	NoSandbox         bool          `toml:"no_sandbox"`         // Required inside most containers
	DisableGPU        bool          `toml:"disable_gpu"`        // Disable GPU acceleration
	UserAgent         string        `toml:"user_agent"`         // User agent sent by every session
	WindowWidth       int           `toml:"window_width"`       // Viewport width
	WindowHeight      int           `toml:"window_height"`      // Viewport height
	StartupTimeout    time.Duration `toml:"startup_timeout"`    // Browser startup test timeout
	InteractionWait   time.Duration `toml:"interaction_wait"`   // Presence wait per locator candidate for click/type/select/hover
	AssertionWait     time.Duration `toml:"assertion_wait"`     // Presence wait per locator candidate for assertions
	NavigationTimeout time.Duration `toml:"navigation_timeout"` // First navigation tier (DOMContentLoaded)
	NavigationRetry   time.Duration `toml:"navigation_retry"`   // Second navigation tier (full load)
}

// RunnerConfig controls run orchestration defaults
type RunnerConfig struct {
	DefaultConcurrency int           `toml:"default_concurrency"` // Used when a run request omits concurrency
	MaxConcurrency     int           `toml:"max_concurrency"`     // Upper clamp for run concurrency
	DefaultTimeout     time.Duration `toml:"default_timeout"`     // Run-level timeout when a run request omits one (0 = none)
	ScreenshotDir      string        `toml:"screenshot_dir"`      // Failure screenshots are also written here when set
}

// WebSocketConfig contains configuration for run progress streaming
type WebSocketConfig struct {
	SubscriberBuffer int    `toml:"subscriber_buffer"` // Per-subscriber event buffer
	ProgressThrottle string `toml:"progress_throttle"` // Minimum interval between progress frames per client, e.g. "250ms" (empty = no throttle)
	AuthToken        string `toml:"auth_token"`        // Shared subscriber token (empty = allow all)
}

// SuitesConfig points at test suite files loaded into storage at startup
type SuitesConfig struct {
	Dir string `toml:"dir"` // Directory containing *.toml / *.yaml suite files
}

// ScheduleEntry starts a run for a suite on a cron schedule
type ScheduleEntry struct {
	Name        string `toml:"name"`
	Schedule    string `toml:"schedule"`     // Cron format with seconds, e.g. "0 0 */6 * * *"
	ProjectRef  string `toml:"project_ref"`  // All test cases of this project are run
	Concurrency int    `toml:"concurrency"`  // 0 = runner default
	Environment string `toml:"environment"`  // Optional environment label
	Enabled     bool   `toml:"enabled"`
}

// LLMProvider represents the AI provider type used for selector assistance
type LLMProvider string

const (
	LLMProviderNone   LLMProvider = ""
	LLMProviderClaude LLMProvider = "claude"
	LLMProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures the optional AI selector assist used by runs with ai_optimization
type LLMConfig struct {
	Provider     LLMProvider   `toml:"provider"`
	ClaudeAPIKey string        `toml:"claude_api_key"`
	ClaudeModel  string        `toml:"claude_model"`
	GeminiAPIKey string        `toml:"gemini_api_key"`
	GeminiModel  string        `toml:"gemini_model"`
	Timeout      time.Duration `toml:"timeout"`
	MaxHTMLBytes int           `toml:"max_html_bytes"` // Page HTML is trimmed to this size before prompting
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Browser: BrowserConfig{
			PoolSize:          2,
			Headless:          true,
			NoSandbox:         true,
			DisableGPU:        true,
			UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Labnex/1.0",
			WindowWidth:       1366,
			WindowHeight:      768,
			StartupTimeout:    30 * time.Second,
			InteractionWait:   5 * time.Second,
			AssertionWait:     2 * time.Second,
			NavigationTimeout: 30 * time.Second,
			NavigationRetry:   60 * time.Second,
		},
		Runner: RunnerConfig{
			DefaultConcurrency: 1,
			MaxConcurrency:     20,
			DefaultTimeout:     0,
			ScreenshotDir:      "",
		},
		WebSocket: WebSocketConfig{
			SubscriberBuffer: 64,
			ProgressThrottle: "",
		},
		Suites: SuitesConfig{
			Dir: "./suites",
		},
		LLM: LLMConfig{
			Provider:     LLMProviderNone,
			ClaudeModel:  "claude-haiku-4-5",
			GeminiModel:  "gemini-2.5-flash",
			Timeout:      30 * time.Second,
			MaxHTMLBytes: 60 * 1024,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards via ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configuration values the services cannot start with
func (c *Config) Validate() error {
	if c.Storage.Type != "" && c.Storage.Type != "badger" {
		return fmt.Errorf("unsupported storage type: %s (only 'badger' is supported)", c.Storage.Type)
	}
	if c.Runner.DefaultConcurrency < 1 {
		return fmt.Errorf("runner.default_concurrency must be >= 1, got %d", c.Runner.DefaultConcurrency)
	}
	if c.Runner.MaxConcurrency < 1 {
		return fmt.Errorf("runner.max_concurrency must be >= 1, got %d", c.Runner.MaxConcurrency)
	}
	if c.Browser.PoolSize < 1 {
		return fmt.Errorf("browser.pool_size must be >= 1, got %d", c.Browser.PoolSize)
	}
	if c.WebSocket.ProgressThrottle != "" {
		if _, err := time.ParseDuration(c.WebSocket.ProgressThrottle); err != nil {
			return fmt.Errorf("invalid websocket.progress_throttle %q: %w", c.WebSocket.ProgressThrottle, err)
		}
	}

	for _, entry := range c.Schedules {
		if !entry.Enabled {
			continue
		}
		if err := ValidateSchedule(entry.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", entry.Schedule, entry.Name, err)
		}
	}

	switch c.LLM.Provider {
	case LLMProviderNone, LLMProviderClaude, LLMProviderGemini:
	default:
		return fmt.Errorf("unsupported llm.provider: %s", c.LLM.Provider)
	}

	return nil
}

// scheduleParser accepts six-field cron expressions (with seconds) and descriptors like @every 1h
var scheduleParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a cron expression in the scheduler's format
func ValidateSchedule(expr string) error {
	if expr == "" {
		return fmt.Errorf("schedule is empty")
	}
	_, err := scheduleParser.Parse(expr)
	return err
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LABNEX_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("LABNEX_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("LABNEX_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("LABNEX_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("LABNEX_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("LABNEX_LOG_OUTPUT"); output != "" {
		outputs := splitList(output)
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Browser configuration
	if poolSize := os.Getenv("LABNEX_BROWSER_POOL_SIZE"); poolSize != "" {
		if ps, err := strconv.Atoi(poolSize); err == nil {
			config.Browser.PoolSize = ps
		}
	}
	if headless := os.Getenv("LABNEX_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if noSandbox := os.Getenv("LABNEX_BROWSER_NO_SANDBOX"); noSandbox != "" {
		if ns, err := strconv.ParseBool(noSandbox); err == nil {
			config.Browser.NoSandbox = ns
		}
	}
	if userAgent := os.Getenv("LABNEX_BROWSER_USER_AGENT"); userAgent != "" {
		config.Browser.UserAgent = userAgent
	}
	if wait := os.Getenv("LABNEX_BROWSER_INTERACTION_WAIT"); wait != "" {
		if d, err := time.ParseDuration(wait); err == nil {
			config.Browser.InteractionWait = d
		}
	}

	// Runner configuration
	if concurrency := os.Getenv("LABNEX_RUNNER_DEFAULT_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Runner.DefaultConcurrency = c
		}
	}
	if maxConcurrency := os.Getenv("LABNEX_RUNNER_MAX_CONCURRENCY"); maxConcurrency != "" {
		if mc, err := strconv.Atoi(maxConcurrency); err == nil {
			config.Runner.MaxConcurrency = mc
		}
	}
	if timeout := os.Getenv("LABNEX_RUNNER_DEFAULT_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Runner.DefaultTimeout = d
		}
	}
	if dir := os.Getenv("LABNEX_RUNNER_SCREENSHOT_DIR"); dir != "" {
		config.Runner.ScreenshotDir = dir
	}

	// WebSocket configuration
	if token := os.Getenv("LABNEX_WEBSOCKET_AUTH_TOKEN"); token != "" {
		config.WebSocket.AuthToken = token
	}
	if throttle := os.Getenv("LABNEX_WEBSOCKET_PROGRESS_THROTTLE"); throttle != "" {
		config.WebSocket.ProgressThrottle = throttle
	}

	// Suites
	if dir := os.Getenv("LABNEX_SUITES_DIR"); dir != "" {
		config.Suites.Dir = dir
	}

	// LLM configuration
	if provider := os.Getenv("LABNEX_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = LLMProvider(provider)
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.LLM.ClaudeAPIKey = apiKey
	}
	if apiKey := os.Getenv("LABNEX_CLAUDE_API_KEY"); apiKey != "" {
		config.LLM.ClaudeAPIKey = apiKey // LABNEX_ prefix takes priority
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.LLM.GeminiAPIKey = apiKey
	}
	if apiKey := os.Getenv("LABNEX_GEMINI_API_KEY"); apiKey != "" {
		config.LLM.GeminiAPIKey = apiKey
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// splitList splits a comma-separated value, dropping empty entries
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
