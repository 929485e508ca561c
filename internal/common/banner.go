package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the settings that matter at startup
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Labnex", GetVersion())

	logger.Info().
		Str("environment", config.Environment).
		Int("browser_pool", config.Browser.PoolSize).
		Bool("headless", config.Browser.Headless).
		Int("max_concurrency", config.Runner.MaxConcurrency).
		Str("llm_provider", string(config.LLM.Provider)).
		Msg("Runner configuration")
}
