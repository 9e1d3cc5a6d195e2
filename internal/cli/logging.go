package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"tradelink/internal/config"
	"tradelink/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
// Credential secrets never appear; only venue and flags are listed.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DSN != "")),
		fmt.Sprintf("Redis: %s", presence(strings.TrimSpace(cfg.Redis.Host) != "")),
		fmt.Sprintf("Shared rate limit: %t", cfg.RateLimit.Shared),
		sectionLine("Exchange config", cfg.Exchange),
		sectionLine("Manager config", cfg.Manager),
		sectionLine("Executor config", cfg.Executor),
	}

	if ex := cfg.ExchangeConfig(); ex != nil {
		for _, id := range ex.IDs() {
			p := ex.Credentials[id]
			if p == nil {
				continue
			}
			lines = append(lines, fmt.Sprintf("Credential %s: venue=%s sandbox=%t auto_connect=%t",
				id, p.Venue, p.Sandbox, p.AutoConnect))
		}
	}
	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
