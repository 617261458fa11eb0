// internal/workers/tutoring/resolve-drawing-urls/config.go
package resolvedrawingurls

import (
	"time"

	"diagram-submissions/internal/common/config"
)

type Config struct {
	Enabled bool
	Timeout time.Duration
	// MaxFiles bounds one job; the submit flow never stores more than five.
	MaxFiles int
}

func LoadConfig(app *config.Config) *Config {
	cfg := &Config{Enabled: true, Timeout: 10 * time.Second, MaxFiles: 20}
	if app == nil {
		return cfg
	}
	if wc, ok := app.Workers[TaskType]; ok {
		cfg.Enabled = wc.Enabled
		if timeout := config.GetDuration(wc.Timeout); timeout > 0 {
			cfg.Timeout = timeout
		}
	}
	return cfg
}
