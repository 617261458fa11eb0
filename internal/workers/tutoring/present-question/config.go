// internal/workers/tutoring/present-question/config.go
package presentquestion

import (
	"time"

	"diagram-submissions/internal/common/config"
)

type Config struct {
	Enabled bool
	Timeout time.Duration
}

// LoadConfig reads workers.present-question, defaulting to enabled with a 5s timeout.
func LoadConfig(app *config.Config) *Config {
	cfg := &Config{Enabled: true, Timeout: 5 * time.Second}
	if app == nil {
		return cfg
	}
	wc, ok := app.Workers[TaskType]
	if !ok {
		return cfg
	}
	cfg.Enabled = wc.Enabled
	if timeout := config.GetDuration(wc.Timeout); timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg
}
