package observability

import (
	"log/slog"
	"os"

	"github.com/trawlhq/trawl/internal/config"
)

// SetupLogger builds the process logger: single-line JSON on stdout, so a
// scraper spawned by the control plane feeds straight into the server's own
// log stream. Dev runs log at debug with source locations.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
