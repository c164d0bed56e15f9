package jsrun

import (
	"io/fs"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/hostwire/jsrun/internal/core"
)

// DefaultPagesDir is the registry subtree searched for page entry files.
const DefaultPagesDir = "pages"

// Config holds runtime configuration. It is read once by New; changing it
// afterwards has no effect.
type Config struct {
	// Workers is the fixed pool size. Must be at least 1.
	Workers int

	// Sources is the embedded source snapshot (pages and components),
	// typically a go:embed FS. Nil means no registered pages.
	Sources fs.FS

	// PagesDir is the subtree of Sources holding page entry files.
	// Defaults to DefaultPagesDir.
	PagesDir string

	// Functions maps a name to JavaScript/TypeScript source compiled into
	// every worker at startup and invocable with Call. Names ending in
	// .ts/.tsx are transpiled first.
	Functions map[string]string

	// ScriptTimeout bounds each job's execution. Zero means unbounded.
	// A job over the limit fails with TimeoutError and its worker is
	// replaced, since an interrupted engine is in an unknown state.
	ScriptTimeout time.Duration

	// MemoryLimitMB caps each engine VM's heap. Zero means engine default.
	MemoryLimitMB int

	// QueueDepth bounds the pending-job queue. Zero picks a generous
	// default; a full queue makes submitters wait, it never drops jobs.
	QueueDepth int

	// WatchDir, when set, loads sources from this directory instead of
	// Sources and rebuilds the snapshot on changes (development hosts).
	// Every compiled module is conservatively invalidated on any change.
	WatchDir string

	// Logger receives structured diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// validate normalizes defaults and rejects unusable configurations.
func (c *Config) validate() error {
	if c.Workers < 1 {
		return &core.ConfigError{Field: "Workers", Message: "must be at least 1"}
	}
	if c.PagesDir == "" {
		c.PagesDir = DefaultPagesDir
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// envConfig mirrors the Config fields that make sense as environment
// variables, under the JSRUN_ prefix.
type envConfig struct {
	Workers       int           `default:"4"`
	PagesDir      string        `split_words:"true" default:"pages"`
	ScriptTimeout time.Duration `split_words:"true"`
	MemoryLimitMB int           `envconfig:"MEMORY_LIMIT_MB"`
	QueueDepth    int           `split_words:"true"`
	WatchDir      string        `split_words:"true"`
}

// ConfigFromEnv builds a Config from JSRUN_* environment variables
// (JSRUN_WORKERS, JSRUN_PAGES_DIR, JSRUN_SCRIPT_TIMEOUT,
// JSRUN_MEMORY_LIMIT_MB, JSRUN_QUEUE_DEPTH, JSRUN_WATCH_DIR). Sources,
// Functions and Logger cannot come from the environment and are left unset.
func ConfigFromEnv() (Config, error) {
	var e envConfig
	if err := envconfig.Process("jsrun", &e); err != nil {
		return Config{}, &core.ConfigError{Message: "reading environment", Err: err}
	}
	return Config{
		Workers:       e.Workers,
		PagesDir:      e.PagesDir,
		ScriptTimeout: e.ScriptTimeout,
		MemoryLimitMB: e.MemoryLimitMB,
		QueueDepth:    e.QueueDepth,
		WatchDir:      e.WatchDir,
	}, nil
}
