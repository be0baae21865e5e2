// Package config provides environment-driven configuration for the
// ionify dev server. File-based config loading and CLI flag parsing
// remain the CLI wrapper's responsibility; this package only defines
// the process-wide defaults and env overrides named in spec.md §6.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ionifyjs/ionify/internal/version"
)

// Config holds ionify-dev server configuration.
type Config struct {
	// Listen is the address the dev server listens on.
	Listen string
	// ProjectRoot is the root directory modules are served relative to.
	ProjectRoot string
	// IonifyDir is the `.ionify/` directory holding graph.db and cas/.
	IonifyDir string
	// WorkerPoolSize is the number of CPU-bound transform workers.
	WorkerPoolSize int
	// MaxQueueBytes bounds in-flight transform job bytes before
	// submit() suspends.
	MaxQueueBytes int64
	// TransformCacheMax is the Transform Engine's in-memory LRU size.
	TransformCacheMax int
	// Sourcemaps enables sourcemap generation.
	Sourcemaps bool
	// Debug enables verbose logging.
	Debug bool
	// Version is the server version string.
	Version string

	// BuildConfig is the configuration canonicalized into a VersionHash
	// that namespaces all on-disk artifacts.
	BuildConfig version.Config
}

// FromEnv builds a Config from the environment variables named in
// spec.md §6, falling back to sensible dev-server defaults.
func FromEnv() *Config {
	cfg := &Config{
		Listen:            getEnv("IONIFY_LISTEN", ":3000"),
		ProjectRoot:       getEnv("IONIFY_PROJECT_ROOT", "."),
		IonifyDir:         getEnv("IONIFY_DIR", ".ionify"),
		WorkerPoolSize:    getEnvInt("IONIFY_WORKER_POOL_SIZE", 0),
		MaxQueueBytes:     getEnvInt64("IONIFY_MAX_QUEUE_BYTES", 64*1024*1024),
		TransformCacheMax: getEnvInt("IONIFY_DEV_TRANSFORM_CACHE_MAX", 5000),
		Sourcemaps:        getEnvBool("IONIFY_SOURCEMAPS", true),
		Debug:             getEnvBool("IONIFY_DEBUG", false),
		Version:           getEnv("IONIFY_VERSION", "0.1.0"),
	}

	cfg.BuildConfig = version.Config{
		ParserMode: version.ParserMode(getEnv("IONIFY_PARSER", string(version.ParserHybrid))),
		Minifier:   version.Minifier(getEnv("IONIFY_MINIFIER", string(version.MinifierAuto))),
		Plugins:    nil,
	}

	if inc, exc := os.Getenv("IONIFY_TREESHAKE_INCLUDE"), os.Getenv("IONIFY_TREESHAKE_EXCLUDE"); getEnvBool("IONIFY_TREESHAKE", false) || inc != "" || exc != "" {
		cfg.BuildConfig.Treeshake = &version.Treeshake{
			Mode:    version.TreeshakeSafe,
			Include: splitCSV(inc),
			Exclude: splitCSV(exc),
		}
	}

	if getEnvBool("IONIFY_SCOPE_HOIST", false) {
		cfg.BuildConfig.ScopeHoist = &version.ScopeHoist{
			InlineFunctions:  getEnvBool("IONIFY_SCOPE_HOIST_INLINE", false),
			ConstantFolding:  getEnvBool("IONIFY_SCOPE_HOIST_CONST", false),
			CombineVariables: getEnvBool("IONIFY_SCOPE_HOIST_COMBINE", false),
		}
	}

	return cfg
}

// FromArgs overlays explicit flag values (empty string/zero means "use
// env default") on top of FromEnv, mirroring kailab's FromArgs helper.
func FromArgs(listen, projectRoot, ionifyDir string) *Config {
	cfg := FromEnv()
	if listen != "" {
		cfg.Listen = listen
	}
	if projectRoot != "" {
		cfg.ProjectRoot = projectRoot
	}
	if ionifyDir != "" {
		cfg.IonifyDir = ionifyDir
	}
	return cfg
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
