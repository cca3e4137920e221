package testsupport

import (
	"path/filepath"
	"testing"

	"cosflow/internal/config"
)

// TestJWTSecret signs tokens in tests that exercise the HTTP surface.
const TestJWTSecret = "test-secret-0123456789abcdef"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Auth.JWTSecret = TestJWTSecret

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMergeLimits overrides the merge ceilings on the test config.
func WithMergeLimits(maxFragments, maxTotalMiB int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Merge.MaxFragments = maxFragments
		b.cfg.Merge.MaxTotalMiB = maxTotalMiB
	}
}

// WithUploadLimit overrides the per-file upload ceiling on the test config.
func WithUploadLimit(maxFileMiB int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.MaxFileMiB = maxFileMiB
	}
}

// WithNtfyTopic enables ntfy push on the test config.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
