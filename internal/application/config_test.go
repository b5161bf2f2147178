package application

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

// noEnv isolates a loader from the process environment.
func noEnv(string) (string, bool) { return "", false }

func envMap(vals map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestDefaultEngineConfig_Valid tests that the defaults pass validation and
// carry the documented values.
func TestDefaultEngineConfig_Valid(t *testing.T) {
	cfg := DefaultEngineConfig()
	v, err := NewValidator()
	require.NoError(t, err)
	require.NoError(t, v.Struct(&cfg))

	assert.Equal(t, domain.Scale{Min: 1, Max: 5}, cfg.Scale)
	assert.Equal(t, domain.CombineMean, cfg.Combination.Method)
	assert.Equal(t, domain.WeightPolicyManual, cfg.WeightPolicy)
	assert.Equal(t, 1.0, cfg.Reconciliation.VarianceThreshold)
	assert.Equal(t, 72*time.Hour, cfg.Reconciliation.Window)
	assert.Equal(t, domain.FallbackReportUnresolved, cfg.Reconciliation.Fallback)
	assert.Equal(t, 2.5, cfg.Anomaly.Dimensions[domain.DimensionPrice].K)
	assert.Equal(t, 3, cfg.Anomaly.Dimensions[domain.DimensionPrice].MinVendors)
	assert.Equal(t, 4.0, cfg.RAG.Green)
	assert.Equal(t, 3.0, cfg.RAG.Amber)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1, cfg.ConflictRetries)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

// TestFileConfigLoader_Load tests file parsing, environment overrides and
// validation failures.
func TestFileConfigLoader_Load(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		noFile  bool
		env     map[string]string
		dotenv  string
		wantErr func(t *testing.T, err error)
		verify  func(t *testing.T, cfg EngineConfig)
	}{
		{
			name:   "no file yields defaults",
			noFile: true,
			verify: func(t *testing.T, cfg EngineConfig) {
				assert.Equal(t, DefaultEngineConfig().Reconciliation, cfg.Reconciliation)
			},
		},
		{
			name: "empty file yields defaults",
			yaml: "",
			verify: func(t *testing.T, cfg EngineConfig) {
				assert.Equal(t, domain.WeightPolicyManual, cfg.WeightPolicy)
			},
		},
		{
			name: "file overrides",
			yaml: `
scale: {min: 0, max: 10}
combination:
  method: median
weight_policy: auto-redistribute
reconciliation:
  variance_threshold: 2.5
  window: 24h
  fallback: escalate
rag: {green: 8, amber: 6}
cache:
  ttl: 30s
`,
			verify: func(t *testing.T, cfg EngineConfig) {
				assert.Equal(t, domain.Scale{Min: 0, Max: 10}, cfg.Scale)
				assert.Equal(t, domain.CombineMedian, cfg.Combination.Method)
				assert.Equal(t, domain.WeightPolicyAutoRedistribute, cfg.WeightPolicy)
				assert.Equal(t, 2.5, cfg.Reconciliation.VarianceThreshold)
				assert.Equal(t, 24*time.Hour, cfg.Reconciliation.Window)
				assert.Equal(t, domain.FallbackEscalate, cfg.Reconciliation.Fallback)
				assert.Equal(t, 8.0, cfg.RAG.Green)
				assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
				// Untouched sections keep their defaults.
				assert.Equal(t, 1, cfg.ConflictRetries)
			},
		},
		{
			name: "environment overrides file",
			yaml: "reconciliation:\n  variance_threshold: 2\n",
			env: map[string]string{
				EnvVarianceThreshold: "1.5",
				EnvStoreDriver:       "mysql",
				EnvMySQLDSN:          "scoring:secret@tcp(db:3306)/scoring",
				EnvNATSURL:           "nats://nats:4222",
				EnvDeadlineFallback:  "median_fallback",
			},
			verify: func(t *testing.T, cfg EngineConfig) {
				assert.Equal(t, 1.5, cfg.Reconciliation.VarianceThreshold)
				assert.Equal(t, DriverMySQL, cfg.Store.Driver)
				assert.Equal(t, "scoring:secret@tcp(db:3306)/scoring", cfg.Store.MySQLDSN)
				assert.Equal(t, "nats://nats:4222", cfg.Notify.URL)
				assert.Equal(t, domain.FallbackMedian, cfg.Reconciliation.Fallback)
			},
		},
		{
			name:   "dotenv fills gaps and process environment wins",
			yaml:   "",
			dotenv: "SCORING_VARIANCE_THRESHOLD=3\nSCORING_WEIGHT_POLICY=auto_redistribute\n",
			env:    map[string]string{EnvVarianceThreshold: "2"},
			verify: func(t *testing.T, cfg EngineConfig) {
				assert.Equal(t, 2.0, cfg.Reconciliation.VarianceThreshold)
				assert.Equal(t, domain.WeightPolicyAutoRedistribute, cfg.WeightPolicy)
			},
		},
		{
			name: "unknown field",
			yaml: "reconciliation:\n  threshold: 2\n",
			wantErr: func(t *testing.T, err error) {
				var cerr *ports.ConfigError
				require.ErrorAs(t, err, &cerr)
				assert.Contains(t, err.Error(), "field threshold not found")
			},
		},
		{
			name: "zero variance threshold",
			yaml: "reconciliation:\n  variance_threshold: 0\n",
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
				assert.Contains(t, err.Error(), "VarianceThreshold")
			},
		},
		{
			name: "inverted scale",
			yaml: "scale: {min: 5, max: 1}\n",
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
				assert.Contains(t, err.Error(), "scaleorder")
			},
		},
		{
			name: "inverted RAG thresholds",
			yaml: "rag: {green: 3, amber: 4}\n",
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
			},
		},
		{
			name: "mysql without dsn",
			yaml: "store:\n  driver: mysql\n",
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
				assert.Contains(t, err.Error(), "MySQLDSN")
			},
		},
		{
			name: "misspelled weight policy",
			yaml: "weight_policy: manaul\n",
			wantErr: func(t *testing.T, err error) {
				var verr *domain.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Contains(t, err.Error(), `did you mean "manual"?`)
			},
		},
		{
			name: "malformed environment threshold",
			yaml: "",
			env:  map[string]string{EnvVarianceThreshold: "high"},
			wantErr: func(t *testing.T, err error) {
				var cerr *ports.ConfigError
				require.ErrorAs(t, err, &cerr)
				assert.Equal(t, EnvVarianceThreshold, cerr.ConfigKey)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := ""
			if !tt.noFile {
				path = writeFile(t, dir, "engine.yaml", tt.yaml)
			}
			opts := []LoaderOption{WithLookupEnv(envMap(tt.env)), WithEnvFiles()}
			if tt.dotenv != "" {
				opts = append(opts, WithEnvFiles(writeFile(t, dir, ".env", tt.dotenv)))
			}
			loader, err := NewFileConfigLoader(path, opts...)
			require.NoError(t, err)

			var cfg EngineConfig
			err = loader.Load(context.Background(), &cfg)
			if tt.wantErr != nil {
				require.Error(t, err)
				tt.wantErr(t, err)
				return
			}
			require.NoError(t, err)
			tt.verify(t, cfg)
		})
	}
}

func TestFileConfigLoader_LoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		loader, err := NewFileConfigLoader(filepath.Join(t.TempDir(), "absent.yaml"), WithLookupEnv(noEnv), WithEnvFiles())
		require.NoError(t, err)
		var cfg EngineConfig
		assert.ErrorIs(t, loader.Load(context.Background(), &cfg), ports.ErrConfigNotFound)
	})

	t.Run("wrong target type", func(t *testing.T) {
		loader, err := NewFileConfigLoader("", WithLookupEnv(noEnv), WithEnvFiles())
		require.NoError(t, err)
		var other struct{}
		assert.ErrorIs(t, loader.Load(context.Background(), &other), domain.ErrInvalidConfiguration)
	})

	t.Run("cancelled context", func(t *testing.T) {
		loader, err := NewFileConfigLoader("", WithLookupEnv(noEnv), WithEnvFiles())
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var cfg EngineConfig
		assert.ErrorIs(t, loader.Load(ctx, &cfg), context.Canceled)
	})
}

// TestFileConfigLoader_Watch tests that a valid edit is delivered as a new
// configuration and an invalid edit is skipped.
func TestFileConfigLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.yaml", "reconciliation:\n  variance_threshold: 1\n")
	loader, err := NewFileConfigLoader(path, WithLookupEnv(noEnv), WithEnvFiles(), WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	var cfg EngineConfig
	require.NoError(t, loader.Load(context.Background(), &cfg))

	var (
		mu       sync.Mutex
		reloaded []float64
	)
	stop, err := loader.Watch(context.Background(), &cfg, func(next any) {
		mu.Lock()
		defer mu.Unlock()
		reloaded = append(reloaded, next.(*EngineConfig).Reconciliation.VarianceThreshold)
	})
	require.NoError(t, err)
	defer stop()

	writeFile(t, dir, "engine.yaml", "reconciliation:\n  variance_threshold: 0\n")
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "engine.yaml", "reconciliation:\n  variance_threshold: 2\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloaded) > 0 && reloaded[len(reloaded)-1] == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.NotContains(t, reloaded, 0.0, "invalid edits must not be delivered")
	mu.Unlock()
	assert.Equal(t, 1.0, cfg.Reconciliation.VarianceThreshold, "the watched config is never written")

	stop()
	stop()
}

func TestFileConfigLoader_WatchRequiresPath(t *testing.T) {
	loader, err := NewFileConfigLoader("", WithLookupEnv(noEnv), WithEnvFiles())
	require.NoError(t, err)
	var cfg EngineConfig
	_, err = loader.Watch(context.Background(), &cfg, func(any) {})
	assert.ErrorIs(t, err, ports.ErrConfigNotFound)
}

// TestParseEnum tests normalization and typo suggestions at the boundary.
func TestParseEnum(t *testing.T) {
	allowed := []string{"report_unresolved", "escalate", "median_fallback"}
	tests := []struct {
		name    string
		input   string
		want    string
		wantMsg string
	}{
		{name: "exact", input: "escalate", want: "escalate"},
		{name: "case and space", input: "  Escalate ", want: "escalate"},
		{name: "hyphens", input: "median-fallback", want: "median_fallback"},
		{name: "typo", input: "escalat", wantMsg: `did you mean "escalate"?`},
		{name: "unrelated", input: "average", wantMsg: "must be one of report_unresolved, escalate, median_fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEnum("fallback", tt.input, allowed)
			if tt.wantMsg != "" {
				var verr *domain.ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, "fallback", verr.Entity)
				assert.Contains(t, err.Error(), tt.wantMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypedParsers(t *testing.T) {
	p, err := ParsePriority("MUST_HAVE")
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMustHave, p)

	d, err := ParseDimension("prcie")
	assert.Empty(t, d)
	assert.ErrorContains(t, err, `did you mean "price"?`)

	s, err := ParseScopeType("vendor")
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeVendor, s)

	ph, err := ParsePhase("reconciliation")
	require.NoError(t, err)
	assert.True(t, ph.Reveals())

	rag, err := ParseRAG("Amber")
	require.NoError(t, err)
	assert.EqualValues(t, "amber", rag)

	_, err = ParseAnomalyStatus("closed")
	assert.Error(t, err)
}
