package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

var _ ports.ConfigLoader = (*FileConfigLoader)(nil)

// Environment variables overriding the configuration file.
const (
	EnvStoreDriver       = "SCORING_STORE_DRIVER"
	EnvMySQLDSN          = "SCORING_MYSQL_DSN"
	EnvNATSURL           = "SCORING_NATS_URL"
	EnvVarianceThreshold = "SCORING_VARIANCE_THRESHOLD"
	EnvDeadlineFallback  = "SCORING_DEADLINE_FALLBACK"
	EnvCombination       = "SCORING_COMBINATION_METHOD"
	EnvWeightPolicy      = "SCORING_WEIGHT_POLICY"
)

// FileConfigLoader builds an EngineConfig from the defaults, an optional
// YAML file and SCORING_* environment overrides. Process environment wins
// over .env files.
type FileConfigLoader struct {
	path     string
	envFiles []string
	lookup   func(string) (string, bool)
	logger   *slog.Logger
	validate *validator.Validate
	debounce time.Duration
}

// LoaderOption configures a FileConfigLoader.
type LoaderOption func(*FileConfigLoader)

// WithEnvFiles sets the .env files read for overrides. Missing files are
// skipped.
func WithEnvFiles(files ...string) LoaderOption {
	return func(l *FileConfigLoader) { l.envFiles = files }
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(lookup func(string) (string, bool)) LoaderOption {
	return func(l *FileConfigLoader) { l.lookup = lookup }
}

// WithLoaderLogger sets the logger used for reload reports.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *FileConfigLoader) { l.logger = logger }
}

// WithDebounce sets how long Watch waits for a burst of file events to
// settle before reloading.
func WithDebounce(d time.Duration) LoaderOption {
	return func(l *FileConfigLoader) { l.debounce = d }
}

// NewFileConfigLoader creates a loader for path. An empty path loads the
// defaults plus environment overrides.
func NewFileConfigLoader(path string, opts ...LoaderOption) (*FileConfigLoader, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	l := &FileConfigLoader{
		path:     path,
		envFiles: []string{".env"},
		lookup:   os.LookupEnv,
		logger:   slog.Default(),
		validate: v,
		debounce: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load implements ports.ConfigLoader. config must be an *EngineConfig.
func (l *FileConfigLoader) Load(ctx context.Context, config any) error {
	target, err := engineConfig(config)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg, err := l.load()
	if err != nil {
		return err
	}
	*target = cfg
	return nil
}

// Watch implements ports.ConfigLoader. It reloads after the file changes and
// hands each valid configuration to callback as a new *EngineConfig; config
// itself is only type-checked, never written, so callers own the swap.
// Invalid edits are logged and skipped.
func (l *FileConfigLoader) Watch(ctx context.Context, config any, callback func(any)) (func(), error) {
	if _, err := engineConfig(config); err != nil {
		return nil, err
	}
	if l.path == "" {
		return nil, ports.NewConfigError("path", ports.ErrConfigNotFound)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ports.NewConfigError(l.path, err)
	}
	// Editors replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		_ = watcher.Close()
		return nil, ports.NewConfigError(l.path, err)
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go l.watch(ctx, watcher, callback, done, exited)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			<-exited
			_ = watcher.Close()
		})
	}
	return stop, nil
}

func (l *FileConfigLoader) watch(
	ctx context.Context,
	watcher *fsnotify.Watcher,
	callback func(any),
	done <-chan struct{},
	exited chan<- struct{},
) {
	defer close(exited)
	target := filepath.Clean(l.path)
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(l.debounce)
			} else {
				timer.Reset(l.debounce)
			}
			timerC = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("config watcher error", "path", l.path, "error", err)
		case <-timerC:
			timerC = nil
			cfg, err := l.load()
			if err != nil {
				l.logger.Warn("config reload rejected", "path", l.path, "error", err)
				continue
			}
			l.logger.Info("config reloaded", "path", l.path)
			callback(&cfg)
		}
	}
}

func (l *FileConfigLoader) load() (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if errors.Is(err, fs.ErrNotExist) {
			return EngineConfig{}, ports.NewConfigError(l.path, ports.ErrConfigNotFound)
		}
		if err != nil {
			return EngineConfig{}, ports.NewConfigError(l.path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return EngineConfig{}, ports.NewConfigError(l.path, fmt.Errorf("failed to parse config YAML: %w", err))
		}
	}
	if err := l.applyEnvironment(&cfg); err != nil {
		return EngineConfig{}, err
	}
	if err := normalize(&cfg); err != nil {
		return EngineConfig{}, ports.NewConfigError("engine", err)
	}
	if err := l.validate.Struct(&cfg); err != nil {
		return EngineConfig{}, ports.NewConfigError("engine", fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err))
	}
	return cfg, nil
}

func (l *FileConfigLoader) applyEnvironment(cfg *EngineConfig) error {
	dotenv := make(map[string]string)
	for _, f := range l.envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		vals, err := godotenv.Read(f)
		if err != nil {
			return ports.NewConfigError(f, err)
		}
		for k, v := range vals {
			if _, seen := dotenv[k]; !seen {
				dotenv[k] = v
			}
		}
	}
	get := func(key string) (string, bool) {
		if v, ok := l.lookup(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok && v != ""
	}

	if v, ok := get(EnvStoreDriver); ok {
		cfg.Store.Driver = v
	}
	if v, ok := get(EnvMySQLDSN); ok {
		cfg.Store.MySQLDSN = v
	}
	if v, ok := get(EnvNATSURL); ok {
		cfg.Notify.URL = v
	}
	if v, ok := get(EnvVarianceThreshold); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return ports.NewConfigError(EnvVarianceThreshold, err)
		}
		cfg.Reconciliation.VarianceThreshold = f
	}
	if v, ok := get(EnvDeadlineFallback); ok {
		cfg.Reconciliation.Fallback = domain.DeadlineFallback(v)
	}
	if v, ok := get(EnvCombination); ok {
		cfg.Combination.Method = domain.CombinationMethod(v)
	}
	if v, ok := get(EnvWeightPolicy); ok {
		cfg.WeightPolicy = domain.WeightPolicy(v)
	}
	return nil
}

// normalize canonicalizes the enum fields so near-miss spellings get a
// suggestion instead of a bare tag failure.
func normalize(cfg *EngineConfig) error {
	var err error
	if cfg.WeightPolicy, err = parseTyped[domain.WeightPolicy]("weight policy", string(cfg.WeightPolicy),
		[]string{string(domain.WeightPolicyManual), string(domain.WeightPolicyAutoRedistribute)}); err != nil {
		return err
	}
	if cfg.Combination.Method, err = parseTyped[domain.CombinationMethod]("combination method",
		string(cfg.Combination.Method), domain.CombinationMethodValues()); err != nil {
		return err
	}
	if cfg.Reconciliation.Fallback, err = ParseFallback(string(cfg.Reconciliation.Fallback)); err != nil {
		return err
	}
	if cfg.Store.Driver, err = ParseEnum("store driver", cfg.Store.Driver, []string{DriverMemory, DriverMySQL}); err != nil {
		return err
	}
	return nil
}

func engineConfig(config any) (*EngineConfig, error) {
	cfg, ok := config.(*EngineConfig)
	if !ok || cfg == nil {
		return nil, ports.NewConfigError("config", fmt.Errorf("%w: want *EngineConfig, got %T", domain.ErrInvalidConfiguration, config))
	}
	return cfg, nil
}
