// Package config validates viper input into the typed configuration the
// worker runs on. Anything missing or malformed here is fatal at startup,
// before any ingestion begins.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/art-volia/tg-analyzer/db"
	"github.com/art-volia/tg-analyzer/pacing"
	"github.com/spf13/viper"
)

const (
	DefaultRuntimeDir  = "runtime"
	DefaultSessionName = "research_account"

	heartbeatFilename = "worker_heartbeat.json"
	pidFilename       = "worker.pid"
)

type TelegramConfig struct {
	APIID       int
	APIHash     string
	SessionDir  string
	SessionName string
}

type EventsConfig struct {
	URL      string
	Exchange string
}

func (e EventsConfig) Enabled() bool {
	return strings.TrimSpace(e.URL) != ""
}

type Config struct {
	Chats []string

	BatchSize           pacing.IntRange
	PauseBetweenBatches pacing.Range
	PauseBetweenChats   pacing.Range
	MicroPauseEveryN    pacing.IntRange
	MicroPauseMS        pacing.IntRange

	UseTakeout     bool
	IncludeDialogs bool

	RuntimeDir string
	Telegram   TelegramConfig
	DB         db.Config
	Events     EventsConfig
}

func (c Config) HeartbeatPath() string {
	return HeartbeatPathIn(c.RuntimeDir)
}

func (c Config) PIDPath() string {
	return filepath.Join(c.RuntimeDir, pidFilename)
}

// RuntimeDirFromViper resolves the runtime directory alone, for commands that
// read worker state without the full (credential-bearing) configuration.
func RuntimeDirFromViper() string {
	dir := strings.TrimSpace(viper.GetString("runtime_dir"))
	if dir == "" {
		dir = DefaultRuntimeDir
	}
	return dir
}

func HeartbeatPathIn(runtimeDir string) string {
	return filepath.Join(runtimeDir, heartbeatFilename)
}

// FromViper reads and validates the full worker configuration. The returned
// error names the offending key so the operator can fix the file.
func FromViper() (Config, error) {
	cfg := Config{
		Chats:          viper.GetStringSlice("chats"),
		UseTakeout:     viper.GetBool("behavior.use_takeout_for_bulk_exports"),
		IncludeDialogs: viper.GetBool("behavior.include_dialogs"),
		RuntimeDir:     viper.GetString("runtime_dir"),
	}
	if strings.TrimSpace(cfg.RuntimeDir) == "" {
		cfg.RuntimeDir = DefaultRuntimeDir
	}

	var err error
	if cfg.BatchSize, err = intRangeKey("limits.batch_size_range"); err != nil {
		return Config{}, err
	}
	if cfg.BatchSize.Low < 1 {
		return Config{}, fmt.Errorf("limits.batch_size_range: batch size must be at least 1")
	}
	if cfg.PauseBetweenBatches, err = rangeKey("limits.pause_between_batches_sec"); err != nil {
		return Config{}, err
	}
	if cfg.PauseBetweenChats, err = rangeKey("limits.pause_between_chats_sec"); err != nil {
		return Config{}, err
	}
	if cfg.MicroPauseEveryN, err = intRangeKey("limits.micro_pause_every_n_msgs"); err != nil {
		return Config{}, err
	}
	if cfg.MicroPauseMS, err = intRangeKey("limits.micro_pause_ms"); err != nil {
		return Config{}, err
	}

	cfg.Telegram = TelegramConfig{
		APIID:       viper.GetInt("telegram.api_id"),
		APIHash:     viper.GetString("telegram.api_hash"),
		SessionDir:  viper.GetString("telegram.session_dir"),
		SessionName: viper.GetString("telegram.session_name"),
	}
	if strings.TrimSpace(cfg.Telegram.SessionDir) == "" {
		cfg.Telegram.SessionDir = "sessions"
	}
	if strings.TrimSpace(cfg.Telegram.SessionName) == "" {
		cfg.Telegram.SessionName = DefaultSessionName
	}
	if cfg.Telegram.APIID == 0 || strings.TrimSpace(cfg.Telegram.APIHash) == "" {
		return Config{}, fmt.Errorf("telegram.api_id and telegram.api_hash are required")
	}

	cfg.DB = DBFromViper()
	cfg.Events = EventsConfig{
		URL:      viper.GetString("events.url"),
		Exchange: viper.GetString("events.exchange"),
	}
	if cfg.Events.Enabled() && strings.TrimSpace(cfg.Events.Exchange) == "" {
		cfg.Events.Exchange = "tg-analyzer"
	}

	return cfg, nil
}

// DBFromViper builds the storage configuration alone, for commands that need
// the database but not the platform credentials.
func DBFromViper() db.Config {
	cfg := db.DefaultConfig()
	if v := viper.GetString("db.driver"); strings.TrimSpace(v) != "" {
		cfg.Driver = v
	}
	cfg.DSN = viper.GetString("db.dsn")
	if cfg.Driver == "postgres" && strings.TrimSpace(cfg.DSN) == "" {
		cfg.DSN = db.PostgresDSN(
			viper.GetString("db.host"),
			viper.GetInt("db.port"),
			viper.GetString("db.user"),
			viper.GetString("db.password"),
			viper.GetString("db.name"),
		)
	}
	if viper.IsSet("db.max_open_conns") {
		cfg.Pool.MaxOpenConns = viper.GetInt("db.max_open_conns")
	}
	if viper.IsSet("db.max_idle_conns") {
		cfg.Pool.MaxIdleConns = viper.GetInt("db.max_idle_conns")
	}
	if viper.IsSet("db.conn_max_lifetime") {
		cfg.Pool.ConnMaxLifetime = viper.GetDuration("db.conn_max_lifetime")
	}
	if viper.IsSet("db.auto_migrate") {
		cfg.AutoMigrate = viper.GetBool("db.auto_migrate")
	}
	return cfg
}

func rangeKey(key string) (pacing.Range, error) {
	lo, hi, err := pairFloat(viper.Get(key))
	if err != nil {
		return pacing.Range{}, fmt.Errorf("%s: %w", key, err)
	}
	r, err := pacing.NewRange(lo, hi)
	if err != nil {
		return pacing.Range{}, fmt.Errorf("%s: %w", key, err)
	}
	return r, nil
}

func intRangeKey(key string) (pacing.IntRange, error) {
	lo, hi, err := pairFloat(viper.Get(key))
	if err != nil {
		return pacing.IntRange{}, fmt.Errorf("%s: %w", key, err)
	}
	r, err := pacing.NewIntRange(int(lo), int(hi))
	if err != nil {
		return pacing.IntRange{}, fmt.Errorf("%s: %w", key, err)
	}
	return r, nil
}

// pairFloat accepts the YAML two-element list form ([low, high]) that the
// worker's config has always used, plus the typed slices viper hands back for
// programmatic defaults and the space-separated string form from env vars.
func pairFloat(v any) (float64, float64, error) {
	var items []any
	switch s := v.(type) {
	case []any:
		items = s
	case []int:
		for _, n := range s {
			items = append(items, n)
		}
	case []float64:
		for _, n := range s {
			items = append(items, n)
		}
	case []string:
		for _, n := range s {
			items = append(items, n)
		}
	case string:
		for _, n := range strings.Fields(s) {
			items = append(items, n)
		}
	}
	if len(items) != 2 {
		return 0, 0, fmt.Errorf("expected a [low, high] pair, got %v", v)
	}
	lo, err := toFloat(items[0])
	if err != nil {
		return 0, 0, err
	}
	hi, err := toFloat(items[1])
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("expected a number, got %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// Stale is the default heartbeat-age threshold the status command reports
// against.
const Stale = 5 * time.Minute
