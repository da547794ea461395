package config

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"position-health-alerts/internal/chain"
	"position-health-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig              `mapstructure:"app"`
	Logging   logging.Config         `mapstructure:"logging"`
	Database  DatabaseConfig         `mapstructure:"database"`
	Scheduler SchedulerConfig        `mapstructure:"scheduler"`
	Monitor   MonitorConfig          `mapstructure:"monitor"`
	Quota     QuotaConfig            `mapstructure:"quota"`
	Provider  ProviderConfig         `mapstructure:"provider"`
	Chains    map[string]chain.Chain `mapstructure:"chains"`
	Alerting  AlertingConfig         `mapstructure:"alerting"`
	Metrics   MetricsConfig          `mapstructure:"metrics"`
	Export    ExportConfig           `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs how scan ticks are placed.
type SchedulerConfig struct {
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// MonitorConfig covers the periodic health scan.
type MonitorConfig struct {
	ScanInterval             time.Duration `mapstructure:"scan_interval"`
	Cooldown                 time.Duration `mapstructure:"cooldown"`
	DefaultAlertThreshold    float64       `mapstructure:"default_alert_threshold"`
	DefaultCriticalThreshold float64       `mapstructure:"default_critical_threshold"`
	Concurrency              int           `mapstructure:"concurrency"`
	FetchTimeout             time.Duration `mapstructure:"fetch_timeout"`
}

// QuotaConfig limits user-initiated lookups.
type QuotaConfig struct {
	QueriesPerDay   int64  `mapstructure:"queries_per_day"`
	RetentionDays   int    `mapstructure:"retention_days"`
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
}

// ProviderConfig paces RPC traffic per chain.
type ProviderConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery. Messages go to the monitoring
// user's own chat, so there is no fixed chat id.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("HEALTHWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

type chainDefaults struct {
	key      string
	name     string
	chainID  int64
	rpcURL   string
	explorer string
	aliases  []string
	monitor  bool
}

const defaultVaultResolver = "0x394Ce45678e0019c0045194a561E2bEd0FCc6Cf0"

var defaultChains = []chainDefaults{
	{"eth", "Ethereum", 1, "https://ethereum-rpc.publicnode.com", "https://etherscan.io", []string{"ethereum", "mainnet"}, true},
	{"base", "Base", 8453, "https://mainnet.base.org", "https://basescan.org", nil, true},
	{"arbitrum", "Arbitrum", 42161, "https://arb1.arbitrum.io/rpc", "https://arbiscan.io", []string{"arb"}, true},
	{"polygon", "Polygon", 137, "https://polygon-rpc.com", "https://polygonscan.com", []string{"poly", "matic"}, true},
	{"plasma", "Plasma", 369, "https://rpc.plasma.to", "https://explorer.plasma.org", nil, false},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "healthwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x68656c74))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("monitor.scan_interval", "30m")
	v.SetDefault("monitor.cooldown", "1h")
	v.SetDefault("monitor.default_alert_threshold", 1.15)
	v.SetDefault("monitor.default_critical_threshold", 1.05)
	v.SetDefault("monitor.concurrency", 4)
	v.SetDefault("monitor.fetch_timeout", "20s")

	v.SetDefault("quota.queries_per_day", 10)
	v.SetDefault("quota.retention_days", 30)
	v.SetDefault("quota.cleanup_schedule", "@daily")

	v.SetDefault("provider.requests_per_second", 5.0)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("provider.request_timeout", "15s")

	for i, c := range defaultChains {
		prefix := "chains." + c.key + "."
		v.SetDefault(prefix+"name", c.name)
		v.SetDefault(prefix+"chain_id", c.chainID)
		v.SetDefault(prefix+"rpc_url", c.rpcURL)
		v.SetDefault(prefix+"vault_resolver", defaultVaultResolver)
		v.SetDefault(prefix+"explorer", c.explorer)
		v.SetDefault(prefix+"aliases", c.aliases)
		v.SetDefault(prefix+"monitored", c.monitor)
		v.SetDefault(prefix+"order", i)
	}

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.request_timeout", "10s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9108")

	v.SetDefault("export.max_data_points", 1000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Monitor.ScanInterval <= 0 {
		return fmt.Errorf("monitor.scan_interval must be greater than zero")
	}
	if c.Monitor.Cooldown < 0 {
		return fmt.Errorf("monitor.cooldown cannot be negative")
	}
	if !validThreshold(c.Monitor.DefaultAlertThreshold) {
		return fmt.Errorf("monitor.default_alert_threshold must be a positive number")
	}
	if !validThreshold(c.Monitor.DefaultCriticalThreshold) {
		return fmt.Errorf("monitor.default_critical_threshold must be a positive number")
	}
	if c.Monitor.Concurrency <= 0 {
		return fmt.Errorf("monitor.concurrency must be greater than zero")
	}
	if c.Monitor.FetchTimeout <= 0 {
		return fmt.Errorf("monitor.fetch_timeout must be greater than zero")
	}
	if c.Quota.QueriesPerDay <= 0 {
		return fmt.Errorf("quota.queries_per_day must be greater than zero")
	}
	if c.Quota.RetentionDays <= 0 {
		return fmt.Errorf("quota.retention_days must be greater than zero")
	}
	if c.Provider.RequestsPerSecond <= 0 {
		return fmt.Errorf("provider.requests_per_second must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for key, ch := range c.Chains {
		if ch.RPCURL == "" {
			return fmt.Errorf("chains.%s.rpc_url must be configured", key)
		}
		if ch.VaultResolver == "" {
			return fmt.Errorf("chains.%s.vault_resolver must be configured", key)
		}
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token must be configured")
	}
	return nil
}

// ChainList returns the configured chains with keys filled from the map,
// ordered by their configured order and then key.
func (c *Config) ChainList() []chain.Chain {
	out := make([]chain.Chain, 0, len(c.Chains))
	for key, ch := range c.Chains {
		ch.Key = key
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

func validThreshold(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
