// Package config loads buywatch settings from defaults, config.yaml, .env,
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment variable, e.g. BUYWATCH_LOG_LEVEL.
const EnvPrefix = "BUYWATCH"

// Config is the full application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Ethereum EthereumConfig `mapstructure:"ethereum"`
	Solana   SolanaConfig   `mapstructure:"solana"`
	Market   MarketConfig   `mapstructure:"market"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Trending TrendingConfig `mapstructure:"trending"`
	Security SecurityConfig `mapstructure:"security"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Announce AnnounceConfig `mapstructure:"announce"`
	Watch    WatchConfig    `mapstructure:"watch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// EthereumConfig is disabled when RPCURL is empty.
type EthereumConfig struct {
	RPCURL    string  `mapstructure:"rpc_url"` // ws(s):// endpoint, log subscriptions need it
	WETH      string  `mapstructure:"weth"`
	DexID     string  `mapstructure:"dex_id"`
	DustFloor float64 `mapstructure:"dust_floor"`
}

// SolanaConfig is disabled when RPCURL is empty.
type SolanaConfig struct {
	RPCURL          string  `mapstructure:"rpc_url"`
	WSURL           string  `mapstructure:"ws_url"`
	DustFloor       float64 `mapstructure:"dust_floor"`
	SignatureWindow int     `mapstructure:"signature_window"`
	SubscribeLogs   bool    `mapstructure:"subscribe_logs"`
	CurveProgram    string  `mapstructure:"curve_program"`
}

type MarketConfig struct {
	DexScreenerURL string `mapstructure:"dexscreener_url"`
}

type DedupConfig struct {
	HighWater int `mapstructure:"high_water"`
	Evict     int `mapstructure:"evict"`
}

type TrendingConfig struct {
	Model             string        `mapstructure:"model"` // window or decay
	Window            time.Duration `mapstructure:"window"`
	Retention         time.Duration `mapstructure:"retention"`
	PruneInterval     time.Duration `mapstructure:"prune_interval"`
	WhaleThresholdUSD float64       `mapstructure:"whale_threshold_usd"`
	WhalePoints       float64       `mapstructure:"whale_points"`
	BasePoints        float64       `mapstructure:"base_points"`
	DecayInterval     time.Duration `mapstructure:"decay_interval"`
	DecayFactor       float64       `mapstructure:"decay_factor"`
	ScoreFloor        float64       `mapstructure:"score_floor"`
}

type SecurityConfig struct {
	RugCheckURL string        `mapstructure:"rugcheck_url"`
	GoPlusURL   string        `mapstructure:"goplus_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// StorageConfig selects persistence. Empty DSNs keep state in memory.
type StorageConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the status API
}

type AnnounceConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	TopN     int           `mapstructure:"top_n"`
	Scan     bool          `mapstructure:"scan"`
}

// WatchConfig lists the desired watch set: "chain:address" or a bare address.
type WatchConfig struct {
	Tokens []string `mapstructure:"tokens"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ethereum.rpc_url", "")
	v.SetDefault("ethereum.weth", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	v.SetDefault("ethereum.dex_id", "uniswap")
	v.SetDefault("ethereum.dust_floor", 0.0004)

	v.SetDefault("solana.rpc_url", "")
	v.SetDefault("solana.ws_url", "")
	v.SetDefault("solana.dust_floor", 0.005)
	v.SetDefault("solana.signature_window", 10)
	v.SetDefault("solana.subscribe_logs", true)
	v.SetDefault("solana.curve_program", "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

	v.SetDefault("market.dexscreener_url", "https://api.dexscreener.com")

	v.SetDefault("dedup.high_water", 2000)
	v.SetDefault("dedup.evict", 500)

	v.SetDefault("trending.model", "decay")
	v.SetDefault("trending.window", time.Hour)
	v.SetDefault("trending.retention", 24*time.Hour)
	v.SetDefault("trending.prune_interval", 10*time.Minute)
	v.SetDefault("trending.whale_threshold_usd", 1000.0)
	v.SetDefault("trending.whale_points", 5.0)
	v.SetDefault("trending.base_points", 1.0)
	v.SetDefault("trending.decay_interval", 30*time.Minute)
	v.SetDefault("trending.decay_factor", 0.9)
	v.SetDefault("trending.score_floor", 0.1)

	v.SetDefault("security.rugcheck_url", "https://api.rugcheck.xyz")
	v.SetDefault("security.goplus_url", "https://api.gopluslabs.io")
	v.SetDefault("security.cache_ttl", 10*time.Minute)

	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("announce.interval", 5*time.Minute)
	v.SetDefault("announce.top_n", 5)
	v.SetDefault("announce.scan", true)

	v.SetDefault("watch.tokens", []string{})
}

// Unprefixed variable names kept from older deployments.
func setupEnvAliases(v *viper.Viper) {
	_ = v.BindEnv("ethereum.rpc_url", EnvPrefix+"_ETHEREUM_RPC_URL", "ETH_RPC_URL")
	_ = v.BindEnv("solana.rpc_url", EnvPrefix+"_SOLANA_RPC_URL", "SOL_RPC_URL")
	_ = v.BindEnv("solana.ws_url", EnvPrefix+"_SOLANA_WS_URL", "SOL_WS_URL")
	_ = v.BindEnv("storage.postgres_dsn", EnvPrefix+"_STORAGE_POSTGRES_DSN", "DATABASE_URL")
	_ = v.BindEnv("storage.clickhouse_dsn", EnvPrefix+"_STORAGE_CLICKHOUSE_DSN", "CLICKHOUSE_URL")
}

// RegisterFlags declares the flags Load understands on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (default ./config.yaml if present)")
	fs.String("env-file", ".env", "Path to .env file")
	fs.String("log.level", "info", "Log level: debug, info, warn, error (env: BUYWATCH_LOG_LEVEL)")
	fs.String("log.format", "json", "Log format: json or console (env: BUYWATCH_LOG_FORMAT)")
	fs.String("server.addr", ":8080", "Status API listen address, empty to disable (env: BUYWATCH_SERVER_ADDR)")
	fs.String("trending.model", "decay", "Trending model: window or decay (env: BUYWATCH_TRENDING_MODEL)")
	fs.StringSlice("watch.tokens", nil, "Tokens to watch, chain:address or bare address (env: BUYWATCH_WATCH_TOKENS)")
}

// Loader reads configuration and can watch the config file for changes.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. flags may be nil; otherwise only flags
// that were explicitly set override other sources.
func NewLoader(flags *pflag.FlagSet) (*Loader, error) {
	envFile := ".env"
	configFile := ""
	if flags != nil {
		if f := flags.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}

	// A missing .env is fine; it never overrides the real environment.
	_ = godotenv.Load(envFile)

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setupEnvAliases(v)

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" || f.Name == "env-file" || !f.Changed {
				return
			}
			if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	return &Loader{v: v}, nil
}

// Load decodes and validates the current configuration.
func (l *Loader) Load() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Watch.Tokens = splitTokens(cfg.Watch.Tokens)
	cfg.Trending.Model = strings.ToLower(strings.TrimSpace(cfg.Trending.Model))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile returns the file in use, or "" when none was found.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the reloaded configuration every time the
// config file changes. Invalid edits are logged and skipped. No-op when no
// config file is in use.
func (l *Loader) Watch(logger *zap.Logger, onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			logger.Warn("ignoring invalid config change",
				zap.String("file", e.Name),
				zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Load is a shorthand for NewLoader followed by Loader.Load.
func Load(flags *pflag.FlagSet) (*Config, error) {
	l, err := NewLoader(flags)
	if err != nil {
		return nil, err
	}
	return l.Load()
}

// splitTokens accepts list entries that themselves hold comma-separated
// values, as env variables do.
func splitTokens(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, tok := range strings.Split(item, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}
