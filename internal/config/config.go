package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	Cron     CronConfig     `mapstructure:"cron"`
	Binance  BinanceConfig  `mapstructure:"binance"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Expiry   ExpiryConfig   `mapstructure:"expiry"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	// Driver selects the gorm dialector: "postgres" or "sqlite".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ExpirySweep string `mapstructure:"expiry_sweep"`
}

type BinanceConfig struct {
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type RiskConfig struct {
	// MaxStepAmount caps the capital a single step may commit. Empty or
	// "0" disables the check.
	MaxStepAmount string `mapstructure:"max_step_amount"`
}

// MaxStepAmountDecimal parses the ceiling, zero when unset or unparsable.
func (r RiskConfig) MaxStepAmountDecimal() decimal.Decimal {
	if r.MaxStepAmount == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.MaxStepAmount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type ExecutorConfig struct {
	// Mode is "dry-run" or "live". In dry-run the live executor is never
	// wired, so even dryRun=false requests cannot reach the venue.
	Mode string `mapstructure:"mode"`
}

func (e ExecutorConfig) Live() bool {
	return strings.EqualFold(e.Mode, "live")
}

type ExpiryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	MaxAge    time.Duration `mapstructure:"max_age"`
	BatchSize int           `mapstructure:"batch_size"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DCA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.expiry_sweep", "0 0 * * * *")
	v.SetDefault("risk.max_step_amount", "0")
	v.SetDefault("executor.mode", "dry-run")
	v.SetDefault("expiry.enabled", false)
	v.SetDefault("expiry.max_age", "720h")
	v.SetDefault("expiry.batch_size", 100)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
