package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	configName = "config"
	configType = "yaml"
)

// RateRule limits one action to MaxAttempts calls per Window for a caller.
type RateRule struct {
	MaxAttempts int           `mapstructure:"MAX_ATTEMPTS"`
	Window      time.Duration `mapstructure:"WINDOW"`
}

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Otel struct {
		Exporter string `mapstructure:"EXPORTER"`
		Endpoint string `mapstructure:"ENDPOINT"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Vault struct {
		Addr  string `mapstructure:"ADDR"`
		Token string `mapstructure:"TOKEN"`
		Mount string `mapstructure:"MOUNT"`
		Path  string `mapstructure:"PATH"`
	} `mapstructure:"VAULT"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Admin struct {
		APIKey string `mapstructure:"API_KEY"`
	} `mapstructure:"ADMIN"`
	Seat struct {
		StaleTimeout    time.Duration `mapstructure:"STALE_TIMEOUT"`
		MinStaleTimeout time.Duration `mapstructure:"MIN_STALE_TIMEOUT"`
		MaxStaleTimeout time.Duration `mapstructure:"MAX_STALE_TIMEOUT"`
	} `mapstructure:"SEAT"`
	RateLimit struct {
		Backend        string   `mapstructure:"BACKEND"`
		Acquire        RateRule `mapstructure:"ACQUIRE"`
		Heartbeat      RateRule `mapstructure:"HEARTBEAT"`
		Release        RateRule `mapstructure:"RELEASE"`
		ForceTerminate RateRule `mapstructure:"FORCE_TERMINATE"`
		Sequence       RateRule `mapstructure:"SEQUENCE"`
		Sync           RateRule `mapstructure:"SYNC"`
		Verify         RateRule `mapstructure:"VERIFY"`
	} `mapstructure:"RATE_LIMIT"`
	Certificate struct {
		SequenceBackend  string `mapstructure:"SEQUENCE_BACKEND"`
		PrivateKeyPath   string `mapstructure:"PRIVATE_KEY_PATH"`
		PublicKeyPath    string `mapstructure:"PUBLIC_KEY_PATH"`
		PrivateKeyPEM    string `mapstructure:"PRIVATE_KEY_PEM"`
		PublicKeyPEM     string `mapstructure:"PUBLIC_KEY_PEM"`
		AutoGenerateKey  bool   `mapstructure:"AUTO_GENERATE_KEY"`
		BatchVerifyLimit int    `mapstructure:"BATCH_VERIFY_LIMIT"`
	} `mapstructure:"CERTIFICATE"`
	Sweep struct {
		Enabled  bool          `mapstructure:"ENABLED"`
		Interval time.Duration `mapstructure:"INTERVAL"`
		Worker   bool          `mapstructure:"WORKER"`
	} `mapstructure:"SWEEP"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

// Default returns the configuration used when no file or environment
// overrides a key.
func Default() *Config {
	cfg := &Config{}
	cfg.AppEnv = "development"
	cfg.AppName = "licensing"
	cfg.Server.Addr = "8080"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Grpc.Addr = "9090"
	cfg.Database.Type = "postgres"
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.Port = "5432"
	cfg.Database.DBNAME = "licensing"
	cfg.Database.SSLMode = "disable"
	cfg.Database.Timezone = "UTC"
	cfg.Database.ConnectionPool.MaxIdleConn = 10
	cfg.Database.ConnectionPool.MaxOpenConns = 50
	cfg.Database.ConnectionPool.ConnMaxLifetime = time.Hour
	cfg.Database.ConnectionPool.ConnMaxIdleTime = 10 * time.Minute
	cfg.Redis.Addr = "127.0.0.1:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.PoolTimeout = 5 * time.Second
	cfg.Vault.Mount = "secret"
	cfg.Seat.StaleTimeout = 5 * time.Minute
	cfg.Seat.MinStaleTimeout = time.Minute
	cfg.Seat.MaxStaleTimeout = time.Hour
	cfg.RateLimit.Backend = "memory"
	cfg.RateLimit.Acquire = RateRule{MaxAttempts: 30, Window: time.Minute}
	cfg.RateLimit.Heartbeat = RateRule{MaxAttempts: 120, Window: time.Minute}
	cfg.RateLimit.Release = RateRule{MaxAttempts: 30, Window: time.Minute}
	cfg.RateLimit.ForceTerminate = RateRule{MaxAttempts: 5, Window: 15 * time.Minute}
	cfg.RateLimit.Sequence = RateRule{MaxAttempts: 120, Window: time.Minute}
	cfg.RateLimit.Sync = RateRule{MaxAttempts: 20, Window: time.Minute}
	cfg.RateLimit.Verify = RateRule{MaxAttempts: 60, Window: time.Minute}
	cfg.Certificate.SequenceBackend = "database"
	cfg.Certificate.PrivateKeyPath = "keys/certificate_signing.pem"
	cfg.Certificate.PublicKeyPath = "keys/certificate_signing.pub.pem"
	cfg.Certificate.BatchVerifyLimit = 100
	cfg.Sweep.Enabled = true
	cfg.Sweep.Interval = time.Hour
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("APP_ENV", d.AppEnv)
	v.SetDefault("APP_NAME", d.AppName)
	v.SetDefault("HTTP_SERVER.ADDR", d.Server.Addr)
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", d.Server.ReadTimeout)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", d.Server.WriteTimeout)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", d.Server.IdleTimeout)
	v.SetDefault("GRPC_SERVER.ADDR", d.Grpc.Addr)
	v.SetDefault("DATABASE.TYPE", d.Database.Type)
	v.SetDefault("DATABASE.HOST", d.Database.Host)
	v.SetDefault("DATABASE.PORT", d.Database.Port)
	v.SetDefault("DATABASE.DBNAME", d.Database.DBNAME)
	v.SetDefault("DATABASE.SSLMODE", d.Database.SSLMode)
	v.SetDefault("DATABASE.TIMEZONE", d.Database.Timezone)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", d.Database.ConnectionPool.MaxIdleConn)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", d.Database.ConnectionPool.MaxOpenConns)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", d.Database.ConnectionPool.ConnMaxLifetime)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", d.Database.ConnectionPool.ConnMaxIdleTime)
	v.SetDefault("REDIS.ADDR", d.Redis.Addr)
	v.SetDefault("REDIS.POOL_SIZE", d.Redis.PoolSize)
	v.SetDefault("REDIS.POOL_TIMEOUT", d.Redis.PoolTimeout)
	v.SetDefault("VAULT.MOUNT", d.Vault.Mount)
	v.SetDefault("SEAT.STALE_TIMEOUT", d.Seat.StaleTimeout)
	v.SetDefault("SEAT.MIN_STALE_TIMEOUT", d.Seat.MinStaleTimeout)
	v.SetDefault("SEAT.MAX_STALE_TIMEOUT", d.Seat.MaxStaleTimeout)
	v.SetDefault("RATE_LIMIT.BACKEND", d.RateLimit.Backend)
	for key, rule := range map[string]RateRule{
		"ACQUIRE":         d.RateLimit.Acquire,
		"HEARTBEAT":       d.RateLimit.Heartbeat,
		"RELEASE":         d.RateLimit.Release,
		"FORCE_TERMINATE": d.RateLimit.ForceTerminate,
		"SEQUENCE":        d.RateLimit.Sequence,
		"SYNC":            d.RateLimit.Sync,
		"VERIFY":          d.RateLimit.Verify,
	} {
		v.SetDefault("RATE_LIMIT."+key+".MAX_ATTEMPTS", rule.MaxAttempts)
		v.SetDefault("RATE_LIMIT."+key+".WINDOW", rule.Window)
	}
	v.SetDefault("CERTIFICATE.SEQUENCE_BACKEND", d.Certificate.SequenceBackend)
	v.SetDefault("CERTIFICATE.PRIVATE_KEY_PATH", d.Certificate.PrivateKeyPath)
	v.SetDefault("CERTIFICATE.PUBLIC_KEY_PATH", d.Certificate.PublicKeyPath)
	v.SetDefault("CERTIFICATE.BATCH_VERIFY_LIMIT", d.Certificate.BatchVerifyLimit)
	v.SetDefault("CERTIFICATE.AUTO_GENERATE_KEY", d.Certificate.AutoGenerateKey)
	v.SetDefault("SWEEP.ENABLED", d.Sweep.Enabled)
	v.SetDefault("SWEEP.INTERVAL", d.Sweep.Interval)
	v.SetDefault("SWEEP.WORKER", d.Sweep.Worker)

	// keys without a meaningful default still need registering so that
	// environment overrides reach Unmarshal
	for key, zero := range map[string]any{
		"APP_VERSION":                 "",
		"TLS.ENABLE":                  false,
		"TLS.CERT_PATH":               "",
		"TLS.KEY_PATH":                "",
		"PYROSCOPE.ADDR":              "",
		"OTEL.EXPORTER":               "",
		"OTEL.ENDPOINT":               "",
		"OTEL.INSECURE":               false,
		"DATABASE.USER":               "",
		"DATABASE.PASSWORD":           "",
		"REDIS.PASSWORD":              "",
		"REDIS.DB":                    0,
		"VAULT.ADDR":                  "",
		"VAULT.TOKEN":                 "",
		"VAULT.PATH":                  "",
		"MINIO.ENDPOINT":              "",
		"MINIO.ACCESS_KEY":            "",
		"MINIO.SECRET_KEY":            "",
		"MINIO.SECURE":                false,
		"MINIO.BUCKET_NAME":           "",
		"ADMIN.API_KEY":               "",
		"CERTIFICATE.PRIVATE_KEY_PEM": "",
		"CERTIFICATE.PUBLIC_KEY_PEM":  "",
	} {
		v.SetDefault(key, zero)
	}
}

// Load reads config.yaml from the working directory (if present) and the
// environment into a Config.
func Load(v *viper.Viper) (*Config, error) {
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func LoadConfig(p Params) *Config {
	cfg, err := Load(viper.New())
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil && cfg.Vault.Path != "" {
		// START - Vault
		ctx := context.Background()

		zap.L().Info("Starting Get Secrets", zap.String("path", cfg.Vault.Path))
		secret, err := p.Vault.Secrets.KvV2Read(ctx, cfg.Vault.Path, vault.WithMountPath(cfg.Vault.Mount))
		if err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("Success Get Secret")

		applySecrets(cfg, secret.Data.Data)
		// END - Vault
	}

	return cfg
}

// applySecrets overlays non-empty Vault values on top of cfg.
func applySecrets(cfg *Config, data map[string]any) {
	get := func(key string) string {
		if val, ok := data[key].(string); ok {
			return val
		}
		return ""
	}

	set := func(dst *string, key string) {
		if v := get(key); v != "" {
			*dst = v
		}
	}

	set(&cfg.Database.User, "postgres_user")
	set(&cfg.Database.Password, "postgres_password")
	set(&cfg.Redis.Password, "redis_password")
	set(&cfg.Admin.APIKey, "admin_api_key")
	set(&cfg.Minio.SecretKey, "minio_secret_key")
	set(&cfg.Certificate.PrivateKeyPEM, "certificate_private_key")
	set(&cfg.Certificate.PublicKeyPEM, "certificate_public_key")
}
