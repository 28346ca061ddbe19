package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EngineSQLite   = "sqlite"
	EngineMySQL    = "mysql"
	EnginePostgres = "postgres"

	DefaultSQLitePath = "./reliability_test.db"
)

type Config struct {
	Database      Database      `mapstructure:"database"`
	Reliability   Reliability   `mapstructure:"reliability"`
	HTTP          HTTP          `mapstructure:"http"`
	Kafka         Kafka         `mapstructure:"kafka"`
	Elasticsearch Elasticsearch `mapstructure:"elasticsearch"`
}

type Database struct {
	Engine   string   `mapstructure:"engine"`
	Postgres Postgres `mapstructure:"postgres"`
	MySQL    MySQL    `mapstructure:"mysql"`
	SQLite   SQLite   `mapstructure:"sqlite"`
}

type Postgres struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns a postgres:// connection string.
func (p Postgres) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

type MySQL struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// DSN returns a go-sql-driver style DSN. parseTime is required for the
// nullable timing columns to scan into time.Time.
func (m MySQL) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		m.User, m.Password, net.JoinHostPort(m.Host, strconv.Itoa(m.Port)), m.Database)
}

// ServerDSN is DSN without a database name, for statements that run before
// the database exists.
func (m MySQL) ServerDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/?charset=utf8mb4&parseTime=true&loc=UTC",
		m.User, m.Password, net.JoinHostPort(m.Host, strconv.Itoa(m.Port)))
}

type SQLite struct {
	Path string `mapstructure:"path"`
}

type Reliability struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	Threshold     int64         `mapstructure:"threshold"`
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type Kafka struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	GroupID string `mapstructure:"group_id"`
	Topic   string `mapstructure:"topic"`
}

type Elasticsearch struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.engine", EngineSQLite)
	v.SetDefault("database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("reliability.timeout", 10*time.Minute)
	v.SetDefault("reliability.threshold", 5)
	v.SetDefault("reliability.window", 300*time.Second)
	v.SetDefault("reliability.sweep_interval", time.Minute)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.group_id", "reliability-tracker")
	v.SetDefault("kafka.topic", "reliability-tests")

	v.SetDefault("elasticsearch.enabled", false)
	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.index", "reliability_tests")
}

// Load decodes v into a Config. Database credentials written as $NAME are
// taken from the environment variable NAME when it is set. An unknown engine
// falls back to SQLite.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	db := &cfg.Database
	for _, field := range []*string{
		&db.Postgres.Host, &db.Postgres.User, &db.Postgres.Password, &db.Postgres.DBName,
		&db.MySQL.Host, &db.MySQL.User, &db.MySQL.Password, &db.MySQL.Database,
		&db.SQLite.Path,
	} {
		*field = envValue(*field)
	}

	db.Engine = strings.ToLower(strings.TrimSpace(db.Engine))
	switch db.Engine {
	case EngineSQLite, EngineMySQL, EnginePostgres:
	default:
		slog.Warn("Unsupported database engine, using SQLite", "engine", db.Engine)
		db.Engine = EngineSQLite
	}
	if db.Engine == EngineSQLite && db.SQLite.Path == "" {
		db.SQLite.Path = DefaultSQLitePath
	}

	if cfg.Reliability.Timeout <= 0 {
		return nil, fmt.Errorf("reliability.timeout must be positive, got %s", cfg.Reliability.Timeout)
	}
	if cfg.Reliability.Window <= 0 {
		return nil, fmt.Errorf("reliability.window must be positive, got %s", cfg.Reliability.Window)
	}
	if cfg.Reliability.SweepInterval <= 0 {
		return nil, fmt.Errorf("reliability.sweep_interval must be positive, got %s", cfg.Reliability.SweepInterval)
	}

	return &cfg, nil
}

func envValue(value string) string {
	if !strings.HasPrefix(value, "$") {
		return value
	}
	if env, ok := os.LookupEnv(value[1:]); ok {
		return env
	}
	return value
}
