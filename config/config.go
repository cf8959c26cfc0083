package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Game     GameConfig     `mapstructure:"game"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 网络相关配置，Heartbeat 为 ping 间隔，两个周期无响应即断开
type ServerConfig struct {
	HTTPAddress    string        `mapstructure:"http_address"`
	RPCAddress     string        `mapstructure:"rpc_address"`
	MetricsAddress string        `mapstructure:"metrics_address"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
}

// GameConfig 房间与对局相关配置
type GameConfig struct {
	DisconnectGrace   time.Duration    `mapstructure:"disconnect_grace"`
	DefaultMaxPlayers int              `mapstructure:"default_max_players"`
	MaxDrawingBytes   int              `mapstructure:"max_drawing_bytes"`
	RecentWords       int              `mapstructure:"recent_words"`
	MinRoundDuration  time.Duration    `mapstructure:"min_round_duration"`
	MaxRoundDuration  time.Duration    `mapstructure:"max_round_duration"`
	Words             []string         `mapstructure:"words"`
	Templates         []TemplateConfig `mapstructure:"templates"`
}

// TemplateConfig describes one playable game template.
type TemplateConfig struct {
	Name          string        `mapstructure:"name"`
	RoundDuration time.Duration `mapstructure:"round_duration"`
	PointStep     int           `mapstructure:"point_step"`
	PointsMax     int           `mapstructure:"points_max"`
	WithGuesses   bool          `mapstructure:"with_guesses"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type DatabaseConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Addr    string        `mapstructure:"addr"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var defaultWords = []string{
	"apple", "bicycle", "castle", "dragon", "elephant", "guitar", "island",
	"lighthouse", "mountain", "octopus", "pyramid", "rainbow", "submarine",
	"telescope", "umbrella", "volcano", "windmill", "zebra",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.metrics_address", ":9100")
	v.SetDefault("server.read_limit", 64*1024)
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.heartbeat", 30*time.Second)

	v.SetDefault("game.disconnect_grace", 60*time.Second)
	v.SetDefault("game.default_max_players", 8)
	v.SetDefault("game.max_drawing_bytes", 1<<20)
	v.SetDefault("game.recent_words", 20)
	v.SetDefault("game.min_round_duration", 10*time.Second)
	v.SetDefault("game.max_round_duration", 10*time.Minute)
	v.SetDefault("game.words", defaultWords)
	v.SetDefault("game.templates", []map[string]interface{}{
		{
			"name":           "Griffonary",
			"round_duration": 90 * time.Second,
			"point_step":     50,
			"points_max":     300,
			"with_guesses":   true,
		},
	})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "gorm")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "griffonary")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", 6*time.Hour)

	v.SetDefault("log.level", "info")
}

// LoadConfig 读取 path 下的 config.yaml，缺失文件时使用默认值，环境变量优先
func LoadConfig(path string) (config *Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	err = v.Unmarshal(&config)
	return
}
