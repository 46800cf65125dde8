package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Store struct {
		// mysql / sqlite
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		// local：本进程直接校验 JWT；remote：调用 auth 服务的 /v1/auth/verify
		Mode      string        `mapstructure:"mode"`
		Path      string        `mapstructure:"path"`
		Secret    string        `mapstructure:"secret"`
		AccessTTL time.Duration `mapstructure:"accessTTL"`
	} `mapstructure:"auth"`
	Realtime struct {
		HistoryLimit int `mapstructure:"historyLimit"`
		SendQueue    int `mapstructure:"sendQueue"`
		// 默认 false：append 失败仍然广播（与历史行为一致）
		SuppressBroadcastOnAppendError bool          `mapstructure:"suppressBroadcastOnAppendError"`
		PresenceTTL                    time.Duration `mapstructure:"presenceTTL"`
	} `mapstructure:"realtime"`
	Fanout struct {
		// local / redis
		Mode    string `mapstructure:"mode"`
		Channel string `mapstructure:"channel"`
	} `mapstructure:"fanout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8080)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "whiteboard.sqlite3")
	v.SetDefault("kafka.topic", "shape-events")
	v.SetDefault("auth.mode", "local")
	v.SetDefault("auth.accessTTL", 24*time.Hour)
	v.SetDefault("realtime.historyLimit", 1000)
	v.SetDefault("realtime.sendQueue", 32)
	v.SetDefault("realtime.presenceTTL", 600*time.Second)
	v.SetDefault("fanout.mode", "local")
	v.SetDefault("fanout.channel", "whiteboard:fanout")
}

// Load 读取 whiteboardConfig.yaml；找不到文件时只使用默认值和环境变量
func Load() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("whiteboardConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	// STORE_DSN=... 覆盖 store.dsn
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
