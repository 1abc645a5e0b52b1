package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	HubURL   string `mapstructure:"hub_url"`
	APIURL   string `mapstructure:"api_url"`
	RoomID   string `mapstructure:"room_id"`
	UserID   string `mapstructure:"user_id"`
	Username string `mapstructure:"username"`

	// hubd only.
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	RPCTimeout   time.Duration `mapstructure:"rpc_timeout"`
	VoiceTimeout time.Duration `mapstructure:"voice_timeout"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("hub_url", "ws://localhost:8080/api/ws/hub")
	v.SetDefault("api_url", "http://localhost:8080/api")
	v.SetDefault("room_id", "main")
	v.SetDefault("username", "guest")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("rpc_timeout", "10s")
	v.SetDefault("voice_timeout", "3s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
