package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`

	Signal  SignalConfig  `mapstructure:"signal"`
	RTC     RTCConfig     `mapstructure:"rtc"`
	AI      AIConfig      `mapstructure:"ai"`
	Session SessionConfig `mapstructure:"session"`
	Auth    AuthConfig    `mapstructure:"auth"`
	DB      DBConfig      `mapstructure:"db"`
}

type SignalConfig struct {
	ReadLimit       int64         `mapstructure:"read_limit"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	FramesPerSecond int           `mapstructure:"frames_per_second"`
}

type RTCConfig struct {
	STUNURLs []string `mapstructure:"stun_urls"`
}

type AIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	QueueCapacity       int           `mapstructure:"queue_capacity"`
	MaxInFlight         int           `mapstructure:"max_in_flight"`
	RequestsPerInterval int           `mapstructure:"requests_per_interval"`
	Interval            time.Duration `mapstructure:"interval"`
	RetryMax            int           `mapstructure:"retry_max"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier   float64       `mapstructure:"backoff_multiplier"`
}

type SessionConfig struct {
	EvictionGrace time.Duration `mapstructure:"eviction_grace"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type DBConfig struct {
	URL string `mapstructure:"url"`
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
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")

	v.SetDefault("signal.read_limit", 32768)
	v.SetDefault("signal.idle_timeout", "60s")
	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.frames_per_second", 40)

	v.SetDefault("rtc.stun_urls", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.max_tokens", 300)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.request_timeout", "30s")
	v.SetDefault("ai.queue_capacity", 64)
	v.SetDefault("ai.max_in_flight", 4)
	v.SetDefault("ai.requests_per_interval", 60)
	v.SetDefault("ai.interval", "1m")
	v.SetDefault("ai.retry_max", 3)
	v.SetDefault("ai.backoff_base", "200ms")
	v.SetDefault("ai.backoff_multiplier", 2.0)

	v.SetDefault("session.eviction_grace", "30s")

	v.SetDefault("auth.token_ttl", "24h")

	// Secrets come from the environment, never from the yaml files.
	_ = v.BindEnv("ai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("ai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("auth.secret", "JWT_SECRET")
	_ = v.BindEnv("db.url", "DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | AI queue: %d x%d in flight\n",
		cfg.Mode, cfg.Port, cfg.AI.QueueCapacity, cfg.AI.MaxInFlight)
	return &cfg, nil
}
