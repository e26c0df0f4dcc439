package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"strzcam.com/posture/capture"
	"strzcam.com/posture/classify"
	"strzcam.com/posture/clock"
	"strzcam.com/posture/notify"
	"strzcam.com/posture/pipeline"
	"strzcam.com/posture/store"
)

const (
	DefaultPath = "config/posture.yaml"
	PathEnv     = "POSTURE_CONFIG"
)

type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Log       LogConfig         `yaml:"log"`
	Timezone  string            `yaml:"timezone"`
	Source    capture.Config    `yaml:"source"`
	Extractor ExtractorConfig   `yaml:"extractor"`
	Models    ModelsConfig      `yaml:"models"`
	Pipeline  pipeline.Config   `yaml:"pipeline"`
	Store     store.Config      `yaml:"store"`
	MQTT      notify.MQTTConfig `yaml:"mqtt"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigin   string        `yaml:"allowed_origin"`
	Backlog         int           `yaml:"backlog"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ExtractorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ModelsConfig points at the exported classifier weights and the labels the
// suggestion is derived from.
type ModelsConfig struct {
	Spine          string `yaml:"spine"`
	Sit            string `yaml:"sit"`
	GoodSitLabel   string `yaml:"good_sit_label"`
	KeepMessage    string `yaml:"keep_message"`
	CorrectMessage string `yaml:"correct_message"`
	Unavailable    string `yaml:"unavailable_label"`
}

func (m ModelsConfig) Advisor() classify.Advisor {
	return classify.Advisor{GoodLabel: m.GoodSitLabel, Keep: m.KeepMessage, Correct: m.CorrectMessage}
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigin:   "*",
			Backlog:         10,
			ShutdownTimeout: 5 * time.Second,
		},
		Log:      LogConfig{Level: "info"},
		Timezone: clock.DefaultZone,
		Source: capture.Config{
			Kind:    capture.KindShm,
			Path:    "video_frame",
			ShmDir:  capture.DefaultShmDir,
			Timeout: 5 * time.Second,
		},
		Extractor: ExtractorConfig{URL: "http://127.0.0.1:8501/landmarks", Timeout: 2 * time.Second},
		Models: ModelsConfig{
			Spine:          "models/spine.yaml",
			Sit:            "models/sit.yaml",
			GoodSitLabel:   classify.DefaultGoodSitLabel,
			KeepMessage:    classify.DefaultKeepMessage,
			CorrectMessage: classify.DefaultCorrectMessage,
			Unavailable:    classify.DefaultUnavailable,
		},
		Pipeline: pipeline.DefaultConfig(),
		Store:    store.Config{Kind: store.KindSQLite, Path: "data/posture.db", Timeout: 5 * time.Second},
		MQTT:     notify.MQTTConfig{Topic: "posture", Timeout: 5 * time.Second},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path falls back to POSTURE_CONFIG and then to DefaultPath; only
// the implicit default may be missing.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(PathEnv)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"POSTURE_SERVER_ADDR", &c.Server.Addr},
		{"POSTURE_SOURCE_KIND", &c.Source.Kind},
		{"POSTURE_SOURCE_URL", &c.Source.URL},
		{"POSTURE_EXTRACTOR_URL", &c.Extractor.URL},
		{"POSTURE_LOG_LEVEL", &c.Log.Level},
		{"POSTURE_MQTT_BROKER", &c.MQTT.Broker},
		{"FIREBASE_DATABASE_URL", &c.Store.DatabaseURL},
		{"FIREBASE_CREDENTIALS", &c.Store.Credentials},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}
