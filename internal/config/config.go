package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env     string `yaml:"env" env:"ENV" env-default:"local"`
	DataDir string `yaml:"data_dir" env:"DATA_DIR" env-default:"./data"`
	HTTP    HTTP   `yaml:"http"`
	Stream  Stream `yaml:"stream"`
}

type HTTP struct {
	// The service binds loopback only; the UI discovers the port via the
	// server-info endpoint instead of hard-coding it.
	Host            string        `yaml:"host" env-default:"127.0.0.1"`
	Port            int           `yaml:"port" env:"HTTP_PORT" env-default:"3333"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"5s"`
}

type Stream struct {
	SegmentSeconds int `yaml:"segment_seconds" env-default:"2"`
	PlaylistSize   int `yaml:"playlist_size" env-default:"6"`
}

func (c *Config) DBPath() string         { return filepath.Join(c.DataDir, "db.sqlite") }
func (c *Config) HLSDir() string         { return filepath.Join(c.DataDir, "hls") }
func (c *Config) RecordingsDir() string  { return filepath.Join(c.DataDir, "recordings") }
func (c *Config) RecordingTmpDir() string { return filepath.Join(c.DataDir, "recordings", "tmp") }
func (c *Config) ThumbnailsDir() string  { return filepath.Join(c.DataDir, "thumbnails") }

func MustLoad() *Config {
	path := os.Getenv("CONFIG_PATH")

	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			panic("failed to read config from env: " + err.Error())
		}

		return &cfg
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file does not exist: " + path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}
