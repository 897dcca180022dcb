package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml values like "10s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Kurento KurentoConfig `yaml:"kurento"`
	CEP     CEPConfig     `yaml:"cep"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SendBuffer     int      `yaml:"send_buffer"`
}

type KurentoConfig struct {
	URI        string   `yaml:"uri"`
	RPCTimeout Duration `yaml:"rpc_timeout"`
}

type CEPConfig struct {
	URI     string   `yaml:"uri"`
	Timeout Duration `yaml:"timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:       8443,
			Host:       "0.0.0.0",
			SendBuffer: 64,
		},
		Kurento: KurentoConfig{
			URI:        "ws://127.0.0.1:8888/kurento",
			RPCTimeout: Duration(10 * time.Second),
		},
		CEP: CEPConfig{
			URI:     "http://127.0.0.1:8080/ProtonOnWebServer/rest/events",
			Timeout: Duration(5 * time.Second),
		},
	}
}

// Load reads the config file at path on top of the defaults. A missing
// file is not an error; every setting has a working default.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
