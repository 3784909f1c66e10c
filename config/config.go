// Package config declares the per-provider configuration records
// referenced by spec §6 ("Configuration. Per-provider configuration
// records carry connection parameters... Not further specified here").
// Values are loaded from the environment with caarlos0/env, the pattern
// grvsrs-picoclaw uses for its own bot configuration, optionally layered
// on top of a YAML file for local development.
package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// RedisConfig carries the connection parameters for provider/redis.
type RedisConfig struct {
	Host       string `env:"PYMQ_REDIS_HOST" yaml:"host" envDefault:"localhost"`
	Port       int    `env:"PYMQ_REDIS_PORT" yaml:"port" envDefault:"6379"`
	Password   string `env:"PYMQ_REDIS_PASSWORD" yaml:"password"`
	DB         int    `env:"PYMQ_REDIS_DB" yaml:"db" envDefault:"0"`
	Namespace  string `env:"PYMQ_REDIS_NAMESPACE" yaml:"namespace" envDefault:"global"`
}

// IPCConfig carries the socket-directory and permission parameters for
// provider/ipc (spec §6: "directory and permission bits for OS-IPC").
type IPCConfig struct {
	Directory   string `env:"PYMQ_IPC_DIR" yaml:"directory" envDefault:"/tmp/pymq"`
	Permissions uint32 `env:"PYMQ_IPC_PERMISSIONS" yaml:"permissions" envDefault:"384"` // 0600
	Namespace   string `env:"PYMQ_IPC_NAMESPACE" yaml:"namespace" envDefault:"global"`
}

// LoadRedisConfig reads a RedisConfig from the environment, optionally
// seeding defaults from a YAML file first (file < env precedence, as in
// grvsrs-picoclaw's layered config loading).
func LoadRedisConfig(yamlPath string) (RedisConfig, error) {
	cfg := RedisConfig{}
	if yamlPath != "" {
		if err := loadYAML(yamlPath, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadIPCConfig reads an IPCConfig from the environment, optionally seeded
// from a YAML file.
func LoadIPCConfig(yamlPath string) (IPCConfig, error) {
	cfg := IPCConfig{}
	if yamlPath != "" {
		if err := loadYAML(yamlPath, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, target)
}
