package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRedisConfigDefaults(t *testing.T) {
	cfg, err := LoadRedisConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "localhost" || cfg.Port != 6379 || cfg.Namespace != "global" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadRedisConfigYAMLSeedsFieldWithoutEnvDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redis.yaml")
	if err := os.WriteFile(path, []byte("password: from-yaml\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := LoadRedisConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Password != "from-yaml" {
		t.Fatalf("expected yaml value to seed password, got %s", cfg.Password)
	}
}

func TestLoadRedisConfigEnvOverridesDefault(t *testing.T) {
	t.Setenv("PYMQ_REDIS_PORT", "2222")

	cfg, err := LoadRedisConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 2222 {
		t.Fatalf("expected env to override default port, got %d", cfg.Port)
	}
}

func TestLoadIPCConfigDefaults(t *testing.T) {
	cfg, err := LoadIPCConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Directory != "/tmp/pymq" || cfg.Permissions != 384 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
