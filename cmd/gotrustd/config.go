package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	goTrust "github.com/MrEthical07/goTrust"
)

const (
	envPrefix     = "GOTRUST_"
	configPathEnv = "GOTRUST_CONFIG"
)

var defaultConfigPaths = []string{
	"gotrust.yaml",
	"gotrust.yml",
	"/etc/gotrust/gotrust.yaml",
}

// Comma-separated environment values for these keys become slices.
var sliceKeys = []string{
	"sync.peers",
	"risk.proxy_cidrs",
	"risk.high_risk_countries",
	"session.default.allowed_cidrs",
}

// loadConfig layers struct defaults, an optional YAML file and GOTRUST_
// environment variables, in that order. path overrides the file lookup.
func loadConfig(path string) (goTrust.Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(goTrust.DefaultConfig(), "koanf"), nil); err != nil {
		return goTrust.Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return goTrust.Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return goTrust.Config{}, fmt.Errorf("load environment: %w", err)
	}
	if err := splitSlices(k); err != nil {
		return goTrust.Config{}, err
	}
	if err := decodeKeys(k); err != nil {
		return goTrust.Config{}, err
	}

	var cfg goTrust.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return goTrust.Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return goTrust.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps GOTRUST_SESSION__DEFAULT__MAX_CONCURRENT_SESSIONS to
// session.default.max_concurrent_sessions.
func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func findConfigFile() string {
	if p := os.Getenv(configPathEnv); p != "" {
		return p
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Key material given as text. A "base64:" prefix marks encoded binary keys.
var keyPaths = []string{
	"mfa.secret_key",
	"sync.signing_key",
}

func decodeKeys(k *koanf.Koanf) error {
	paths := append([]string(nil), keyPaths...)
	for id := range k.StringMap("sync.verify_keys") {
		paths = append(paths, "sync.verify_keys."+id)
	}
	for _, path := range paths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		b, err := keyBytes(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := k.Set(path, b); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

func keyBytes(raw string) ([]byte, error) {
	if enc, ok := strings.CutPrefix(raw, "base64:"); ok {
		return base64.StdEncoding.DecodeString(enc)
	}
	return []byte(raw), nil
}

func splitSlices(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		raw, ok := k.Get(key).(string)
		if !ok || raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(key, out); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}
