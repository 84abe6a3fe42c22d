package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigBackend abstracts where non-secret config values are persisted.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetBool(key string, val bool) error
	Delete(key string) error
}

// configFilePath returns $TERMMAP_CONFIG, or config.yaml under the XDG config
// directory.
func configFilePath() string {
	if p := os.Getenv("TERMMAP_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "termmap", "config.yaml")
}

// yamlBackend keeps config in a nested YAML document; dotted keys map to
// nested mappings (oracle.model -> oracle: {model: ...}).
type yamlBackend struct {
	path string
	k    *koanf.Koanf
}

func newFileBackend() *yamlBackend {
	return openYAMLBackend(configFilePath())
}

func openYAMLBackend(path string) *yamlBackend {
	b := &yamlBackend{path: path, k: koanf.New(".")}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", path, err)
		}
		return b
	}
	if err := b.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
		b.k = koanf.New(".")
	}
	return b
}

func (b *yamlBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := b.k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(b.path, data, 0o600)
}

func (b *yamlBackend) GetString(key string) (string, bool, error) {
	if !b.k.Exists(key) {
		return "", false, nil
	}
	return b.k.String(key), true, nil
}

func (b *yamlBackend) GetInt(key string) (int, bool, error) {
	if !b.k.Exists(key) {
		return 0, false, nil
	}
	switch val := b.k.Get(key).(type) {
	case int:
		return val, true, nil
	case int64:
		return int(val), true, nil
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer or is out of range", val, key)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type %T for %s", val, key)
	}
}

func (b *yamlBackend) SetString(key, val string) error {
	if err := b.k.Set(key, val); err != nil {
		return err
	}
	return b.save()
}

func (b *yamlBackend) SetInt(key string, val int) error {
	if err := b.k.Set(key, val); err != nil {
		return err
	}
	return b.save()
}

func (b *yamlBackend) SetBool(key string, val bool) error {
	if err := b.k.Set(key, val); err != nil {
		return err
	}
	return b.save()
}

func (b *yamlBackend) Delete(key string) error {
	b.k.Delete(key)
	return b.save()
}
