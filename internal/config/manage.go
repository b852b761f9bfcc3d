package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"
)

// KeyInfo is one row of `prodqa config show`.
type KeyInfo struct {
	Key     string
	EnvVar  string
	Value   string
	FromEnv bool // the value comes from EnvVar rather than the config file
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key == key {
			return s, nil
		}
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

func (s keySpec) info(cfg Config) KeyInfo {
	return KeyInfo{
		Key:     s.key,
		EnvVar:  s.env,
		Value:   fmt.Sprintf("%v", s.extract(cfg)),
		FromEnv: s.env != "" && os.Getenv(s.env) != "",
	}
}

// ShowAll lists every non-secret key of cfg, sorted by name.
func ShowAll(cfg Config) []KeyInfo {
	var out []KeyInfo
	for _, s := range specs {
		if !s.secret {
			out = append(out, s.info(cfg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// GetKey returns the effective value of one key. Secrets are reported as
// set or unset, never echoed.
func GetKey(cfg Config, key string) (KeyInfo, error) {
	s, err := lookupSpec(key)
	if err != nil {
		return KeyInfo{}, err
	}
	ki := s.info(cfg)
	if s.secret {
		ki.Value = "(unset)"
		if fmt.Sprint(s.extract(cfg)) != "" {
			ki.Value = "(set)"
		}
	}
	return ki, nil
}

// SetKey validates value for key and writes it to the config file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), key, value)
}

// UnsetKey removes key from the config file so its default applies again.
func UnsetKey(key string) error {
	return unsetKey(newFileBackend(configFilePath()), key)
}

func writableSpec(key string) (keySpec, error) {
	s, err := lookupSpec(key)
	if err != nil {
		return keySpec{}, err
	}
	if s.secret {
		return keySpec{}, fmt.Errorf("%s is a secret; set it with the %s environment variable", key, s.env)
	}
	return s, nil
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := writableSpec(key)
	if err != nil {
		return err
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	// Store the canonical form so the file reads back the same way.
	switch t := v.(type) {
	case int:
		return b.SetInt(key, t)
	case bool:
		return b.SetString(key, strconv.FormatBool(t))
	case float64:
		return b.SetString(key, strconv.FormatFloat(t, 'g', -1, 64))
	case time.Duration:
		return b.SetString(key, t.String())
	default:
		return b.SetString(key, value)
	}
}

func unsetKey(b ConfigBackend, key string) error {
	if _, err := writableSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// ValidKeys returns the non-secret key names accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	sort.Strings(keys)
	return keys
}
