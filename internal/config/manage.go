package config

import (
	"fmt"
	"sort"
	"strconv"
)

// Set writes one key into the config file, creating the file if needed.
func Set(path, key, value string) error {
	spec, ok := lookup(key)
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}

	b, err := openFileBackend(path)
	if err != nil {
		return err
	}
	switch spec.typ {
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("key %s expects an integer: %w", key, err)
		}
		return b.SetInt(key, i)
	default:
		return b.SetString(key, value)
	}
}

// Unset removes one key from the config file, reverting it to default.
func Unset(path, key string) error {
	if _, ok := lookup(key); !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	b, err := openFileBackend(path)
	if err != nil {
		return err
	}
	return b.Delete(key)
}

// List returns the effective configuration as key/value pairs, sorted by
// key. Secret values are redacted.
func List(cfg Config) []KV {
	out := make([]KV, 0, len(specs))
	for _, s := range specs {
		v := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret && v != "" {
			v = "(redacted)"
		}
		out = append(out, KV{Key: s.key, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// KV is one listed config entry.
type KV struct {
	Key   string
	Value string
}

func lookup(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}
