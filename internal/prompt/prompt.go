// Package prompt loads prompt configuration from the object store. Configs
// are YAML (with a JSON fallback, since JSON is valid YAML only for the
// shapes we care about when hand-edited) and cached per bucket/key.
package prompt

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cario/title-extract/internal/objectstore"
)

// Config is one prompt definition: the system template driving extraction
// plus named rule snippets appended to it.
type Config struct {
	SystemTemplate string            `yaml:"system" json:"system_template"`
	UserTemplate   string            `yaml:"user" json:"user_template"`
	Rules          map[string]string `yaml:"rules" json:"rules"`
}

// Loader fetches and caches prompt configs.
type Loader struct {
	store objectstore.Store

	mu    sync.Mutex
	cache map[string]*Config
}

// NewLoader returns a Loader backed by the given store.
func NewLoader(store objectstore.Store) *Loader {
	return &Loader{store: store, cache: make(map[string]*Config)}
}

// Load fetches the config at bucket/key, parsing YAML first and falling
// back to JSON. Results are cached; a config changes by changing its key.
func (l *Loader) Load(ctx context.Context, bucket, key string) (*Config, error) {
	cacheKey := bucket + "/" + key

	l.mu.Lock()
	cached, ok := l.cache[cacheKey]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	data, err := l.store.GetBytes(ctx, bucket, key)
	if err != nil {
		return nil, eris.Wrap(err, "prompt: load config")
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, eris.Wrap(err, "prompt: parse config")
	}
	zap.L().Info("prompt: config loaded",
		zap.String("uri", objectstore.URI(bucket, key)),
		zap.Int("rules", len(cfg.Rules)),
	)

	l.mu.Lock()
	l.cache[cacheKey] = cfg
	l.mu.Unlock()
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	yamlErr := yaml.Unmarshal(data, &cfg)
	if yamlErr == nil && cfg.SystemTemplate != "" {
		if cfg.Rules == nil {
			cfg.Rules = map[string]string{}
		}
		return &cfg, nil
	}
	if yamlErr != nil {
		zap.L().Warn("prompt: YAML parse failed, trying JSON", zap.Error(yamlErr))
	}

	cfg = Config{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "prompt: neither YAML nor JSON")
	}
	if cfg.Rules == nil {
		cfg.Rules = map[string]string{}
	}
	return &cfg, nil
}
