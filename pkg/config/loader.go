package config

import (
	"fmt"
	"log/slog"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoaderOptions configures the config loader.
type LoaderOptions struct {
	Path string

	Watch bool

	// OnChange is invoked with the freshly parsed config after a watched
	// file changes on disk.
	OnChange func(*Config) error
}

// Loader reads, expands and unmarshals the YAML configuration file.
type Loader struct {
	koanf    *koanf.Koanf
	options  LoaderOptions
	parser   *yaml.YAML
	stopChan chan struct{}
}

func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	return &Loader{
		koanf:    koanf.New("."),
		options:  opts,
		parser:   yaml.Parser(),
		stopChan: make(chan struct{}),
	}, nil
}

func (l *Loader) Load() (*Config, error) {
	provider := file.Provider(l.options.Path)

	if err := l.koanf.Load(provider, l.parser); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", l.options.Path, err)
	}

	if err := l.expandEnvVarsInKoanf(); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	cfg, err := l.unmarshalAndProcess()
	if err != nil {
		return nil, err
	}

	if l.options.Watch {
		go l.watch(provider)
	}

	return cfg, nil
}

// Watcher is the optional interface koanf providers implement for
// change notification.
type Watcher interface {
	Watch(cb func(event interface{}, err error)) error
}

func (l *Loader) watch(provider koanf.Provider) {
	watcher, ok := provider.(Watcher)
	if !ok {
		slog.Warn("Config provider does not support watching", "path", l.options.Path)
		return
	}

	slog.Info("Config watcher started", "path", l.options.Path)

	err := watcher.Watch(func(event interface{}, err error) {
		select {
		case <-l.stopChan:
			slog.Info("Config watcher stopped", "path", l.options.Path)
			return
		default:
		}

		if err != nil {
			slog.Warn("Config watch error", "error", err)
			return
		}

		l.koanf = koanf.New(".")
		if err := l.koanf.Load(provider, l.parser); err != nil {
			slog.Warn("Failed to reload config", "error", err)
			return
		}

		if err := l.expandEnvVarsInKoanf(); err != nil {
			slog.Warn("Failed to expand env vars in reloaded config", "error", err)
			return
		}

		newCfg, err := l.unmarshalAndProcess()
		if err != nil {
			slog.Warn("Reloaded config processing failed", "error", err)
			return
		}

		if l.options.OnChange == nil {
			slog.Warn("Config change detected but no OnChange callback set")
			return
		}

		if err := l.options.OnChange(newCfg); err != nil {
			slog.Warn("Config change callback failed", "error", err)
		} else {
			slog.Info("Configuration reloaded", "path", l.options.Path)
		}
	})

	if err != nil {
		slog.Warn("Config watch stopped with error", "error", err)
	}
}

func (l *Loader) unmarshalAndProcess() (*Config, error) {
	cfg := &Config{}
	if err := l.koanf.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "yaml",
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (l *Loader) expandEnvVarsInKoanf() error {
	rawMap := l.koanf.Raw()

	expandedMap := ExpandEnvVarsInData(rawMap)

	expandedMapData, ok := expandedMap.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected type after env var expansion")
	}

	newKoanf := koanf.New(".")
	if err := newKoanf.Load(confmap.Provider(expandedMapData, "."), nil); err != nil {
		return fmt.Errorf("failed to load expanded config: %w", err)
	}

	l.koanf = newKoanf

	return nil
}

func (l *Loader) Stop() {
	close(l.stopChan)
}

func (l *Loader) SetOnChange(callback func(*Config) error) {
	l.options.OnChange = callback
}

// LoadConfig loads a config file without keeping the loader around.
func LoadConfig(opts LoaderOptions) (*Config, error) {
	cfg, _, err := LoadConfigWithLoader(opts)
	return cfg, err
}

// LoadConfigWithLoader loads a config file and returns the loader so the
// caller can stop the watcher or swap the change callback.
func LoadConfigWithLoader(opts LoaderOptions) (*Config, *Loader, error) {
	loader, err := NewLoader(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create loader: %w", err)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, loader, nil
}
