// Package config loads the node and client settings shared by the binaries.
//
// Backend selection is config-driven through noderegistry; callers still link
// the backends they want with blank imports.
//
// Example (YAML):
//
//	backend: localfs
//	repo: /var/lib/pinfetch
//	timeout: 10s
//	max_size: 16777216
//	fallbacks:
//	  - name: grpc
//	    options: {grpc-target: "node.internal:7070"}
//	write_policy: first
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"xdao.co/pinfetch/client"
	"xdao.co/pinfetch/store"
	"xdao.co/pinfetch/store/multinode"
	"xdao.co/pinfetch/store/noderegistry"
)

const (
	DefaultBackend = "localfs"
	DefaultMaxSize = 16 << 20
)

type Config struct {
	// Backend is the noderegistry name of the primary node.
	Backend string `json:"backend" yaml:"backend"`
	Repo    string `json:"repo,omitempty" yaml:"repo,omitempty"`
	// Options are backend-specific; keys mirror the backend's CLI flag names.
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`

	// Fallbacks are consulted in order after the primary for reads.
	Fallbacks   []BackendConfig `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	WritePolicy string          `json:"write_policy,omitempty" yaml:"write_policy,omitempty"`

	Timeout      Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ReadDeadline Duration `json:"read_deadline,omitempty" yaml:"read_deadline,omitempty"`
	MaxSize      int64    `json:"max_size,omitempty" yaml:"max_size,omitempty"`

	LogLevel    string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFormat   string `json:"log_format,omitempty" yaml:"log_format,omitempty"`
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
}

type BackendConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Repo    string            `json:"repo,omitempty" yaml:"repo,omitempty"`
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

func Default() Config {
	return Config{
		Backend:   DefaultBackend,
		Timeout:   Duration(client.DefaultTimeout),
		MaxSize:   DefaultMaxSize,
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// LoadFile reads path over Default. Files ending in .yaml or .yml are YAML;
// anything else is JSON.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	cfg, err := Parse(b, format)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes b ("json" or "yaml") over Default and validates the result.
func Parse(b []byte, format string) (Config, error) {
	cfg := Default()
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("config: unknown format %q", format)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Backend) == "" {
		return errors.New("config: backend is required")
	}
	for i, f := range c.Fallbacks {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("config: fallbacks[%d]: name is required", i)
		}
	}
	if _, err := multinode.ParsePolicy(c.WritePolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	if c.ReadDeadline < 0 {
		return fmt.Errorf("config: read_deadline must not be negative, got %s", c.ReadDeadline)
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("config: max_size must not be negative, got %d", c.MaxSize)
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: invalid log_format %q", c.LogFormat)
	}
	return nil
}

// Open opens the configured node. With fallbacks, the primary and every
// fallback are composed with multinode under WritePolicy.
func (c Config) Open(ctx context.Context, usage noderegistry.Usage) (store.Node, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	primary, err := noderegistry.OpenWithConfig(ctx, c.Backend, usage, c.Repo, c.Options)
	if err != nil {
		return nil, err
	}
	if len(c.Fallbacks) == 0 {
		return primary, nil
	}

	named := []multinode.Named{{Name: c.Backend, Node: primary}}
	for _, f := range c.Fallbacks {
		node, err := noderegistry.OpenWithConfig(ctx, f.Name, usage, f.Repo, f.Options)
		if err != nil {
			for i := len(named) - 1; i >= 0; i-- {
				_ = named[i].Node.Stop(ctx)
			}
			return nil, err
		}
		named = append(named, multinode.Named{Name: f.Name, Node: node})
	}
	policy, _ := multinode.ParsePolicy(c.WritePolicy)
	return multinode.New(policy, named...)
}

// ClientOptions returns the client options the config implies.
func (c Config) ClientOptions() []client.Option {
	return []client.Option{
		client.WithTimeout(time.Duration(c.Timeout)),
		client.WithReadDeadline(time.Duration(c.ReadDeadline)),
	}
}
