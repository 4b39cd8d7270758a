package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xdao.co/pinfetch/client"
	"xdao.co/pinfetch/store/localfs"
	"xdao.co/pinfetch/store/multinode"
	"xdao.co/pinfetch/store/noderegistry"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, "pinfetch.yaml", `
backend: localfs
repo: /srv/pinfetch
timeout: 2s
read_deadline: 1m
max_size: 1024
log_level: debug
log_format: json
metrics_addr: ":9100"
options:
  localfs-min-chunk: "65536"
fallbacks:
  - name: grpc
    options: {grpc-target: "node:7070"}
write_policy: all
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "localfs", cfg.Backend)
	require.Equal(t, "/srv/pinfetch", cfg.Repo)
	require.Equal(t, Duration(2*time.Second), cfg.Timeout)
	require.Equal(t, Duration(time.Minute), cfg.ReadDeadline)
	require.EqualValues(t, 1024, cfg.MaxSize)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, ":9100", cfg.MetricsAddr)
	require.Equal(t, map[string]string{"localfs-min-chunk": "65536"}, cfg.Options)
	require.Equal(t, []BackendConfig{{Name: "grpc", Options: map[string]string{"grpc-target": "node:7070"}}}, cfg.Fallbacks)
	require.Equal(t, "all", cfg.WritePolicy)
}

func TestLoadFile_JSONKeepsDefaults(t *testing.T) {
	path := writeFile(t, "pinfetch.json", `{"repo": "/tmp/r", "timeout": "250ms"}`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultBackend, cfg.Backend)
	require.Equal(t, Duration(250*time.Millisecond), cfg.Timeout)
	require.EqualValues(t, DefaultMaxSize, cfg.MaxSize)
	require.Equal(t, "console", cfg.LogFormat)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile("")
	require.Error(t, err)
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = LoadFile(writeFile(t, "bad.json", `{"backend": "localfs", "surprise": true}`))
	require.ErrorContains(t, err, "surprise")
	_, err = LoadFile(writeFile(t, "bad.yml", "timeout: soon\n"))
	require.Error(t, err)
}

func TestDurationJSONForms(t *testing.T) {
	cfg, err := Parse([]byte(`{"timeout": 1500000000}`), "json")
	require.NoError(t, err)
	require.Equal(t, Duration(1500*time.Millisecond), cfg.Timeout)

	b, err := Duration(3 * time.Second).MarshalText()
	require.NoError(t, err)
	require.Equal(t, "3s", string(b))
}

func TestValidate(t *testing.T) {
	ok := Default()
	require.NoError(t, ok.Validate())

	cases := map[string]func(*Config){
		"empty backend":     func(c *Config) { c.Backend = " " },
		"zero timeout":      func(c *Config) { c.Timeout = 0 },
		"negative deadline": func(c *Config) { c.ReadDeadline = -1 },
		"negative max size": func(c *Config) { c.MaxSize = -1 },
		"log format":        func(c *Config) { c.LogFormat = "xml" },
		"write policy":      func(c *Config) { c.WritePolicy = "some" },
		"unnamed fallback":  func(c *Config) { c.Fallbacks = []BackendConfig{{Repo: "/x"}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}

	_, err := Parse([]byte("{}"), "toml")
	require.Error(t, err)
}

func TestOpen_SingleBackend(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Repo = t.TempDir()

	node, err := cfg.Open(ctx, noderegistry.UsageCLI)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Stop(ctx) })

	fs, ok := node.(*localfs.Node)
	require.True(t, ok)
	require.Equal(t, cfg.Repo, fs.Root())
}

func TestOpen_WithFallbacks(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Repo = t.TempDir()
	second := t.TempDir()
	cfg.Fallbacks = []BackendConfig{{Name: "localfs", Repo: second}}
	cfg.WritePolicy = "all"

	node, err := cfg.Open(ctx, noderegistry.UsageCLI)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Stop(ctx) })

	multi, ok := node.(*multinode.Node)
	require.True(t, ok)
	require.Equal(t, []string{"localfs", "localfs"}, multi.Backends())

	id, err := node.Add(ctx, []byte("replicated"))
	require.NoError(t, err)
	fs, err := localfs.New(second)
	require.NoError(t, err)
	_, err = fs.Stat(ctx, id)
	require.NoError(t, err)
}

func TestOpen_UnknownFallbackStopsPrimary(t *testing.T) {
	cfg := Default()
	cfg.Repo = t.TempDir()
	cfg.Fallbacks = []BackendConfig{{Name: "no-such-backend"}}

	_, err := cfg.Open(context.Background(), noderegistry.UsageCLI)
	require.Error(t, err)
}

func TestClientOptions(t *testing.T) {
	cfg := Default()
	cfg.Timeout = Duration(3 * time.Second)
	c := client.New(nil, cfg.ClientOptions()...)
	require.Equal(t, 3*time.Second, c.Timeout())
}
