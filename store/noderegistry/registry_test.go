package noderegistry

import (
	"context"
	"flag"
	"testing"

	"github.com/stretchr/testify/require"

	"xdao.co/pinfetch/store"
)

type fakeNode struct {
	store.Node
	repo  string
	label string
}

func registerFake(t *testing.T, name string, usage Usage) {
	t.Helper()
	require.NoError(t, Register(Backend{
		Name:  name,
		Usage: usage,
		Flags: func(fs *flag.FlagSet) OpenFunc {
			label := fs.String(name+"-label", "default", "label")
			return func(ctx context.Context, repo string) (store.Node, error) {
				return &fakeNode{repo: repo, label: *label}, nil
			}
		},
	}))
}

func TestRegisterValidates(t *testing.T) {
	require.Error(t, Register(Backend{}))
	require.Error(t, Register(Backend{Name: "x-noflags", Usage: UsageCLI}))
	require.Error(t, Register(Backend{Name: "x-nousage", Flags: func(*flag.FlagSet) OpenFunc { return nil }}))

	registerFake(t, "test-dup", UsageCLI)
	require.Error(t, Register(Backend{Name: "test-dup", Usage: UsageCLI, Flags: func(*flag.FlagSet) OpenFunc { return nil }}))
	require.Panics(t, func() { MustRegister(Backend{Name: "test-dup"}) })
}

func TestListFiltersByUsage(t *testing.T) {
	registerFake(t, "test-cli-only", UsageCLI)
	registerFake(t, "test-daemon-only", UsageDaemon)

	require.Contains(t, Names(UsageCLI), "test-cli-only")
	require.NotContains(t, Names(UsageCLI), "test-daemon-only")
	require.Contains(t, Names(UsageDaemon), "test-daemon-only")

	names := Names(UsageCLI | UsageDaemon)
	for i := 1; i < len(names); i++ {
		require.Less(t, names[i-1], names[i], "names are sorted")
	}
}

func TestBoundOpen(t *testing.T) {
	registerFake(t, "test-bound", UsageCLI)
	registerFake(t, "test-bound-daemon", UsageDaemon)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	b := RegisterFlags(fs, UsageCLI)
	require.NoError(t, fs.Parse([]string{"--test-bound-label=parsed"}))

	node, err := b.Open(context.Background(), "test-bound", "/repo")
	require.NoError(t, err)
	require.Equal(t, "parsed", node.(*fakeNode).label)
	require.Equal(t, "/repo", node.(*fakeNode).repo)

	_, err = b.Open(context.Background(), "test-bound-daemon", "")
	require.ErrorContains(t, err, "not supported")
	_, err = b.Open(context.Background(), "no-such-backend", "")
	require.ErrorContains(t, err, "unknown backend")
}

func TestOpenWithConfig(t *testing.T) {
	registerFake(t, "test-config", UsageDaemon)

	node, err := OpenWithConfig(context.Background(), "test-config", UsageDaemon, "", map[string]string{"test-config-label": "from-config"})
	require.NoError(t, err)
	require.Equal(t, "from-config", node.(*fakeNode).label)

	_, err = OpenWithConfig(context.Background(), "test-config", UsageCLI, "", nil)
	require.Error(t, err)
	_, err = OpenWithConfig(context.Background(), "test-config", UsageDaemon, "", map[string]string{"nope": "1"})
	require.ErrorContains(t, err, "unknown config key")
}
