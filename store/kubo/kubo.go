package kubo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ipfs/go-cid"

	"xdao.co/pinfetch/store"
)

// Node is a content-store node backed by the local Kubo "ipfs" CLI.
//
// Properties:
// - Offline by default: operates on the local IPFS repo and fails fast on
//   content that is not already there, instead of searching the network.
// - Best-effort: relies on an external "ipfs" binary (configurable).
//
// Each call spawns one process, so concurrent calls are independent.
//
// Note: This package does not embed a network client; it shells out to the
// local Kubo CLI.
type Node struct {
	bin      string
	env      []string
	offline  bool
	shutdown bool
	chunks   store.ChunkOptions
	stopped  atomic.Bool
}

var _ store.Node = (*Node)(nil)

type Options struct {
	// Bin is the path to the ipfs binary. If empty, "ipfs" is used.
	Bin string
	// Repo sets IPFS_PATH for every command. If empty, the environment decides.
	Repo string
	// Env optionally overrides the command environment.
	// If nil, the process environment is used.
	Env []string
	// Online lets commands reach the network for content missing locally.
	Online bool
	// ShutdownOnStop runs "ipfs shutdown" in Stop, for nodes this process owns.
	ShutdownOnStop bool
	// Chunks sets Cat's chunk boundaries.
	Chunks store.ChunkOptions
}

func New(opts Options) *Node {
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	env := opts.Env
	if opts.Repo != "" {
		if env == nil {
			env = os.Environ()
		}
		env = append(append([]string(nil), env...), "IPFS_PATH="+opts.Repo)
	}
	return &Node{
		bin:      bin,
		env:      env,
		offline:  !opts.Online,
		shutdown: opts.ShutdownOnStop,
		chunks:   opts.Chunks,
	}
}

func (n *Node) Stat(ctx context.Context, id string) (*store.ObjectStat, error) {
	if n.stopped.Load() {
		return nil, store.ErrStopped
	}
	c, err := decode(id)
	if err != nil {
		return nil, err
	}
	out, err := n.run(ctx, nil, "files", "stat", "--format", "<type> <size>", "/ipfs/"+c.String())
	if err != nil {
		if isLikelyNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return parseStat(c.String(), out)
}

func parseStat(id string, out []byte) (*store.ObjectStat, error) {
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return nil, fmt.Errorf("kubo: unexpected files stat output %q", out)
	}
	st := &store.ObjectStat{CID: id, Type: store.ParseObjectType(fields[0])}
	if len(fields) > 1 {
		if size, err := strconv.ParseInt(fields[1], 10, 64); err == nil && size >= 0 {
			st.DataSize = size
			st.HasDataSize = true
		}
	}
	return st, nil
}

func (n *Node) Cat(ctx context.Context, id string) (store.Stream, error) {
	if n.stopped.Load() {
		return nil, store.ErrStopped
	}
	c, err := decode(id)
	if err != nil {
		return nil, err
	}
	// The process outlives this call; Close on the stream ends it.
	cmd := n.command(nil, "cat", c.String())
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("kubo: start cat: %w", err)
	}
	r := &catReader{cmd: cmd, stdout: stdout, stderr: stderr}
	return store.NewReaderStream(r, n.chunks), nil
}

func (n *Node) Add(ctx context.Context, data []byte) (string, error) {
	if n.stopped.Load() {
		return "", store.ErrStopped
	}
	if data == nil {
		data = []byte{}
	}
	out, err := n.run(ctx, data,
		"add",
		"--quiet",
		"--pin=false",
		"--cid-version=1",
		"--raw-leaves",
		"--hash=sha2-256",
	)
	if err != nil {
		return "", err
	}
	lines := strings.Fields(string(out))
	if len(lines) == 0 {
		return "", fmt.Errorf("kubo: add returned no cid")
	}
	// The root is reported last.
	got, err := cid.Decode(lines[len(lines)-1])
	if err != nil {
		return "", fmt.Errorf("kubo: unexpected add output: %w", err)
	}
	return got.String(), nil
}

func (n *Node) Pin(ctx context.Context, id string) error {
	if n.stopped.Load() {
		return store.ErrStopped
	}
	c, err := decode(id)
	if err != nil {
		return err
	}
	// "pin add" on a pinned CID is a no-op in Kubo.
	if _, err := n.run(ctx, nil, "pin", "add", "--progress=false", c.String()); err != nil {
		if isLikelyNotFound(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (n *Node) Stop(ctx context.Context) error {
	if n.stopped.Swap(true) {
		return nil
	}
	if !n.shutdown {
		return nil
	}
	_, err := n.run(ctx, nil, "shutdown")
	return err
}

func (n *Node) command(stdin []byte, args ...string) *exec.Cmd {
	cmd := exec.Command(n.bin, n.args(args)...)
	n.configure(cmd, stdin)
	return cmd
}

func (n *Node) args(args []string) []string {
	if n.offline {
		return append([]string{"--offline"}, args...)
	}
	return args
}

func (n *Node) configure(cmd *exec.Cmd, stdin []byte) {
	if n.env != nil {
		cmd.Env = n.env
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
}

func (n *Node) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, n.bin, n.args(args)...)
	n.configure(cmd, stdin)

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, exitError(err, nil)
}

func exitError(err error, stderr []byte) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if stderr == nil {
			stderr = ee.Stderr
		}
		s := strings.TrimSpace(string(stderr))
		if s == "" {
			return fmt.Errorf("kubo: %v", err)
		}
		return fmt.Errorf("kubo: %s", s)
	}
	return err
}

func decode(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil || !id.Defined() {
		return cid.Undef, store.ErrInvalidCID
	}
	return id, nil
}

func isLikelyNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find")
}

func isLikelyNotAFile(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "directory") ||
		strings.Contains(msg, "not a file") ||
		strings.Contains(msg, "unsupported")
}

// catReader reads a running "ipfs cat" and reports its exit status at EOF.
type catReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer

	once    sync.Once
	waitErr error
}

func (r *catReader) Read(p []byte) (int, error) {
	n, err := r.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		if werr := r.wait(); werr != nil {
			return n, r.mapErr(werr)
		}
	}
	return n, err
}

func (r *catReader) wait() error {
	r.once.Do(func() { r.waitErr = r.cmd.Wait() })
	return r.waitErr
}

func (r *catReader) mapErr(err error) error {
	err = exitError(err, r.stderr.Bytes())
	switch {
	case isLikelyNotAFile(err):
		return fmt.Errorf("%w: %v", store.ErrNotAFile, err)
	case isLikelyNotFound(err):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	default:
		return err
	}
}

// Close ends the process. stdout is closed before Wait so a Read still
// blocked on the pipe returns instead of racing Wait's own close.
func (r *catReader) Close() error {
	// Kill on a finished process returns os.ErrProcessDone.
	_ = r.cmd.Process.Kill()
	_ = r.stdout.Close()
	_ = r.wait()
	return nil
}
