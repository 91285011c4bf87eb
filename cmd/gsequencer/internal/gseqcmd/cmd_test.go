package gseqcmd_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gordian-engine/gsequencer/cmd/gsequencer/internal/gseqcmd"
	"github.com/stretchr/testify/require"
)

func TestRun_inMemoryBuilder(t *testing.T) {
	t.Parallel()

	cmd := gseqcmd.NewRootCommand()

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{
		"run",
		"--heights", "3",
		"--validators", "4",
		"--feed-interval", "0",
		"--log-level", "error",
	})

	require.NoError(t, cmd.ExecuteContext(t.Context()), "stderr: %s", errOut.String())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "height=1 txs=0 "), lines[0])
	require.True(t, strings.HasPrefix(lines[2], "height=3 "), lines[2])
}

func TestRun_invalidConfig(t *testing.T) {
	t.Parallel()

	cmd := gseqcmd.NewRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"run", "--validators", "0", "--start-height", "0"})

	err := cmd.ExecuteContext(t.Context())
	require.Error(t, err)
	require.Contains(t, err.Error(), "validators must be at least 1")
	require.Contains(t, err.Error(), "start-height must be at least 1")
}

func TestRun_configFile(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join(t.TempDir(), "gseq.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("heights: 2\nfeed-interval: 0s\nlog-level: error\n"), 0o600))

	cmd := gseqcmd.NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"run", "--config", cfgPath})

	require.NoError(t, cmd.ExecuteContext(t.Context()))
	require.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 2)
}

func TestRun_remoteBuilderOverUnixSocket(t *testing.T) {
	t.Parallel()

	// Short path for the unix socket length limit.
	dir, err := os.MkdirTemp("", "gseq")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "b.sock")

	serveCtx, cancelServe := context.WithCancel(t.Context())
	defer cancelServe()

	serve := gseqcmd.NewRootCommand()
	serve.SetOut(new(bytes.Buffer))
	serve.SetErr(new(bytes.Buffer))
	serve.SetArgs([]string{
		"builder", "serve",
		"--listen", "unix:" + sock,
		"--feed-interval", "5ms",
		"--log-level", "error",
	})

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- serve.ExecuteContext(serveCtx)
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	run := gseqcmd.NewRootCommand()
	var out bytes.Buffer
	run.SetOut(&out)
	run.SetErr(new(bytes.Buffer))
	run.SetArgs([]string{
		"run",
		"--builder-addr", "unix:" + sock,
		"--heights", "2",
		"--log-level", "error",
	})
	require.NoError(t, run.ExecuteContext(t.Context()))
	require.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 2)

	cancelServe()
	select {
	case err := <-serveDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("builder serve did not stop")
	}
}
