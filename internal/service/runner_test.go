package service_test

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kantan-tools/kscrape/internal/service"
	"github.com/stretchr/testify/require"
)

// lines collects LineFunc calls
type lines struct {
	mx    sync.Mutex
	lines []string
}

func (l *lines) add(_ context.Context, line string) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.lines = append(l.lines, line)
}

func (l *lines) get() []string {
	l.mx.Lock()
	defer l.mx.Unlock()
	return append([]string(nil), l.lines...)
}

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func TestProcess(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	t.Run("lines and stderr", func(t *testing.T) {
		t.Parallel()
		var got lines
		cmd := service.Command{
			Path: sh,
			Args: []string{"-c", `printf 'one\r\ntwo\n'; echo oops >&2; printf 'tail'`},
		}
		proc, err := service.Start(t.Context(), cmd, got.add)
		require.NoError(t, err)
		res := proc.Wait()

		require.NoError(t, res.Err)
		require.Equal(t, 0, res.ExitCode())
		require.Equal(t, sh, res.Path)
		require.Equal(t, []string{"one", "two", "tail"}, got.get())
		require.Equal(t, "one\r\ntwo\ntail", res.Stdout)
		require.Equal(t, "oops\n", res.Stderr)
		require.False(t, res.Stopped.Before(res.Started))
	})

	t.Run("env and dir", func(t *testing.T) {
		t.Parallel()
		var got lines
		dir := t.TempDir()
		cmd := service.Command{
			Path: sh,
			Args: []string{"-c", `echo "$KSCRAPE_TEST"; pwd`},
			Env:  []string{"KSCRAPE_TEST=hello"},
			Dir:  dir,
		}
		proc, err := service.Start(t.Context(), cmd, got.add)
		require.NoError(t, err)
		res := proc.Wait()
		require.NoError(t, res.Err)
		out := got.get()
		require.Len(t, out, 2)
		require.Equal(t, "hello", out[0])
		require.True(t, strings.HasSuffix(out[1], filepath.Base(dir)), out[1])
	})

	t.Run("exit code", func(t *testing.T) {
		t.Parallel()
		cmd := service.Command{
			Path: sh,
			Args: []string{"-c", `echo bad >&2; exit 3`},
		}
		proc, err := service.Start(t.Context(), cmd, nil)
		require.NoError(t, err)
		res := proc.Wait()
		var exitErr *exec.ExitError
		require.ErrorAs(t, res.Err, &exitErr)
		require.Equal(t, 3, res.ExitCode())
		require.Equal(t, "bad\n", res.Stderr)
	})

	t.Run("kill", func(t *testing.T) {
		t.Parallel()
		cmd := service.Command{
			Path: sh,
			Args: []string{"-c", `sleep 30 & sleep 30; wait`},
		}
		proc, err := service.Start(t.Context(), cmd, nil)
		require.NoError(t, err)
		start := time.Now()
		time.AfterFunc(50*time.Millisecond, proc.Kill)
		res := proc.Wait()
		require.Error(t, res.Err)
		require.Less(t, time.Since(start), 10*time.Second)
		// safe after exit
		proc.Kill()
	})

	t.Run("context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		cmd := service.Command{
			Path: sh,
			Args: []string{"-c", `sleep 30`},
		}
		proc, err := service.Start(ctx, cmd, nil)
		require.NoError(t, err)
		cancel()
		res := proc.Wait()
		require.Error(t, res.Err)
	})

	t.Run("exec error", func(t *testing.T) {
		t.Parallel()
		noCmd := service.Command{
			Path: "does not exist",
		}
		_, err := service.Start(t.Context(), noCmd, nil)
		require.Error(t, err)
		var execErr *exec.Error
		require.ErrorAs(t, err, &execErr)
		require.Equal(t, noCmd.Path, execErr.Name)
	})
}

func TestProcessOutputLimit(t *testing.T) {
	t.Parallel()
	sh := shell(t)
	// 2 MiB of 'a' without any newline
	cmd := service.Command{
		Path: sh,
		Args: []string{"-c", `head -c 2097152 /dev/zero | tr '\0' a`},
	}
	var got lines
	proc, err := service.Start(t.Context(), cmd, got.add)
	require.NoError(t, err)
	res := proc.Wait()
	require.NoError(t, res.Err)
	require.True(t, strings.HasSuffix(res.Stdout, "(output truncated)"))
	require.Less(t, len(res.Stdout), 2<<20)
	require.NotEmpty(t, got.get())
}
