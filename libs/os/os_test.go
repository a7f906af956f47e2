package os_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	rtos "github.com/botcore/regtest/libs/os"
)

func TestResetDirs(t *testing.T) {
	root := t.TempDir()
	dirA := filepath.Join(root, "botcoin")
	dirB := filepath.Join(root, "botcore")

	require.NoError(t, os.MkdirAll(filepath.Join(dirA, "regtest", "blocks"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "regtest", "wallet.dat"), []byte("x"), 0o600))

	require.NoError(t, rtos.ResetDirs(0o755, dirA, dirB))

	for _, dir := range []string{dirA, dirB} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries, "directory %s should be empty", dir)
	}
}

func TestResetDirsRefusesRoot(t *testing.T) {
	require.Error(t, rtos.ResetDirs(0o755, "/"))
	require.Error(t, rtos.ResetDirs(0o755, ""))
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, rtos.EnsureDir(dir, 0o700))
	require.True(t, rtos.FileExists(dir))
	// existing directories are fine
	require.NoError(t, rtos.EnsureDir(dir, 0o700))
}

func TestTrapSignal(t *testing.T) {
	if os.Getenv("TRAP_SIGNAL_TEST") == "1" {
		t.Log("inside test process")
		trapped()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run="+t.Name())
	mockStderr := bytes.NewBufferString("")
	cmd.Env = append(os.Environ(), "TRAP_SIGNAL_TEST=1")
	cmd.Stderr = mockStderr

	err := cmd.Run()
	require.NoError(t, err, "child should observe cancellation and exit cleanly: %s", mockStderr.String())
}

type mockLogger struct{}

func (ml mockLogger) Info(msg string, keyvals ...interface{}) {}

func trapped() {
	ctx, cancel := rtos.TrapSignal(context.Background(), mockLogger{})
	defer cancel()

	if err := rtos.Kill(); err != nil {
		os.Exit(2)
	}

	select {
	case <-ctx.Done():
		os.Exit(0)
	case <-time.After(5 * time.Second):
		os.Exit(3)
	}
}
