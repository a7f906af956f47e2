package supervisor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botcore/regtest/libs/log"
)

// fakeDaemon records its pid in <datadir>/pid, prints its arguments and
// runs until terminated. It exits 1 at once when its data directory ends
// in failSuffix.
const fakeDaemon = `#!/bin/sh
datadir=.
for a in "$@"; do
  case "$a" in
    -datadir=*) datadir="${a#-datadir=}" ;;
  esac
done
mkdir -p "$datadir"
echo $$ > "$datadir/pid"
echo "args: $*"
echo "cwd: $(pwd)" 1>&2
case "$datadir" in
  *"$FAIL_SUFFIX") [ -n "$FAIL_SUFFIX" ] && exit 1 ;;
esac
trap 'echo "shutting down"; exit 0' TERM
while true; do sleep 0.05; done
`

// stubbornDaemon ignores SIGTERM.
const stubbornDaemon = `#!/bin/sh
trap '' TERM
while true; do sleep 0.05; done
`

type lockedBuffer struct {
	mtx sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.buf.String()
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

func testOptions() Options {
	return Options{
		StartupGrace:  200 * time.Millisecond,
		DrainInterval: 100 * time.Millisecond,
		KillWait:      5 * time.Second,
		StreamOutput:  true,
	}
}

func skipIfNoShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("requires a POSIX shell")
	}
}

func readPID(t *testing.T, dataDir string) int {
	t.Helper()
	var bz []byte
	require.Eventually(t, func() bool {
		var err error
		bz, err = os.ReadFile(filepath.Join(dataDir, "pid"))
		return err == nil && len(bytes.TrimSpace(bz)) > 0
	}, 5*time.Second, 10*time.Millisecond)
	pid, err := strconv.Atoi(strings.TrimSpace(string(bz)))
	require.NoError(t, err)
	return pid
}

func TestLaunchAndTerminateTopology(t *testing.T) {
	skipIfNoShell(t)

	out := &lockedBuffer{}
	logger, err := log.NewLogger(out, log.LogFormatJSON, log.LogLevelDebug)
	require.NoError(t, err)

	exe := writeScript(t, "botcoind", fakeDaemon)
	dataDir := filepath.Join(t.TempDir(), "botcoin")
	sup := New(logger, testOptions())

	launched := time.Now()
	topo, err := sup.LaunchTopology(context.Background(), PeerSpec{
		Exec:           exe,
		Args:           baseArgs(),
		DataDir:        dataDir,
		ConnectAddress: "127.0.0.1",
	}, 3)
	require.NoError(t, err)
	require.Equal(t, 3, topo.Len())

	peers := topo.Peers()
	for i, h := range peers {
		assert.True(t, h.Running())
		assert.False(t, h.Started().Before(launched), h.Name)
		if i > 0 {
			// peers start one after another
			assert.True(t, h.Started().After(peers[i-1].Started()), h.Name)
		}
		assert.Equal(t, RolePeer, h.Role)
		assert.Equal(t, i, h.Index)
		assert.Contains(t, h.Args, "-datadir="+PeerDataDir(dataDir, i))
		assert.Equal(t, h.PID(), readPID(t, PeerDataDir(dataDir, i)))
	}
	assert.Contains(t, peers[1].Args, "-rpcport=58333")
	assert.Contains(t, peers[1].Args, "-listen=0")
	assert.Contains(t, peers[1].Args, "-connect=127.0.0.1")

	serviceDir := t.TempDir()
	svc, err := sup.LaunchDependent(context.Background(), topo, ServiceSpec{
		Name: "indexer",
		Exec: exe,
		Args: []string{"start"},
		Dir:  serviceDir,
	})
	require.NoError(t, err)
	assert.Equal(t, svc, topo.Service())
	assert.Equal(t, 4, topo.Len())

	_, err = sup.LaunchDependent(context.Background(), topo, ServiceSpec{Exec: exe})
	assert.Error(t, err, "a topology has a single service")

	start := time.Now()
	require.NoError(t, sup.TerminateAll(context.Background(), topo))
	assert.GreaterOrEqual(t, time.Since(start), testOptions().DrainInterval)
	for _, h := range append(peers, svc) {
		assert.False(t, h.Running(), h.Name)
	}

	start = time.Now()
	require.NoError(t, sup.TerminateAll(context.Background(), topo))
	assert.Less(t, time.Since(start), testOptions().DrainInterval, "second call must not drain again")

	assert.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "shutting down") &&
			strings.Contains(s, `"uptime"`) &&
			strings.Contains(s, "cwd: "+serviceDir) &&
			strings.Contains(s, `"stream":"stderr"`)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLaunchTopologyStartupFailure(t *testing.T) {
	skipIfNoShell(t)
	t.Setenv("FAIL_SUFFIX", "2")

	exe := writeScript(t, "botcoind", fakeDaemon)
	dataDir := filepath.Join(t.TempDir(), "botcoin")
	sup := New(log.TestingLogger(), testOptions())

	topo, err := sup.LaunchTopology(context.Background(), PeerSpec{
		Exec:           exe,
		Args:           baseArgs(),
		DataDir:        dataDir,
		ConnectAddress: "127.0.0.1",
	}, 3)
	assert.Nil(t, topo)

	var se *StartupError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "peer2", se.Name)

	// the peers started before the failure are gone
	for i := 0; i < 2; i++ {
		pid := readPID(t, PeerDataDir(dataDir, i))
		assert.False(t, processAlive(pid), "peer%d (pid %d) still running", i, pid)
	}
}

func TestLaunchMissingExecutable(t *testing.T) {
	sup := New(log.TestingLogger(), testOptions())
	_, err := sup.LaunchTopology(context.Background(), PeerSpec{
		Exec:    "botcoind-does-not-exist",
		Args:    baseArgs(),
		DataDir: t.TempDir(),
	}, 1)

	var se *StartupError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.True(t, errors.Is(err, exec.ErrNotFound))
}

func TestLaunchDependentExitsImmediately(t *testing.T) {
	skipIfNoShell(t)

	exe := writeScript(t, "botcoind", fakeDaemon)
	exitZero := writeScript(t, "botcored", "#!/bin/sh\nexit 0\n")
	sup := New(log.TestingLogger(), testOptions())

	topo, err := sup.LaunchTopology(context.Background(), PeerSpec{
		Exec:    exe,
		Args:    baseArgs(),
		DataDir: filepath.Join(t.TempDir(), "botcoin"),
	}, 1)
	require.NoError(t, err)
	defer func() { require.NoError(t, sup.TerminateAll(context.Background(), topo)) }()

	_, err = sup.LaunchDependent(context.Background(), topo, ServiceSpec{Name: "indexer", Exec: exitZero})
	var se *StartupError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Nil(t, topo.Service())
}

func TestTerminateAllKillsStubbornProcess(t *testing.T) {
	skipIfNoShell(t)

	exe := writeScript(t, "botcoind", stubbornDaemon)
	sup := New(log.TestingLogger(), testOptions())

	topo, err := sup.LaunchTopology(context.Background(), PeerSpec{
		Exec:    exe,
		Args:    baseArgs(),
		DataDir: t.TempDir(),
	}, 1)
	require.NoError(t, err)
	h := topo.Peers()[0]

	require.NoError(t, sup.TerminateAll(context.Background(), topo))
	assert.False(t, h.Running())
	assert.Error(t, h.ExitErr(), "killed processes report a signal exit")
}

func TestTerminateAllEmpty(t *testing.T) {
	sup := New(log.TestingLogger(), Options{DrainInterval: time.Hour, KillWait: time.Second})

	assert.NoError(t, sup.TerminateAll(context.Background(), nil))
	assert.NoError(t, sup.TerminateAll(context.Background(), &Topology{}))
}

func TestLaunchCanceled(t *testing.T) {
	skipIfNoShell(t)

	exe := writeScript(t, "botcoind", fakeDaemon)
	opts := testOptions()
	opts.StartupGrace = time.Hour
	sup := New(log.TestingLogger(), opts)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	topo, err := sup.LaunchTopology(ctx, PeerSpec{Exec: exe, Args: baseArgs(), DataDir: t.TempDir()}, 1)
	assert.Nil(t, topo)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}
