package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botcore/regtest/config"
	"github.com/botcore/regtest/libs/cli"
	"github.com/botcore/regtest/libs/log"
	"github.com/botcore/regtest/version"
)

// testRootCmd builds the full command tree rooted at home and returns it
// together with the config it populates and its output buffer.
func testRootCmd(t *testing.T, home string) (*cobra.Command, *config.Config, *bytes.Buffer) {
	t.Helper()
	require.NoError(t, os.Unsetenv("REGTEST_HOME"))
	require.NoError(t, os.Unsetenv("REGTESTHOME"))
	viper.Reset()

	conf := config.DefaultConfig()
	logger := log.NewNopLogger()

	root := RootCommand(conf, &logger)
	root.AddCommand(
		MakeInitCommand(conf, &logger),
		MakeRunCommand(conf, &logger),
		MakeCleanupCommand(conf, &logger),
		MakeListCommand(),
		MakeVersionCommand(),
	)
	cmd := cli.PrepareBaseCmd(root, cli.EnvPrefix, home)

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	return cmd, conf, out
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func writeConfig(t *testing.T, home, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(data), 0o600))
}

func TestRootHome(t *testing.T) {
	defaultHome := t.TempDir()
	otherHome := filepath.Join(t.TempDir(), "other")

	cmd, conf, _ := testRootCmd(t, defaultHome)
	require.NoError(t, execute(t, cmd, "list"))
	assert.Equal(t, defaultHome, conf.RootDir)

	cmd, conf, _ = testRootCmd(t, defaultHome)
	require.NoError(t, execute(t, cmd, "list", "--home", otherHome))
	assert.Equal(t, otherHome, conf.RootDir)
}

func TestCommandTreesAreIndependent(t *testing.T) {
	// a first tree parsing its own flags must not leak into the next one
	cmd, _, _ := testRootCmd(t, t.TempDir())
	require.NoError(t, execute(t, cmd, "list", "--home", t.TempDir(), "--log-level", "error"))
	cmd, _, _ = testRootCmd(t, t.TempDir())
	require.NoError(t, execute(t, cmd, "version", "--verbose"))

	home := t.TempDir()
	writeConfig(t, home, `
log-level = "debug"

[daemon]
peers = 3
`)
	cmd, conf, out := testRootCmd(t, home)
	require.NoError(t, execute(t, cmd, "list"))
	assert.Equal(t, home, conf.RootDir)
	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, 3, conf.Daemon.Peers)
	assert.True(t, strings.HasPrefix(out.String(), "NAME"))

	cmd, _, out = testRootCmd(t, home)
	require.NoError(t, execute(t, cmd, "version"))
	assert.Equal(t, version.Version+"\n", out.String())
}

func TestRootLoadsConfigFile(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, `
log-level = "debug"

[daemon]
peers = 3
data-dir = "/tmp/regtest-peer"
`)

	cmd, conf, _ := testRootCmd(t, home)
	require.NoError(t, execute(t, cmd, "list"))

	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, 3, conf.Daemon.Peers)
	assert.Equal(t, "/tmp/regtest-peer", conf.Daemon.DataDir)
	// untouched sections keep their defaults
	assert.Equal(t, config.DefaultIndexerConfig().Port, conf.Indexer.Port)
}

func TestRootFlagOverridesConfigFile(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, `log-level = "debug"`)

	cmd, conf, _ := testRootCmd(t, home)
	require.NoError(t, execute(t, cmd, "list", "--log-level", "error"))
	assert.Equal(t, "error", conf.LogLevel)
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, `
[daemon]
peers = 0
`)

	cmd, _, _ := testRootCmd(t, home)
	err := execute(t, cmd, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error in config file")
	assert.Contains(t, err.Error(), "[daemon]")
}

func TestVersionSkipsConfig(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, `
[daemon]
peers = 0
`)

	cmd, _, out := testRootCmd(t, home)
	require.NoError(t, execute(t, cmd, "version"))
	assert.Equal(t, version.Version+"\n", out.String())
}

func TestVersionVerbose(t *testing.T) {
	cmd, _, out := testRootCmd(t, t.TempDir())
	require.NoError(t, execute(t, cmd, "version", "--verbose"))

	var got struct {
		Regtest  string `json:"regtest"`
		SocketIO int    `json:"socket_io"`
		EngineIO int    `json:"engine_io"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, version.Version, got.Regtest)
	assert.Equal(t, version.SocketIOProtocol, got.SocketIO)
	assert.Equal(t, version.EngineIOProtocol, got.EngineIO)
}

func TestInitWritesConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "fresh")

	cmd, _, out := testRootCmd(t, home)
	require.NoError(t, execute(t, cmd, "init"))

	path := filepath.Join(home, "config.toml")
	assert.Equal(t, path+"\n", out.String())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[daemon]")
	assert.Contains(t, string(data), "subscribe-settle")

	// a second init leaves an edited file alone
	writeConfig(t, home, `log-level = "error"`)
	cmd, conf, _ := testRootCmd(t, home)
	require.NoError(t, execute(t, cmd, "init"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `log-level = "error"`, string(data))
	assert.Equal(t, "error", conf.LogLevel)

	cmd, _, _ = testRootCmd(t, home)
	require.NoError(t, execute(t, cmd, "init", "--force"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `log-level = "error"`)
	assert.Contains(t, string(data), "[indexer]")
}

func TestListCmd(t *testing.T) {
	cmd, _, out := testRootCmd(t, t.TempDir())
	require.NoError(t, execute(t, cmd, "list"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.True(t, strings.HasPrefix(lines[1], "block "))
	assert.True(t, strings.HasPrefix(lines[2], "subscriptions "))
}

func TestCleanupRemovesDataDirs(t *testing.T) {
	home := t.TempDir()
	base := t.TempDir()
	peer := filepath.Join(base, "peer")
	idx := filepath.Join(base, "indexer")
	writeConfig(t, home, `
[daemon]
peers = 2
data-dir = "`+peer+`"

[indexer]
data-dir = "`+idx+`"
`)

	for _, dir := range []string{peer, peer + "1", idx} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "blocks"), 0o755))
	}

	cmd, _, _ := testRootCmd(t, home)
	require.NoError(t, execute(t, cmd, "cleanup"))

	for _, dir := range []string{peer, peer + "1", idx} {
		assert.NoDirExists(t, dir)
	}
	// the home directory is not a data directory
	assert.FileExists(t, filepath.Join(home, "config.toml"))
}

func TestRunUnknownScenario(t *testing.T) {
	cmd, _, _ := testRootCmd(t, t.TempDir())
	err := execute(t, cmd, "run", "no-such-scenario")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown scenario "no-such-scenario"`)
}

func TestSelectScenarios(t *testing.T) {
	all, err := selectScenarios(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	some, err := selectScenarios([]string{"subscriptions", "block"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "subscriptions", some[0].Name)
	assert.Equal(t, "block", some[1].Name)
}

func TestDataDirs(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Daemon.DataDir = "/tmp/peer"
	conf.Daemon.Peers = 3
	conf.Indexer.DataDir = "/tmp/indexer"

	assert.Equal(t,
		[]string{"/tmp/peer", "/tmp/peer1", "/tmp/peer2", "/tmp/indexer"},
		dataDirs(conf))
}
