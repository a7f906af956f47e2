package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Executable is the minimal interface to *cobra.Command, so we can
// wrap if desired before the test
type Executable interface {
	Execute() error
}

func TestSetupEnv(t *testing.T) {
	assert, require := assert.New(t), require.New(t)

	cases := []struct {
		args     []string
		env      map[string]string
		expected string
	}{
		{nil, nil, ""},
		{[]string{"--foobar", "bang!"}, nil, "bang!"},
		// make sure reset is good
		{nil, nil, ""},
		// test both variants of the prefix
		{nil, map[string]string{"DEMO_FOOBAR": "good"}, "good"},
		{nil, map[string]string{"DEMOFOOBAR": "silly"}, "silly"},
		// and that cli overrides env...
		{[]string{"--foobar", "important"},
			map[string]string{"DEMO_FOOBAR": "ignored"}, "important"},
	}

	for idx, tc := range cases {
		i := strconv.Itoa(idx)
		// test command that store value of foobar in local variable
		var foo string
		cmd := &cobra.Command{
			Use: "demo",
			RunE: func(cmd *cobra.Command, args []string) error {
				foo = viper.GetString("foobar")
				return nil
			},
		}
		cmd.Flags().String("foobar", "", "Some test value from config")
		PrepareBaseCmd(cmd, "DEMO", "/qwerty/asdfgh") // some missing dir..

		viper.Reset()
		args := append([]string{cmd.Use}, tc.args...)
		err := runWithArgs(cmd, args, tc.env)
		require.Nil(err, i)
		assert.Equal(tc.expected, foo, i)
		clearEnv(tc.env)
	}
}

func TestSetupConfig(t *testing.T) {
	cval1 := "fubble"
	conf1 := tempDir(t, "[daemon]\nexec = \""+cval1+"\"\n")

	cases := []struct {
		args     []string
		env      map[string]string
		expected string
	}{
		{nil, nil, ""},
		// setting on the command line
		{[]string{"--daemon.exec", "/usr/bin/botcoind"}, nil, "/usr/bin/botcoind"},
		{[]string{"--home", conf1}, nil, cval1},
		// test both variants of the prefix
		{nil, map[string]string{"RD_DAEMON_EXEC": "/opt/botcoind"}, "/opt/botcoind"},
		{nil, map[string]string{"RD_HOME": conf1}, cval1},
	}

	for idx, tc := range cases {
		i := strconv.Itoa(idx)
		var exec string
		cmd := &cobra.Command{
			Use: "reader",
			RunE: func(cmd *cobra.Command, args []string) error {
				exec = viper.GetString("daemon.exec")
				return nil
			},
		}
		cmd.Flags().String("daemon.exec", "", "Daemon executable")
		PrepareBaseCmd(cmd, "RD", "/qwerty/asdfgh") // some missing dir...

		viper.Reset()
		args := append([]string{cmd.Use}, tc.args...)
		err := runWithArgs(cmd, args, tc.env)
		require.NoError(t, err, i)
		assert.Equal(t, tc.expected, exec, i)
		clearEnv(tc.env)
	}
}

func tempDir(t *testing.T, config string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(config), 0o600)
	require.NoError(t, err, fmt.Sprintf("writing config in %s", dir))
	return dir
}

func clearEnv(env map[string]string) {
	for k := range env {
		os.Unsetenv(k)
	}
}

// runWithArgs executes the given command with the specified command line args
// and environmental variables set. It returns any error returned from cmd.Execute()
func runWithArgs(cmd Executable, args []string, env map[string]string) error {
	oargs := os.Args
	oenv := map[string]string{}
	// defer returns the environment back to normal
	defer func() {
		os.Args = oargs
		for k, v := range oenv {
			os.Setenv(k, v)
		}
	}()

	// set the args and env how we want them
	os.Args = args
	for k, v := range env {
		// backup old value if there, to restore at end
		ov := os.Getenv(k)
		if ov != "" {
			oenv[k] = ov
		}
		err := os.Setenv(k, v)
		if err != nil {
			return err
		}
	}

	// and finally run the command
	return cmd.Execute()
}

func TestDefaultHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, filepath.Join("/home/tester", ".regtest"), DefaultHome())
}

type codeError struct{ code int }

func (e *codeError) Error() string { return fmt.Sprintf("code %d", e.code) }

func TestReportError(t *testing.T) {
	err := fmt.Errorf("case blocks: %w", fmt.Errorf("query: %w", &codeError{code: 404}))

	var plain bytes.Buffer
	ReportError(&plain, err, false)
	assert.Equal(t, "ERROR: case blocks: query: code 404\n", plain.String())

	var traced bytes.Buffer
	ReportError(&traced, err, true)
	assert.Equal(t, "ERROR: case blocks: query: code 404\n"+
		"  0 *fmt.wrapError: case blocks: query: code 404\n"+
		"  1 *fmt.wrapError: query: code 404\n"+
		"  2 *cli.codeError: code 404\n", traced.String())
}

func TestExecuteHonorsTrace(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{
			Use:           "failing",
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return fmt.Errorf("outer: %w", &codeError{code: 1})
			},
		}
		return PrepareBaseCmd(cmd, "TR", t.TempDir())
	}

	for _, tc := range []struct {
		args  []string
		lines int
	}{
		{[]string{}, 1},
		{[]string{"--trace"}, 3},
	} {
		viper.Reset()
		cmd := newCmd()
		cmd.SetArgs(tc.args)

		var stderr bytes.Buffer
		code := Execute(context.Background(), cmd, &stderr)
		assert.Equal(t, 1, code)
		assert.Len(t, strings.Split(strings.TrimSpace(stderr.String()), "\n"), tc.lines, stderr.String())
	}

	viper.Reset()
	ok := &cobra.Command{Use: "ok", RunE: func(*cobra.Command, []string) error { return nil }}
	ok.SetArgs([]string{})
	assert.Equal(t, 0, Execute(context.Background(), PrepareBaseCmd(ok, "TR", t.TempDir()), io.Discard))
}
