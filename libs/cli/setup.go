package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	HomeFlag  = "home"
	TraceFlag = "trace"

	// EnvPrefix prefixes the environment variables of the regtest binary,
	// e.g. REGTEST_HOME or REGTEST_DAEMON_EXEC.
	EnvPrefix = "REGTEST"

	defaultHomeDir = ".regtest"
)

// DefaultHome returns $HOME/.regtest, or .regtest in the working directory
// when the user has no home.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultHomeDir
	}
	return filepath.Join(home, defaultHomeDir)
}

// PrepareMainCmd prepares cmd as the regtest binary's root command.
func PrepareMainCmd(cmd *cobra.Command) *cobra.Command {
	return PrepareBaseCmd(cmd, EnvPrefix, DefaultHome())
}

// PrepareBaseCmd wires the home/trace flags, environment lookup with the
// given prefix and config file loading into cmd.
func PrepareBaseCmd(cmd *cobra.Command, envPrefix, defaultHome string) *cobra.Command {
	cobra.OnInitialize(func() { InitEnv(envPrefix) })
	cmd.PersistentFlags().StringP(HomeFlag, "", defaultHome, "directory for config and data")
	cmd.PersistentFlags().Bool(TraceFlag, false, "print every wrapped cause of a failure")
	cmd.PersistentPreRunE = chain(BindFlagsLoadViper, cmd.PersistentPreRunE)
	return cmd
}

// Execute runs cmd and reports a failure on stderr. It returns the process
// exit code.
func Execute(ctx context.Context, cmd *cobra.Command, stderr io.Writer) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		ReportError(stderr, err, viper.GetBool(TraceFlag))
		return 1
	}
	return 0
}

// ReportError writes err to w. With trace set, each error of the wrap chain
// follows on its own line together with its type.
func ReportError(w io.Writer, err error, trace bool) {
	fmt.Fprintln(w, "ERROR:", err)
	if !trace {
		return
	}
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(w, "  %d %T: %v\n", depth, err, err)
		err = errors.Unwrap(err)
	}
}

// InitEnv makes viper read variables named <prefix>_<KEY>. Variables spelled
// without the underscore (REGTESTHOME) are copied to the underscored form.
func InitEnv(prefix string) {
	prefix = strings.ToUpper(prefix)
	withSep := prefix + "_"
	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if !ok || !strings.HasPrefix(k, prefix) || strings.HasPrefix(k, withSep) {
			continue
		}
		os.Setenv(withSep+strings.TrimPrefix(k, prefix), v)
	}

	viper.SetEnvPrefix(prefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

type cobraCmdFunc func(cmd *cobra.Command, args []string) error

// chain returns a function calling each non-nil fs in order until one fails.
func chain(fs ...cobraCmdFunc) cobraCmdFunc {
	return func(cmd *cobra.Command, args []string) error {
		for _, f := range fs {
			if f == nil {
				continue
			}
			if err := f(cmd, args); err != nil {
				return err
			}
		}
		return nil
	}
}

// BindFlagsLoadViper binds the flags of cmd, including inherited persistent
// flags, and reads config.toml from the home directory or its config/
// subdirectory when one exists.
func BindFlagsLoadViper(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	homeDir := viper.GetString(HomeFlag)
	viper.Set(HomeFlag, homeDir)
	viper.SetConfigName("config")
	viper.AddConfigPath(homeDir)
	viper.AddConfigPath(filepath.Join(homeDir, "config"))

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("reading config in %s: %w", homeDir, err)
	}
	return nil
}
