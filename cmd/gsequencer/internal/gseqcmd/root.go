// Package gseqcmd contains the cobra commands for the gsequencer binary.
package gseqcmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "GSEQ"

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gsequencer",
		Short: "Orchestrate consensus proposals against a block builder",

		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "path to a config file (any format viper reads)")
	cmd.PersistentFlags().String("log-level", "info", "one of debug, info, warn, error")

	cmd.AddCommand(
		newRunCommand(),
		newBuilderCommand(),
	)

	return cmd
}

// newViper returns a viper instance reading, in order of precedence,
// the command's flags, GSEQ_ environment variables, and the --config file.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	return v, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
