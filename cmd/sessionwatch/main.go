// Command sessionwatch polls a session-status endpoint and reports when the
// session ends, or serves a reference status backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AndreiTuhkru/sessionwatch/internal/config"
	"github.com/AndreiTuhkru/sessionwatch/internal/logging"
	"github.com/spf13/cobra"
)

var version = "dev"

// Exit codes of the watch command.
const (
	exitOK         = 0
	exitFailure    = 1
	exitUsage      = 2
	exitRedirected = 3
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitFailure
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sessionwatch",
		Short:         "Watch a web session and react when it ends",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/sessionwatch/sessionwatch.yaml or ./sessionwatch.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "text", "log format: text, json, logfmt")

	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newHashPasswordCmd())
	cmd.AddCommand(newConfigCmd(opts))

	return cmd
}

// load resolves the configuration and configures the process logger.
func (o *rootOptions) load(cmd *cobra.Command) (config.File, error) {
	c, err := config.Load(cmd, o.configPath)
	if err != nil {
		return c, &exitError{code: exitUsage, err: err}
	}
	logging.L = logging.New(cmd.ErrOrStderr(), logging.Options{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Prefix: cmd.Name(),
	})
	return c, nil
}
