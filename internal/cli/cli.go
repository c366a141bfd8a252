package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/specialistvlad/remotebox/internal/app"
	hclload "github.com/specialistvlad/remotebox/internal/hcl"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitRunFailure = 1
	ExitUsage      = 2
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

type globalFlags struct {
	logLevel        string
	logFormat       string
	statePath       string
	workers         int
	healthcheckPort int
	eventsURL       string
}

// Execute runs the command line and maps failures to an *ExitError. Logs go
// to errW; results go to outW.
func Execute(ctx context.Context, args []string, outW, errW io.Writer, opts ...app.Option) error {
	root := NewRootCommand(outW, errW, opts...)
	root.SetArgs(args)
	return toExitError(root.ExecuteContext(ctx))
}

// NewRootCommand builds the remotebox command tree.
func NewRootCommand(outW, errW io.Writer, opts ...app.Option) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "remotebox",
		Short: "remotebox - bring up a remote development environment",
		Long: `remotebox provisions a remote machine, waits for it to accept SSH, prepares it,
mounts a local directory on it through a sidecar and starts a development
container there, following the dependency graph declared in HCL pipeline files.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return flags.validate()
		},
	}
	root.SetOut(outW)
	root.SetErr(errW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.StringVar(&flags.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	pf.StringVar(&flags.statePath, "state", "", "Path to the state file. Defaults to .remotebox/state.db next to the pipeline.")
	pf.IntVar(&flags.workers, "workers", 0, "Maximum number of concurrently running nodes. 0 uses the pipeline settings.")
	pf.IntVar(&flags.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	pf.StringVar(&flags.eventsURL, "events-url", "", "socket.io server that receives node progress events during 'up'.")

	newApp := func(path string) (*app.App, error) {
		cfg, err := app.NewConfig(app.Config{
			PipelinePath:    path,
			StatePath:       flags.statePath,
			LogFormat:       flags.logFormat,
			LogLevel:        flags.logLevel,
			HealthcheckPort: flags.healthcheckPort,
			WorkerCount:     flags.workers,
			EventsURL:       flags.eventsURL,
		})
		if err != nil {
			return nil, &ExitError{Code: ExitUsage, Message: err.Error()}
		}
		return app.NewApp(errW, cfg, hclload.NewLoader(), opts...), nil
	}

	root.AddCommand(
		newUpCommand(outW, newApp),
		newValidateCommand(outW, newApp),
		newOutputsCommand(outW, newApp),
		newDownCommand(outW, newApp),
	)
	return root
}

func (f *globalFlags) validate() error {
	f.logFormat = strings.ToLower(f.logFormat)
	if f.logFormat != "text" && f.logFormat != "json" {
		return &ExitError{Code: ExitUsage, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	f.logLevel = strings.ToLower(f.logLevel)
	switch f.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return &ExitError{Code: ExitUsage, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	if f.workers < 0 {
		return &ExitError{Code: ExitUsage, Message: "invalid workers: must not be negative"}
	}
	return nil
}

// pipelineArg requires exactly one PIPELINE argument, plus up to extra
// optional ones.
func pipelineArg(extra int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 || len(args) > 1+extra {
			return &ExitError{Code: ExitUsage, Message: fmt.Sprintf("usage: %s", cmd.UseLine())}
		}
		return nil
	}
}

// toExitError maps an error to the process exit code it warrants.
func toExitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	var cfgErr *app.ConfigError
	if errors.As(err, &cfgErr) {
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	return &ExitError{Code: ExitRunFailure, Message: err.Error()}
}
