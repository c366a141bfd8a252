package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/specialistvlad/remotebox/internal/app"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type appFactory func(path string) (*app.App, error)

func newUpCommand(outW io.Writer, newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "up PIPELINE",
		Short: "Bring the environment up",
		Long: `Run every block of the pipeline in dependency order. Resources recorded in the
state file by an earlier run are reused when they still exist.`,
		Args: pipelineArg(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(args[0])
			if err != nil {
				return err
			}
			res, err := a.Up(cmd.Context())
			if res != nil {
				fmt.Fprint(outW, renderReport(res.Report, res.Outputs))
			}
			return err
		},
	}
}

func newValidateCommand(outW io.Writer, newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "validate PIPELINE",
		Short: "Check a pipeline without running it",
		Args:  pipelineArg(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(args[0])
			if err != nil {
				return err
			}
			if err := a.Validate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(outW, successStyle.Render("✔ pipeline is valid"))
			return nil
		},
	}
}

func newOutputsCommand(outW io.Writer, newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "outputs PIPELINE [NAME]",
		Short: "Print the outputs of the last successful run",
		Long: `Print every output of the last successful run as YAML, or the raw value of a
single output when NAME is given.`,
		Args: pipelineArg(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(args[0])
			if err != nil {
				return err
			}
			outputs, err := a.Outputs(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 2 {
				v, ok := outputs[args[1]]
				if !ok {
					return &ExitError{Code: ExitRunFailure, Message: fmt.Sprintf("output %q not found (have %v)", args[1], sortedNames(outputs))}
				}
				fmt.Fprintln(outW, v)
				return nil
			}
			data, err := yaml.Marshal(outputs)
			if err != nil {
				return fmt.Errorf("encoding outputs: %w", err)
			}
			_, err = outW.Write(data)
			return err
		},
	}
}

func newDownCommand(outW io.Writer, newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "down PIPELINE",
		Short: "Tear the environment down",
		Long: `Stop recorded sidecars and destroy recorded resources in reverse creation
order. Sidecars whose teardown policy is "keep" are left running.`,
		Args: pipelineArg(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(args[0])
			if err != nil {
				return err
			}
			res, err := a.Down(cmd.Context())
			if res != nil {
				fmt.Fprint(outW, renderDown(res))
			}
			return err
		},
	}
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
