package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/txentity/internal/model"
)

// NewModelCommand creates the model command.
func NewModelCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model [model.cue]",
		Short: "Validate and show an entity type model",
		Long: `Load a CUE model and show the declared types with their
properties, blobs and links.

Without arguments, the model named by the configuration is used.

Exit codes:
  0 - Model is valid
  1 - Model is invalid
  2 - Command error (missing file, no model configured)

Examples:
  txentity model tracker.cue
  txentity model --config txentity.yaml --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModel(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runModel(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := opts.config()
		if err != nil {
			return err
		}
		path = cfg.Model
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no model file given and none configured")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("model file not found: %s", path))
	}

	m, err := model.Load(path)
	if err != nil {
		var me *model.Error
		if !errors.As(err, &me) {
			return WrapExitError(ExitCommandError, "failed to load model", err)
		}
		if err := f.Error(me.Code, me.Error(), nil); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "invalid model", err)
	}
	f.VerboseLog("loaded %d types from %s", len(m.TypeNames()), path)

	types := m.Types()
	rows := make([][]string, 0, len(types))
	for _, t := range types {
		rows = append(rows, []string{
			t.Name,
			strings.Join(t.Properties, " "),
			strings.Join(t.Blobs, " "),
			strings.Join(t.Links, " "),
		})
	}
	return f.Table(types, []string{"Type", "Properties", "Blobs", "Links"}, rows)
}
