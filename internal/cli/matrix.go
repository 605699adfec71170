package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/txentity/internal/entity"
)

// MatrixOptions holds flags for the matrix command.
type MatrixOptions struct {
	*RootOptions
	Op string // single operation to show
}

// matrixHeader is the header of the text rendering.
var matrixHeader = []string{"Op", "Class", "Created", "Durable", "Deleted"}

// NewMatrixCommand creates the matrix command.
func NewMatrixCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatrixOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Show the wrapper dispatch tables",
		Long: `Show how every wrapper operation resolves for each session class
and wrapper state bucket.

"handled" marks cells the operation implements itself; other cells show
the error kind of the default policy. The detached row applies to
wrappers whose session released them, whatever their class.

Examples:
  txentity matrix
  txentity matrix --op version
  txentity matrix --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatrix(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Op, "op", "", "show a single operation")

	return cmd
}

func runMatrix(opts *MatrixOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if opts.Op != "" {
		info, ok := entity.LookupOperation(opts.Op)
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown operation %q", opts.Op))
		}
		return f.Table(info, matrixHeader, matrixRows(info))
	}

	infos := entity.Operations()
	var rows [][]string
	for _, info := range infos {
		rows = append(rows, matrixRows(info)...)
	}
	return f.Table(infos, matrixHeader, rows)
}

// matrixRows renders one operation as one row per class plus the detached
// row. Cells arrive class-major in bucket order.
func matrixRows(info entity.OperationInfo) [][]string {
	var rows [][]string
	byClass := map[string][]string{}
	for _, cell := range info.Cells {
		if _, seen := byClass[cell.Class]; !seen {
			rows = append(rows, []string{info.Name, cell.Class})
		}
		byClass[cell.Class] = append(byClass[cell.Class], cell.Outcome)
	}
	for i, row := range rows {
		rows[i] = append(row, byClass[row[1]]...)
	}
	return append(rows, []string{info.Name, entity.BucketDetached.String(), info.Detached, info.Detached, info.Detached})
}
