package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/txentity/internal/backend"
	"github.com/roach88/txentity/internal/entity"
)

// RecordView is the inspected content of one stored record.
type RecordView struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Version    int                 `json:"version"`
	Properties map[string]string   `json:"properties"`
	Blobs      map[string]int      `json:"blobs"` // name to size in bytes
	Links      map[string][]string `json:"links"`
	History    []int               `json:"history"` // earlier versions, newest first
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [record-id]",
		Short: "Inspect records in the configured store",
		Long: `Inspect the configured store.

Without arguments, lists every stored record with its version. With a
record id such as Issue-1, shows the record's properties, blobs, links
and earlier versions.

Exit codes:
  0 - Success
  1 - Record not found
  2 - Command error (invalid id, missing store, etc.)

Examples:
  txentity inspect --config txentity.yaml
  txentity inspect Issue-1
  TXENTITY_BACKEND=bolt TXENTITY_PATH=data.bolt txentity inspect Issue-1 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runInspect(opts *RootOptions, args []string, cmd *cobra.Command) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	f := opts.formatter(cmd)

	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("store not found: %s", cfg.Path))
	}

	var id entity.ID
	if len(args) == 1 {
		if id, err = entity.ParseID(args[0]); err != nil {
			return WrapExitError(ExitCommandError, "invalid record id", err)
		}
		if id.Transient {
			return NewExitError(ExitCommandError, fmt.Sprintf("%s is a transient id and has no stored record", id))
		}
	}

	b, err := cfg.OpenBackend()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer b.Close()
	f.VerboseLog("opened %s store at %s", cfg.Backend, cfg.Path)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if len(args) == 0 {
		return listRecords(ctx, b, f)
	}

	rec, err := b.Load(ctx, id)
	if errors.Is(err, backend.ErrNotFound) {
		if err := f.Error("E_NOT_FOUND", fmt.Sprintf("record %s not found", id), nil); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("record %s not found", id))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load record", err)
	}

	view, err := inspectRecord(ctx, rec)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read record", err)
	}
	return f.Table(view, []string{"Field", "Value"}, view.rows())
}

// listRecords prints every stored record.
func listRecords(ctx context.Context, b backend.Backend, f *OutputFormatter) error {
	lister, ok := b.(backend.Lister)
	if !ok {
		return NewExitError(ExitCommandError, "store cannot list its records")
	}
	infos, err := lister.ListRecords(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list records", err)
	}

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, []string{info.ID.String(), strconv.Itoa(info.Version), strconv.FormatBool(info.Deleted)})
	}
	return f.Table(infos, []string{"ID", "Version", "Deleted"}, rows)
}

// inspectRecord reads the content and history of a live record handle.
func inspectRecord(ctx context.Context, rec entity.Record) (*RecordView, error) {
	version, err := rec.Version(ctx)
	if err != nil {
		return nil, err
	}
	view := &RecordView{
		ID:         rec.IDString(),
		Type:       rec.Type(),
		Version:    version,
		Properties: map[string]string{},
		Blobs:      map[string]int{},
		Links:      map[string][]string{},
		History:    []int{},
	}

	reader, ok := rec.(backend.ValueReader)
	if !ok {
		return nil, fmt.Errorf("record %s does not expose its values", view.ID)
	}

	names, err := rec.PropertyNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if view.Properties[name], _, err = reader.Property(ctx, name); err != nil {
			return nil, err
		}
	}

	if names, err = rec.BlobNames(ctx); err != nil {
		return nil, err
	}
	for _, name := range names {
		data, _, err := reader.Blob(ctx, name)
		if err != nil {
			return nil, err
		}
		view.Blobs[name] = len(data)
	}

	if names, err = rec.LinkNames(ctx); err != nil {
		return nil, err
	}
	for _, name := range names {
		ids, err := reader.Links(ctx, name)
		if err != nil {
			return nil, err
		}
		targets := make([]string, len(ids))
		for i, id := range ids {
			targets[i] = id.String()
		}
		view.Links[name] = targets
	}

	history, err := rec.History(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range history {
		v, err := h.Version(ctx)
		if err != nil {
			return nil, err
		}
		view.History = append(view.History, v)
	}

	return view, nil
}

// rows renders the view as field/value rows in a stable order.
func (v *RecordView) rows() [][]string {
	rows := [][]string{
		{"id", v.ID},
		{"type", v.Type},
		{"version", strconv.Itoa(v.Version)},
	}
	for _, name := range slices.Sorted(maps.Keys(v.Properties)) {
		rows = append(rows, []string{"property " + name, v.Properties[name]})
	}
	for _, name := range slices.Sorted(maps.Keys(v.Blobs)) {
		rows = append(rows, []string{"blob " + name, fmt.Sprintf("%d bytes", v.Blobs[name])})
	}
	for _, name := range slices.Sorted(maps.Keys(v.Links)) {
		rows = append(rows, []string{"link " + name, strings.Join(v.Links[name], " ")})
	}
	history := make([]string, len(v.History))
	for i, h := range v.History {
		history[i] = strconv.Itoa(h)
	}
	return append(rows, []string{"history", strings.Join(history, " ")})
}
