package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/orderimport/internal/config"
	"github.com/JonMunkholm/orderimport/internal/core"
	"github.com/JonMunkholm/orderimport/internal/database"
	"github.com/JonMunkholm/orderimport/internal/extract"
	"github.com/JonMunkholm/orderimport/internal/logging"
)

type extractFlags struct {
	locale  string
	verbose bool
	pretty  bool
	output  string
	sqlite  string
}

func newExtractCmd() *cobra.Command {
	var f extractFlags
	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "Extract a report and print the result as JSON",
		Long: `Extract reads the first worksheet of an XLSX, XLS or ODS order report and
prints orders, items, per-order totals and run counts as JSON.

Settings come from the EXTRACT_* environment variables; flags override them.
With --sqlite the result is also stored in a SQLite database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), cmd.OutOrStdout(), args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.locale, "locale", "", "Number locale: pt-BR or en-US (default from EXTRACT_LOCALE)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Include the diagnostic log in the output")
	cmd.Flags().BoolVar(&f.pretty, "pretty", false, "Pretty-print JSON output")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().StringVar(&f.sqlite, "sqlite", "", "Also store the result in this SQLite database")
	return cmd
}

func runExtract(ctx context.Context, stdout io.Writer, path string, f extractFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var ec config.ExtractConfig
	if err := config.LoadInto(&ec); err != nil {
		return err
	}
	if f.locale != "" {
		ec.Locale = f.locale
	}
	if f.verbose {
		ec.Verbose = true
	}

	level := "warn"
	if ec.Verbose {
		level = "debug"
	}
	logging.Setup(level, "text")

	opts, err := core.ExtractorOptions(ec)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	res, err := extract.New(opts).ExtractFile(file, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
	}

	if f.sqlite != "" {
		id, err := storeResult(ctx, f.sqlite, filepath.Base(path), res)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "stored as upload %s in %s\n", id, f.sqlite)
	}

	out := stdout
	if f.output != "" {
		of, err := os.Create(f.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer of.Close()
		out = of
	}

	enc := json.NewEncoder(out)
	if f.pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// storeResult records res as a completed upload in a SQLite database.
func storeResult(ctx context.Context, dbPath, filename string, res *extract.Result) (uuid.UUID, error) {
	store, err := database.OpenSQLite(ctx, dbPath)
	if err != nil {
		return uuid.Nil, err
	}
	defer store.Close()

	id := uuid.New()
	if err := store.CreateUpload(ctx, core.Upload{
		ID:        id,
		Filename:  filename,
		Status:    core.StatusPending,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return uuid.Nil, err
	}
	if err := store.MarkProcessing(ctx, id); err != nil {
		return uuid.Nil, err
	}
	if err := store.SaveResult(ctx, id, res); err != nil {
		msg := core.MapError(err)
		if ferr := store.FailUpload(ctx, id, core.FormatUserError(err), msg.Code, time.Now().UTC()); ferr != nil {
			return uuid.Nil, fmt.Errorf("save result: %w (recording failure: %v)", err, ferr)
		}
		return uuid.Nil, fmt.Errorf("save result: %w", err)
	}
	if err := store.CompleteUpload(ctx, id, res.Counts, time.Now().UTC()); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
