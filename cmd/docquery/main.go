package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"tidb-docquery/compile"
	"tidb-docquery/dbexec"
	"tidb-docquery/internal/config"
	"tidb-docquery/internal/logging"
	"tidb-docquery/internal/schemafile"
	"tidb-docquery/query"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(os.Stdout); err != nil {
		slog.Error("docquery error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(stdout io.Writer) error {
	pflag.Bool("version", false, "Print version and exit")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Fprintf(stdout, "docquery %s (%s)\n", Version, Commit)
		return nil
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger.Logger)

	reg, err := schemafile.Load(cfg.Schema)
	if err != nil {
		return err
	}

	spec, err := readSpec(cfg.Query, os.Stdin)
	if err != nil {
		return err
	}

	q, err := compile.New(reg).Compile(cfg.Entity, spec)
	if err != nil {
		return fmt.Errorf("failed to compile query: %w", err)
	}
	logger.Debug("compiled query",
		slog.String("entity", cfg.Entity),
		slog.Int("args", len(q.Args)),
	)

	if !cfg.Execute {
		return writePlan(stdout, q)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	db, err := dbexec.Open(cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	executor := dbexec.NewExecutor(dbexec.NewStandardQuerier(db), logger.Logger, nil)
	doc, err := executor.Document(ctx, q)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(stdout, string(doc))
	return err
}

// readSpec decodes the query specification from a JSON file, or from
// stdin when path is "-".
func readSpec(path string, stdin io.Reader) (*query.Tree, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open query spec: %w", err)
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var spec query.Tree
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to decode query spec: %w", err)
	}
	return &spec, nil
}

// plan is the plan-mode output document.
type plan struct {
	SQL  string        `json:"sql"`
	Args []interface{} `json:"args"`
}

func writePlan(w io.Writer, q compile.Query) error {
	p := plan{SQL: q.SQL, Args: q.Args}
	if p.Args == nil {
		// An empty statement still prints args as [].
		p.Args = []interface{}{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
