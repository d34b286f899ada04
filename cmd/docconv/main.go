// Command docconv converts documents to consolidated text and tables.
//
// Usage:
//
//	docconv -config docconv.yaml report.pdf   # convert with YAML config
//	docconv report.pdf                        # convert with defaults
//	docconv -json report.pdf                  # emit the full result as JSON
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docconv/convert"
	"github.com/hazyhaar/docconv/idgen"
)

func main() {
	configPath := flag.String("config", "", "path to docconv.yaml config file")
	jobID := flag.String("job", "", "job ID (reuse to resume an interrupted run)")
	asJSON := flag.Bool("json", false, "emit the full result as JSON instead of text")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *jobID, *asJSON, flag.Args()); err != nil {
		logger.Error("docconv: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, jobID string, asJSON bool, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: docconv [-config <file>] [-job <id>] [-json] <document>")
		os.Exit(1)
	}
	path := args[0]

	cfg := convert.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = convert.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}

	if jobID == "" {
		jobID = idgen.Prefixed("job_", idgen.Default)()
	}

	conv, err := convert.New(cfg,
		convert.WithLogger(logger),
		convert.WithProgress(func(stage string, percent float64, _ map[string]any) {
			logger.Debug("progress", "stage", stage, "percent", percent)
		}))
	if err != nil {
		return err
	}
	defer conv.Close()

	result, err := conv.Convert(ctx, jobID, path)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	os.Stdout.WriteString(result.Text)
	os.Stdout.Write([]byte("\n"))
	return nil
}
