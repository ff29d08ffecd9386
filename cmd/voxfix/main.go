// Command voxfix is the entry point for the voxfix hotword correction
// service.
//
// Usage:
//
//	voxfix [-config file] [serve]
//	voxfix [-config file] correct [-context text] [-json] [text ...]
//	voxfix [-config file] lint [rule-file]
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/voxfix/internal/app"
	"github.com/MrWong99/voxfix/internal/config"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/transcript/rulefile"
	"github.com/MrWong99/voxfix/internal/transcript/rules"
	"github.com/MrWong99/voxfix/pkg/asr"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("voxfix", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "voxfix: config file %q not found\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "voxfix: %v\n", err)
			}
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cmd, rest := "serve", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "serve":
		return serve(cfg, *configPath, level)
	case "correct":
		return correct(cfg, rest, stdin, stdout)
	case "lint":
		return lint(cfg, rest, stdout)
	default:
		fmt.Fprintf(os.Stderr, "voxfix: unknown command %q (want serve, correct or lint)\n", cmd)
		return 2
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serve(cfg *config.Config, configPath string, level *slog.LevelVar) int {
	slog.Info("voxfix starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"rule_file", cfg.Hotwords.RuleFile,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{app.WithLogLevel(level)}
	if configPath != "" {
		opts = append(opts, app.WithConfigPath(configPath))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	st := application.Corrector().Status()
	slog.Info("server ready, press Ctrl+C to shut down",
		"rules", st.Rules,
		"source", st.Source,
		"degraded", st.Degraded,
	)

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── correct ───────────────────────────────────────────────────────────────────

// correct corrects the text arguments, or each stdin line when there are
// none. With -json, stdin holds recognition results instead.
func correct(cfg *config.Config, args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("correct", flag.ContinueOnError)
	extra := fs.String("context", "", "additional context text for context-gated rules")
	asJSON := fs.Bool("json", false, "read recognition results (object or array) from stdin")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, app.WithMetrics(observe.DefaultMetrics()))
	if err != nil {
		slog.Error("failed to initialise corrector", "err", err)
		return 1
	}
	defer application.Shutdown(ctx)
	c := application.Corrector()

	if *asJSON {
		results, err := readResults(stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voxfix: %v\n", err)
			return 1
		}
		for i := range results {
			results[i].StripTags()
			c.CorrectRecognition(ctx, &results[i])
		}
		enc := json.NewEncoder(stdout)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintf(os.Stderr, "voxfix: %v\n", err)
			return 1
		}
		return 0
	}

	if texts := fs.Args(); len(texts) > 0 {
		fmt.Fprintln(stdout, c.Correct(ctx, strings.Join(texts, " "), *extra).Corrected)
		return 0
	}

	sc := bufio.NewScanner(stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fmt.Fprintln(stdout, c.Correct(ctx, sc.Text(), *extra).Corrected)
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "voxfix: read stdin: %v\n", err)
		return 1
	}
	return 0
}

func readResults(r io.Reader) ([]asr.Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	var results []asr.Result
	if err := json.Unmarshal(data, &results); err == nil {
		return results, nil
	}
	var one asr.Result
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("decode recognition result: %w", err)
	}
	return []asr.Result{one}, nil
}

// ── lint ──────────────────────────────────────────────────────────────────────

// lint prints the diagnostics of a rule file and fails when any line would
// be rejected.
func lint(cfg *config.Config, args []string, stdout io.Writer) int {
	path := cfg.Hotwords.RuleFile
	if len(args) > 0 {
		path = args[0]
	}
	m := rulefile.NewManager(path, "", rulefile.WithDefaultThreshold(cfg.Hotwords.DefaultThreshold))
	content, err := m.Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxfix: %v\n", err)
		return 1
	}

	diags := m.Validate(content.Text)
	for _, d := range diags {
		fmt.Fprintln(stdout, d.String())
	}
	if rules.HasErrors(diags) {
		return 1
	}
	fmt.Fprintf(stdout, "%s: ok (%d warning(s))\n", path, len(diags))
	return 0
}
