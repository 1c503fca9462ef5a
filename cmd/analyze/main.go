// Command analyze sends image files and a prompt through the fallback
// orchestrator once and prints the answer.
//
// Exit codes: 0 on success, 2 when every candidate model failed, 1 on any
// other error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/upb/vision-gateway/app"
	"github.com/upb/vision-gateway/config"
	"github.com/upb/vision-gateway/internal/observability"
	"github.com/upb/vision-gateway/services"
	"github.com/upb/vision-gateway/services/analysis"
	"github.com/upb/vision-gateway/services/fallback"
)

const (
	exitOK        = 0
	exitError     = 1
	exitExhausted = 2
)

// CLI holds the command line flags
type CLI struct {
	Images      []string      `name:"image" short:"i" help:"Image file to attach; repeat for several." type:"existingfile"`
	Prompt      string        `short:"p" help:"Prompt text." xor:"prompt"`
	PromptFile  string        `name:"prompt-file" help:"Read the prompt from a file." type:"existingfile" xor:"prompt"`
	Models      []string      `name:"model" short:"m" help:"Candidate model, most preferred first; repeat for several. Overrides MODEL_PRIORITY."`
	Temperature *float64      `help:"Generation temperature between 0 and 2."`
	JSON        bool          `name:"json" help:"Print the full result as JSON."`
	Timeout     time.Duration `help:"Give up after this long, backoff waits included." default:"5m"`
	LogLevel    string        `name:"log-level" help:"Log level." default:"warn" enum:"debug,info,warn,error"`
}

// Validate is called by kong after parsing
func (c *CLI) Validate() error {
	if strings.TrimSpace(c.Prompt) == "" && c.PromptFile == "" {
		return errors.New("one of --prompt or --prompt-file is required")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return errors.New("--temperature must be between 0 and 2")
	}
	return nil
}

// Analyzer runs one analysis
type Analyzer interface {
	Analyze(ctx context.Context, req *analysis.AnalyzeRequest) (*analysis.AnalyzeResponse, error)
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("analyze"),
		kong.Description("Analyze images with a prompt, falling back across candidate models."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(start(ctx, &cli, os.Stdout, os.Stderr))
}

func start(ctx context.Context, cli *CLI, stdout, stderr io.Writer) int {
	cfg, err := config.New(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitError
	}

	logger, err := observability.NewLogger(cli.LogLevel, "console")
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return exitError
	}
	defer func() { _ = logger.Sync() }()

	// One-shot runs are not recorded
	cfg.Database = config.DatabaseConfig{}
	cfg.Auth = config.AuthConfig{}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "setup: %v\n", err)
		return exitError
	}
	defer func() { _ = deps.Close(context.Background()) }()

	return execute(ctx, cli, deps.AnalysisService, stdout, stderr)
}

// execute reads the inputs, runs the analysis and prints the outcome
func execute(ctx context.Context, cli *CLI, analyzer Analyzer, stdout, stderr io.Writer) int {
	req, err := buildRequest(cli)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	if cli.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	resp, err := analyzer.Analyze(ctx, req)
	if err != nil {
		return reportError(cli, err, stdout, stderr)
	}

	if cli.JSON {
		if err := writeJSON(stdout, resp); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return exitError
		}
		return exitOK
	}

	fmt.Fprintln(stdout, resp.Text)
	fmt.Fprintf(stderr, "answered by %s after %d attempt(s) in %dms\n", resp.Model, resp.Attempts, resp.LatencyMs)
	return exitOK
}

func buildRequest(cli *CLI) (*analysis.AnalyzeRequest, error) {
	prompt := cli.Prompt
	if cli.PromptFile != "" {
		data, err := os.ReadFile(cli.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(data)
	}

	req := &analysis.AnalyzeRequest{
		RequestID:   uuid.New().String(),
		Prompt:      prompt,
		Temperature: cli.Temperature,
		Models:      cli.Models,
	}

	for _, path := range cli.Images {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		req.Images = append(req.Images, analysis.ImageInput{Filename: filepath.Base(path), Data: data})
	}

	return req, nil
}

func reportError(cli *CLI, err error, stdout, stderr io.Writer) int {
	code := exitError
	if services.IsExhaustedError(err) {
		code = exitExhausted
	}

	var domainErr *services.DomainError
	if !errors.As(err, &domainErr) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return code
	}

	if cli.JSON {
		_ = writeJSON(stdout, map[string]interface{}{
			"error":   string(domainErr.Type),
			"message": domainErr.Message,
			"details": domainErr.Details,
		})
		return code
	}

	fmt.Fprintf(stderr, "error: %s\n", domainErr.Message)
	if report, ok := domainErr.Details["report"].(*fallback.Report); ok {
		for _, c := range report.Candidates {
			fmt.Fprintf(stderr, "  %-40s %-12s attempts=%d", c.Candidate, c.Final, c.Attempts)
			if c.LastError != "" {
				fmt.Fprintf(stderr, "  %s", c.LastError)
			}
			fmt.Fprintln(stderr)
		}
	}
	if fields, ok := domainErr.Details["fields"].(map[string]string); ok {
		for field, msg := range fields {
			fmt.Fprintf(stderr, "  %s: %s\n", field, msg)
		}
	}
	if domainErr.Err != nil {
		fmt.Fprintf(stderr, "  cause: %v\n", domainErr.Err)
	}
	return code
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
