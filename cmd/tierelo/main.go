// Package main provides the command-line interface for tierelo. It rates items
// from pairwise comparison files, splits them into tiers and explains each
// placement, either as a one-shot batch or as an HTTP service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/pashagolub/tierelo/pkg/data"
	"github.com/pashagolub/tierelo/pkg/engine"
	"github.com/pashagolub/tierelo/pkg/journal"
	"github.com/pashagolub/tierelo/pkg/logger"
	"github.com/pashagolub/tierelo/pkg/tier"
)

// Version information - set by build process
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// stdout receives command output; tests swap it for a buffer
var stdout io.Writer = os.Stdout

// GlobalOptions defines global CLI flags
type GlobalOptions struct {
	Config  string `long:"config" short:"c" description:"Configuration file path (default $TIERELO_CONFIG)"`
	Verbose bool   `long:"verbose" short:"v" description:"Enable debug logging"`
}

// RankCommand handles 'tierelo rank' subcommand
type RankCommand struct {
	Comparisons  string   `long:"comparisons" short:"m" description:"Comparison file (csv/json/yaml)"`
	Replay       string   `long:"replay" description:"Audit log whose comparisons are applied before the comparison file"`
	Items        string   `long:"items" short:"i" description:"Item list registered before any comparison"`
	Tiers        int      `long:"tiers" short:"t" description:"Number of tiers (default from configuration)"`
	Labels       []string `long:"label" short:"l" description:"Tier label, best first; repeat once per tier"`
	Format       string   `long:"format" short:"f" description:"Output format (text/json/yaml/csv)" default:"text"`
	Output       string   `long:"output" short:"o" description:"Output file path (default stdout)"`
	Template     string   `long:"template" description:"Export template file (yaml/json) overriding --format"`
	IncludeStats bool     `long:"include-stats" description:"Include confidence factors and statistics"`
	Restore      string   `long:"restore" description:"Snapshot to start from"`
	Snapshot     string   `long:"snapshot" description:"Write a rating snapshot after ranking"`
	Journal      bool     `long:"journal" description:"Record an audit trail even if disabled in configuration"`

	Global *GlobalOptions
}

// ValidateCommand handles 'tierelo validate' subcommand
type ValidateCommand struct {
	Input   string `long:"input" short:"i" description:"Comparison file to validate" required:"true"`
	Preview int    `long:"preview" description:"Number of comparisons to preview" default:"5"`

	Global *GlobalOptions
}

// VersionCommand handles 'tierelo version' subcommand
type VersionCommand struct{}

// ErrorCode represents CLI exit codes
type ErrorCode int

const (
	ExitSuccess ErrorCode = iota
	ExitFileError
	ExitConfigError
	ExitEngineError
	ExitExportError
	ExitValidationError
	ExitServerError
)

// CLIError represents a CLI error with exit code
type CLIError struct {
	Code        ErrorCode
	Message     string
	Details     map[string]any
	Suggestions []string
}

func (e *CLIError) Error() string {
	return e.Message
}

// formatErrorJSON formats error as JSON for structured output
func formatErrorJSON(err *CLIError) string {
	body := map[string]any{
		"code":    err.Code,
		"message": err.Message,
	}
	if err.Details != nil {
		body["details"] = err.Details
	}
	if err.Suggestions != nil {
		body["suggestions"] = err.Suggestions
	}

	jsonBytes, _ := json.MarshalIndent(map[string]any{"error": body}, "", "  ")
	return string(jsonBytes)
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		var cliErr *CLIError
		if errors.As(err, &cliErr) {
			fmt.Fprintln(os.Stderr, formatErrorJSON(cliErr))
			os.Exit(int(cliErr.Code))
		}
		log.Fatal(err)
	}
}

func newParser() *flags.Parser {
	parser := flags.NewParser(nil, flags.Default)
	parser.Usage = "[OPTIONS] COMMAND [COMMAND-OPTIONS]"

	_, _ = parser.AddCommand("rank", "Rate items from comparisons and assign tiers", "", &RankCommand{})
	_, _ = parser.AddCommand("validate", "Validate a comparison file", "", &ValidateCommand{})
	_, _ = parser.AddCommand("serve", "Serve the rating engine over HTTP", "", &ServeCommand{})
	_, _ = parser.AddCommand("version", "Show version information", "", &VersionCommand{})
	return parser
}

func run(args []string) error {
	parser := newParser()

	_, err := parser.ParseArgs(args)
	if err == nil {
		return nil
	}

	var flagsErr *flags.Error
	if !errors.As(err, &flagsErr) {
		return err
	}
	switch flagsErr.Type {
	case flags.ErrHelp:
		return nil
	case flags.ErrCommandRequired:
		parser.WriteHelp(os.Stderr)
		return &CLIError{
			Code:    ExitConfigError,
			Message: "No command specified",
			Suggestions: []string{
				"Use 'tierelo rank --comparisons votes.csv' to rank items",
				"Use 'tierelo --help' to see all available commands",
			},
		}
	default:
		return &CLIError{
			Code:    ExitConfigError,
			Message: fmt.Sprintf("Invalid arguments: %v", err),
		}
	}
}

// Execute implements the Command interface for RankCommand
func (c *RankCommand) Execute(_ []string) error {
	ctx := context.Background()

	config, log, err := setup(c.Global, "rank")
	if err != nil {
		return err
	}
	format, err := journal.ParseExportFormat(c.Format)
	if err != nil {
		return &CLIError{
			Code:        ExitConfigError,
			Message:     err.Error(),
			Suggestions: []string{"Use one of text, json, yaml or csv"},
		}
	}
	if c.Comparisons == "" && c.Replay == "" && c.Restore == "" {
		return &CLIError{
			Code:    ExitConfigError,
			Message: "Nothing to rank",
			Suggestions: []string{
				"Pass --comparisons, --replay or --restore",
			},
		}
	}
	var template *journal.ExportTemplate
	if c.Template != "" {
		loaded, err := journal.LoadTemplate(c.Template)
		if err != nil {
			return &CLIError{
				Code:    ExitFileError,
				Message: fmt.Sprintf("Failed to load export template: %v", err),
				Details: map[string]any{"file": c.Template},
			}
		}
		template = &loaded
	}
	if c.Journal {
		config.Journal.Enabled = true
	}

	opts := []engine.Option{engine.WithLogger(log.Named("engine"))}
	sessionID := ""
	if config.Journal.Enabled {
		audit, err := journal.NewAuditTrail("", config.Journal.Directory)
		if err != nil {
			return &CLIError{
				Code:    ExitFileError,
				Message: fmt.Sprintf("Failed to open audit trail: %v", err),
				Details: map[string]any{"directory": config.Journal.Directory},
			}
		}
		defer audit.Close()
		sessionID = audit.SessionID()
		opts = append(opts, engine.WithJournal(audit))
		log.Info(ctx, "audit trail opened", logger.String("path", audit.GetLogPath()))
	}

	eng, err := engine.New(config.EngineConfig(), opts...)
	if err != nil {
		return &CLIError{Code: ExitConfigError, Message: err.Error()}
	}

	storage := data.NewFileStorage()
	comparisons, err := seed(ctx, eng, storage, sources{
		Snapshot:    c.Restore,
		Items:       c.Items,
		Replay:      c.Replay,
		Comparisons: c.Comparisons,
	}, log)
	if err != nil {
		return err
	}

	count := c.Tiers
	if len(c.Labels) > 0 {
		count = len(c.Labels)
	}
	defs, err := tierDefinitions(ctx, eng, config.Tiers, count, c.Labels)
	if err != nil {
		return &CLIError{Code: ExitEngineError, Message: fmt.Sprintf("Failed to compute tiers: %v", err)}
	}
	if _, err := eng.ComputeTiers(ctx, defs); err != nil {
		return &CLIError{Code: ExitEngineError, Message: fmt.Sprintf("Failed to assign tiers: %v", err)}
	}
	placements, err := eng.GetConfidenceReport(ctx, defs)
	if err != nil {
		return &CLIError{Code: ExitEngineError, Message: fmt.Sprintf("Failed to build confidence report: %v", err)}
	}

	report := journal.Report{
		SessionID:   sessionID,
		GeneratedAt: time.Now(),
		Comparisons: comparisons,
		Tiers:       defs,
		Placements:  placements,
	}
	options := journal.ExportOptions{Format: format, IncludeStats: c.IncludeStats}
	exporter := journal.NewExporter()
	switch {
	case template != nil:
		err = exportTemplate(exporter, report, c.Output, *template)
	case c.Output != "":
		err = exporter.ExportToFile(report, c.Output, options)
	default:
		err = exporter.Export(report, stdout, options)
	}
	if err != nil {
		return &CLIError{
			Code:    ExitExportError,
			Message: fmt.Sprintf("Failed to export report: %v", err),
			Details: map[string]any{"output": c.Output, "format": format},
		}
	}

	if c.Snapshot != "" {
		if err := storage.SaveSnapshot(eng.Snapshot(), c.Snapshot); err != nil {
			return &CLIError{
				Code:    ExitFileError,
				Message: fmt.Sprintf("Failed to save snapshot: %v", err),
				Details: map[string]any{"file": c.Snapshot},
			}
		}
		log.Info(ctx, "snapshot saved", logger.String("path", c.Snapshot))
	}
	return nil
}

// exportTemplate renders report through template into output, or stdout
// when output is empty
func exportTemplate(exporter *journal.Exporter, report journal.Report, output string, template journal.ExportTemplate) error {
	if output == "" {
		return exporter.ExportWithTemplate(report, stdout, template)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := exporter.ExportWithTemplate(report, file, template); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// Execute implements the Command interface for ValidateCommand
func (c *ValidateCommand) Execute(_ []string) error {
	if _, _, err := setup(c.Global, "validate"); err != nil {
		return err
	}

	file, err := data.NewFileStorage().LoadComparisons(c.Input)

	fmt.Fprintf(stdout, "Validation Results for: %s\n", c.Input)
	fmt.Fprintf(stdout, "===========================================\n\n")

	if err != nil {
		fmt.Fprintf(stdout, "INVALID: %v\n\n", err)
		return &CLIError{
			Code:    ExitValidationError,
			Message: fmt.Sprintf("Comparison file validation failed: %v", err),
			Details: map[string]any{"file": c.Input},
			Suggestions: []string{
				"CSV files need item_a, item_b and winner columns",
				"JSON and YAML files hold a list of comparisons",
			},
		}
	}

	var invalid []string
	for _, pe := range file.Errors {
		invalid = append(invalid, pe.Error())
	}
	valid := 0
	for i, comparison := range file.Comparisons {
		if err := comparison.Validate(); err != nil {
			invalid = append(invalid, fmt.Sprintf("comparison %d: %v", i+1, err))
			continue
		}
		valid++
	}

	fmt.Fprintf(stdout, "File Statistics:\n")
	fmt.Fprintf(stdout, "  Records: %d\n", file.TotalRows)
	fmt.Fprintf(stdout, "  Valid comparisons: %d\n", valid)
	fmt.Fprintf(stdout, "  Invalid records: %d\n", len(invalid))

	if len(invalid) > 0 {
		fmt.Fprintf(stdout, "\nProblems:\n")
		for _, problem := range invalid {
			fmt.Fprintf(stdout, "  - %s\n", problem)
		}
	}

	if c.Preview > 0 && len(file.Comparisons) > 0 {
		fmt.Fprintf(stdout, "\nData Preview (%d comparisons):\n", min(c.Preview, len(file.Comparisons)))
		for i, comparison := range file.Comparisons[:min(c.Preview, len(file.Comparisons))] {
			outcome := "winner " + comparison.Winner
			if comparison.IsDraw() {
				outcome = "draw"
			}
			fmt.Fprintf(stdout, "  [%d] %s vs %s: %s\n", i+1, comparison.ItemA, comparison.ItemB, outcome)
		}
	}

	if len(invalid) > 0 {
		return &CLIError{
			Code:    ExitValidationError,
			Message: fmt.Sprintf("%d of %d records are invalid", len(invalid), file.TotalRows),
			Details: map[string]any{"file": c.Input, "invalid": len(invalid)},
		}
	}
	fmt.Fprintf(stdout, "\nVALID comparison file\n")
	return nil
}

// Execute implements the Command interface for VersionCommand
func (c *VersionCommand) Execute(_ []string) error {
	return showVersion()
}

// Helper functions

func showVersion() error {
	fmt.Fprintf(stdout, "tierelo version %s\n", Version)
	fmt.Fprintf(stdout, "Build date: %s\n", BuildDate)
	fmt.Fprintf(stdout, "Git commit: %s\n", GitCommit)
	return nil
}

// setup loads the configuration and installs the global logger
func setup(global *GlobalOptions, name string) (*data.Config, logger.Logger, error) {
	if global == nil {
		global = &GlobalOptions{}
	}

	config, err := data.Load(global.Config)
	if err != nil {
		return nil, nil, &CLIError{
			Code:    ExitConfigError,
			Message: fmt.Sprintf("Failed to load configuration: %v", err),
			Suggestions: []string{
				"Check configuration file syntax",
				"Use --config flag to specify different config file",
				"Check TIERELO_* environment variables",
			},
		}
	}
	if global.Verbose {
		config.Log.Level = "debug"
	}

	if err := logger.Init(config.Log.Options()); err != nil {
		return nil, nil, &CLIError{Code: ExitConfigError, Message: fmt.Sprintf("Failed to set up logging: %v", err)}
	}
	return config, logger.Named(name), nil
}

// sources names the optional inputs a run starts from
type sources struct {
	Snapshot    string
	Items       string
	Replay      string // audit log whose comparisons are applied again
	Comparisons string
}

// seed restores a snapshot, registers items, replays an audit log and
// applies a comparison file, in that order, each step being optional. It
// returns the number of comparisons applied.
func seed(ctx context.Context, eng *engine.Engine, storage *data.FileStorage, src sources, log logger.Logger) (int, error) {
	if src.Snapshot != "" {
		rated, err := storage.LoadSnapshot(src.Snapshot)
		if err == nil {
			err = eng.Restore(ctx, rated)
		}
		if err != nil {
			return 0, &CLIError{
				Code:    ExitFileError,
				Message: fmt.Sprintf("Failed to restore snapshot: %v", err),
				Details: map[string]any{"file": src.Snapshot},
			}
		}
	}

	if src.Items != "" {
		ids, err := storage.LoadItems(src.Items)
		if err == nil {
			err = eng.Initialize(ctx, ids)
		}
		if err != nil {
			return 0, &CLIError{
				Code:    ExitFileError,
				Message: fmt.Sprintf("Failed to load items: %v", err),
				Details: map[string]any{"file": src.Items},
			}
		}
	}

	applied := 0
	if src.Replay != "" {
		replayed, err := journal.ReplayFile(src.Replay)
		if err != nil {
			return 0, &CLIError{
				Code:    ExitFileError,
				Message: fmt.Sprintf("Failed to replay audit log: %v", err),
				Details: map[string]any{"file": src.Replay},
				Suggestions: []string{
					"Replay needs an unmodified audit_<session>.jsonl file",
				},
			}
		}
		batch, _ := eng.RecordComparisons(ctx, replayed)
		applied += batch.Applied()
		log.Info(ctx, "audit log replayed", logger.String("file", src.Replay), logger.Int("applied", batch.Applied()))
	}

	if src.Comparisons == "" {
		return applied, nil
	}
	file, err := storage.LoadComparisons(src.Comparisons)
	if err != nil {
		return 0, &CLIError{
			Code:    ExitFileError,
			Message: fmt.Sprintf("Failed to load comparisons: %v", err),
			Details: map[string]any{"file": src.Comparisons},
			Suggestions: []string{
				"Validate the file with 'tierelo validate --input " + src.Comparisons + "'",
			},
		}
	}
	for _, pe := range file.Errors {
		log.Warn(ctx, "record skipped", logger.String("file", src.Comparisons), logger.Error(pe))
	}

	// rejected comparisons are logged by the engine and do not stop the run
	batch, _ := eng.RecordComparisons(ctx, file.Comparisons)
	return applied + batch.Applied(), nil
}

// templatesFor returns count tier templates. Configured labels and colours
// apply when count matches the configured tier count.
func templatesFor(config data.TierConfig, count int) ([]tier.Template, error) {
	if count == config.Count {
		return config.Templates()
	}
	return tier.DefaultTemplates(count), nil
}

// tierDefinitions splits the current ranking into count tiers, labelled from
// labels when given and from configuration otherwise. A zero count uses the
// configured one.
func tierDefinitions(ctx context.Context, eng *engine.Engine, config data.TierConfig, count int, labels []string) ([]tier.Definition, error) {
	if count == 0 {
		count = config.Count
	}
	if count > tier.MaxTiers {
		return nil, fmt.Errorf("%w: at most %d tiers, got %d", tier.ErrInvalidTierCount, tier.MaxTiers, count)
	}

	var templates []tier.Template
	if len(labels) > 0 {
		for _, label := range labels {
			if strings.TrimSpace(label) == "" {
				return nil, fmt.Errorf("%w: blank tier label", tier.ErrInvalidDefinitions)
			}
		}
		templates = tier.TemplatesFor(labels)
	} else {
		var err error
		if templates, err = templatesFor(config, count); err != nil {
			return nil, err
		}
	}

	boundaries, err := eng.ComputeBoundaries(ctx, count)
	if err != nil {
		return nil, err
	}
	return tier.Build(templates, boundaries)
}
