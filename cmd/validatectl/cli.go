// Package main is the validatectl command-line entry point: a thin cobra
// wrapper around pkg/core.Core.Validate for one-shot, scriptable validation
// runs (CI hooks, pre-commit checks) that don't need a running daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arborvale/valicore/pkg/core"
	"github.com/arborvale/valicore/pkg/valcore"
)

// exit codes, per the validation core's CLI contract.
const (
	exitValid               = 0
	exitInvalid             = 1
	exitRejected            = 2
	exitUnsupportedLanguage = 3
	exitInternal            = 4
)

// CLI holds the shared engine and logger every subcommand runs against.
// exitCode is set by validateCommand rather than calling os.Exit directly,
// so main can run its deferred engine cleanup before the process exits.
type CLI struct {
	engine   *core.Core
	logger   *slog.Logger
	exitCode int
}

// NewCLI builds a CLI around an already-assembled engine.
func NewCLI(engine *core.Core, logger *slog.Logger) *CLI {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLI{engine: engine, logger: logger}
}

// ExitCode reports the process exit code validateCommand recorded, or
// exitValid if no exit-code-bearing command ran.
func (c *CLI) ExitCode() int {
	return c.exitCode
}

// GetRootCommand returns the root cobra command.
func (c *CLI) GetRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "validatectl",
		Short: "Validation execution core command-line client",
		Long:  "A command-line client for running source validation through the validation execution core without a running HTTP daemon.",
	}

	rootCmd.AddCommand(
		c.validateCommand(),
		c.validatorsCommand(),
		c.circuitCommand(),
	)

	return rootCmd
}

// validateCommand validates a single file and exits with the contract's
// status-derived exit code.
func (c *CLI) validateCommand() *cobra.Command {
	var (
		language      string
		critical      bool
		syntax        bool
		security      bool
		style         bool
		bestPractices bool
		errorHandling bool
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a single source file",
		Long:  "Run a source file through the validation execution core and report issues.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			code, err := os.ReadFile(path)
			if err != nil {
				c.exitCode = exitInternal
				return fmt.Errorf("reading source file %q: %w", path, err)
			}

			req := &valcore.ValidationRequest{
				RequestID: path,
				Code:      code,
				Language:  language,
				Critical:  critical,
				Options: valcore.ValidationOptions{
					Syntax:        syntax,
					Security:      security,
					Style:         style,
					BestPractices: bestPractices,
					ErrorHandling: errorHandling,
				},
			}

			result, err := c.engine.Validate(context.Background(), req)
			if err != nil {
				c.exitCode = exitCodeForError(err)
				return fmt.Errorf("validation request rejected: %w", err)
			}
			c.logger.Debug("validation completed", "path", path, "language", language, "state", result.State, "isValid", result.IsValid)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					c.exitCode = exitInternal
					return fmt.Errorf("encoding result: %w", err)
				}
			} else {
				printResult(cmd, result)
			}

			c.exitCode = exitCodeForResult(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "source language (required)")
	cmd.Flags().BoolVar(&critical, "critical", false, "mark this request as critical (bypasses reservation limits)")
	cmd.Flags().BoolVar(&syntax, "syntax", true, "run syntax checks")
	cmd.Flags().BoolVar(&security, "security", true, "run security checks")
	cmd.Flags().BoolVar(&style, "style", false, "run style checks")
	cmd.Flags().BoolVar(&bestPractices, "best-practices", false, "run best-practices checks")
	cmd.Flags().BoolVar(&errorHandling, "error-handling", false, "run error-handling checks")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the raw result as JSON instead of a text summary")
	_ = cmd.MarkFlagRequired("language")

	return cmd
}

// validatorsCommand lists every currently registered language.
func (c *CLI) validatorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validators",
		Short: "List registered validators",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, lang := range c.engine.ListValidators() {
				fmt.Fprintln(cmd.OutOrStdout(), lang)
			}
			return nil
		},
	}
}

// circuitCommand reports a named circuit breaker's current state.
func (c *CLI) circuitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "circuit <name>",
		Short: "Show a circuit breaker's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), c.engine.CircuitState(args[0]))
			return nil
		},
	}
}

// printResult writes a short human-readable summary of a validation result.
func printResult(cmd *cobra.Command, r *valcore.ValidationResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: state=%s valid=%t issues=%d\n", r.Language, r.State, r.IsValid, len(r.Issues))
	for _, issue := range r.Issues {
		loc := ""
		if issue.Location != nil {
			loc = fmt.Sprintf(" %d:%d", issue.Location.Line, issue.Location.Column)
		}
		fmt.Fprintf(out, "  [%s]%s %s: %s\n", issue.Severity, loc, issue.Code, issue.Message)
	}
}

// exitCodeForResult maps a completed result to the CLI's exit-code contract.
func exitCodeForResult(r *valcore.ValidationResult) int {
	if r.State == valcore.StateFailed {
		return exitCodeForFailedResult(r)
	}
	if !r.IsValid {
		return exitInvalid
	}
	return exitValid
}

func exitCodeForFailedResult(r *valcore.ValidationResult) int {
	if len(r.Issues) == 0 {
		return exitInternal
	}
	return exitCodeForErrorKind(valcore.ErrorKind(r.Issues[0].Code))
}

// exitCodeForError maps an error thrown directly by Core.Validate to the
// CLI's exit-code contract.
func exitCodeForError(err error) int {
	kind, ok := valcore.KindOf(err)
	if !ok {
		return exitInternal
	}
	return exitCodeForErrorKind(kind)
}

func exitCodeForErrorKind(kind valcore.ErrorKind) int {
	switch kind {
	case valcore.ErrKindUnsupportedLanguage:
		return exitUnsupportedLanguage
	case valcore.ErrKindQueueFull, valcore.ErrKindOverloaded, valcore.ErrKindThrottled:
		return exitRejected
	default:
		return exitInternal
	}
}

// Execute runs the CLI.
func (c *CLI) Execute() error {
	return c.GetRootCommand().Execute()
}
