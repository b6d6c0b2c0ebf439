// Package cli is the command-line surface: an interactive terminal session,
// a one-shot prompt mode, and a machine-readable eval mode.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lococli/loco/internal/config"
	"github.com/lococli/loco/internal/core/agent"
	"github.com/lococli/loco/internal/core/llm"
	"github.com/lococli/loco/internal/core/risk"
	"github.com/lococli/loco/internal/session"
	"github.com/lococli/loco/internal/tui"
)

type rootFlags struct {
	configPath  string
	model       string
	baseURL     string
	workingDir  string
	docsRoot    string
	prompt      string
	sessionID   string
	evalMode    bool
	autoApprove bool
	verbose     bool
}

// NewRootCommand builds the loco command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "loco",
		Short: "LLM coding assistant for your terminal",
		Long: `loco is a coding assistant that plans multi-step work as a TODO list,
executes it with file and shell tools, and asks before doing anything risky.

Without flags it starts an interactive session. Use --prompt for a single
request, or --eval to read a JSON request from stdin and stream NDJSON
events for automation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "config file path (default ~/.loco/config.yaml)")
	cmd.Flags().StringVar(&flags.model, "model", "", "model identifier override")
	cmd.Flags().StringVar(&flags.baseURL, "base-url", "", "API base URL override")
	cmd.Flags().StringVarP(&flags.workingDir, "working-dir", "C", "", "working directory for tools")
	cmd.Flags().StringVar(&flags.docsRoot, "docs", "", "local documentation tree to search")
	cmd.Flags().StringVarP(&flags.prompt, "prompt", "p", "", "run a single prompt and exit")
	cmd.Flags().StringVar(&flags.sessionID, "session", "", "session id to resume and autosave")
	cmd.Flags().BoolVar(&flags.evalMode, "eval", false, "read a JSON request from stdin, emit NDJSON events")
	cmd.Flags().BoolVar(&flags.autoApprove, "yes", false, "approve all risky tool calls without asking")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "log to stderr")

	return cmd
}

// Execute runs the root command and maps errors to an exit code.
func Execute(ctx context.Context) int {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
			return 1
		}
	}

	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// exitError carries a specific exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func run(ctx context.Context, flags *rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(&cfg, flags)

	if flags.evalMode {
		return runEval(ctx, cfg, os.Stdin, os.Stdout)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if flags.prompt != "" {
		return runOneShot(ctx, cfg, flags, flags.prompt)
	}
	return tui.Run(ctx, buildTUIOptions(cfg, flags))
}

func applyFlagOverrides(cfg *config.Config, flags *rootFlags) {
	if flags.model != "" {
		cfg.Model = flags.model
	}
	if flags.baseURL != "" {
		cfg.BaseURL = flags.baseURL
	}
	if flags.workingDir != "" {
		cfg.WorkingDir = flags.workingDir
	}
	if flags.docsRoot != "" {
		cfg.DocsRoot = flags.docsRoot
	}
	if cfg.DocsRoot == "" {
		dir := cfg.WorkingDir
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, "docs")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			cfg.DocsRoot = candidate
		}
	}
}

// buildExecutor wires an executor from config. approver and observer come
// from the surface (terminal, one-shot, eval) driving the run.
func buildExecutor(cfg config.Config, flags *rootFlags, approver risk.Approver, observer agent.Observer) (*agent.PlanExecutor, error) {
	client, err := llm.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, err
	}

	riskCfg := risk.Config{
		Enabled:           cfg.Risk.Enabled,
		ApprovalThreshold: risk.ParseLevel(cfg.Risk.ApprovalThreshold),
		AllowPatterns:     cfg.Risk.AllowPatterns,
		BlockPatterns:     cfg.Risk.BlockPatterns,
	}

	opts := agent.Options{
		Client:           client,
		Approver:         approver,
		Risk:             &riskCfg,
		Observer:         observer,
		SystemPrompt:     cfg.SystemPrompt,
		WorkingDir:       cfg.WorkingDir,
		DocsRoot:         cfg.DocsRoot,
		MaxIterations:    cfg.MaxIterations,
		MaxContextTokens: cfg.MaxContextTokens,
	}

	if flags.verbose {
		opts.Logger = agent.NewStdLogger(agent.LogLevel(cfg.LogLevel), os.Stderr)
	}

	var store *session.FileStore
	if flags.sessionID != "" {
		store, err = session.NewFileStore(cfg.SessionDir)
		if err != nil {
			return nil, err
		}
		opts.Sessions = session.NewAutosaver(store, flags.sessionID)
	}

	executor, err := agent.NewPlanExecutor(opts)
	if err != nil {
		return nil, err
	}

	if store != nil {
		if snapshot, err := store.Get(flags.sessionID); err == nil {
			if err := executor.RestoreHistory(snapshot.History); err != nil {
				return nil, err
			}
		}
	}

	return executor, nil
}

// runOneShot executes a single prompt with plain text output.
func runOneShot(ctx context.Context, cfg config.Config, flags *rootFlags, prompt string) error {
	approver := terminalApprover(os.Stdin, os.Stderr)
	if flags.autoApprove {
		approver = risk.AutoApprover{}
	}

	observer := agent.ObserverFunc(func(evt agent.Event) {
		switch evt.Type {
		case agent.EventStatus, agent.EventTodo, agent.EventToolCall:
			fmt.Fprintf(os.Stderr, "· %s\n", evt.Message)
		case agent.EventError:
			fmt.Fprintf(os.Stderr, "error: %s\n", evt.Message)
		}
	})

	executor, err := buildExecutor(cfg, flags, approver, observer)
	if err != nil {
		return err
	}

	result, err := executor.Run(ctx, prompt)
	if err != nil {
		return err
	}
	fmt.Println(result.Response)
	if result.Interrupted {
		return &exitError{code: 130}
	}
	return nil
}

func buildTUIOptions(cfg config.Config, flags *rootFlags) tui.Options {
	return tui.Options{
		BuildExecutor: func(approver risk.Approver, observer agent.Observer) (*agent.PlanExecutor, error) {
			return buildExecutor(cfg, flags, approver, observer)
		},
		Model:       cfg.Model,
		WorkingDir:  cfg.WorkingDir,
		AutoApprove: flags.autoApprove,
	}
}
