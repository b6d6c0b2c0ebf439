package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/lococli/loco/internal/core/llm"
)

const maxCommandOutputBytes = 50 * 1024

// RunCommandTool shells out to the host system. Commands pass through the
// risk/approval gate before this tool ever executes.
type RunCommandTool struct {
	workingDir   string
	defaultShell string
}

// NewRunCommandTool creates the run_command tool rooted at workingDir.
func NewRunCommandTool(workingDir string) *RunCommandTool {
	return &RunCommandTool{workingDir: workingDir, defaultShell: "/bin/bash"}
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Run a shell command in the working directory and return stdout/stderr. Output is truncated when large.",
		Parameters: buildParameters([]ParameterDef{
			{Name: "command", Type: "string", Description: "Command line to execute", Required: true},
			{Name: "cwd", Type: "string", Description: "Working directory override, relative to the session working directory"},
			{Name: "timeout_sec", Type: "integer", Description: "Timeout in seconds; defaults to 60"},
			{Name: "filter_regex", Type: "string", Description: "Keep only output lines matching this regular expression"},
			{Name: "tail_lines", Type: "integer", Description: "Keep only the final N lines of output"},
		}),
	}
}

func (t *RunCommandTool) Describe(args map[string]any) string {
	return stringArg(args, "command", "")
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]any) Result {
	command := strings.TrimSpace(stringArg(args, "command", ""))
	if command == "" {
		return errResultf("command is required")
	}

	cwd := t.workingDir
	if override := stringArg(args, "cwd", ""); override != "" {
		resolved, err := resolveWorkingPath(t.workingDir, override)
		if err != nil {
			return errResult(err)
		}
		cwd = resolved
	}

	timeout := time.Duration(intArg(args, "timeout_sec", 0)) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd, err := buildShellCommand(runCtx, t.defaultShell, command)
	if err != nil {
		return errResult(err)
	}
	cmd.Dir = cwd

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		runErr = fmt.Errorf("timeout after %s", timeout)
	}

	filter := stringArg(args, "filter_regex", "")
	tailLines := intArg(args, "tail_lines", 0)

	stdout, truncatedOut := shapeOutput(stdoutBuf.Bytes(), filter, tailLines)
	stderr, truncatedErr := shapeOutput(stderrBuf.Bytes(), filter, tailLines)
	truncated := truncatedOut || truncatedErr

	var sb strings.Builder
	if len(stdout) > 0 {
		sb.Write(stdout)
	}
	if len(stderr) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("[stderr]\n")
		sb.Write(stderr)
	}
	if truncated {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("[output truncated]")
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return Result{
				Error:   fmt.Sprintf("exit code %d", exitErr.ExitCode()),
				Content: sb.String(),
			}
		}
		return Result{Error: runErr.Error(), Content: sb.String()}
	}

	if sb.Len() == 0 {
		return okResult("(no output)")
	}
	return okResult(sb.String())
}

// buildShellCommand normalizes the shell string ("/bin/bash", "bash -lc",
// etc.) before wiring it up with the command. Supporting embedded flags lets
// callers configure either a bare shell name or a full invocation.
func buildShellCommand(ctx context.Context, shell, run string) (*exec.Cmd, error) {
	parts := strings.Fields(shell)
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid shell: %q", shell)
	}

	execPath := parts[0]
	args := parts[1:]
	if len(args) == 0 {
		args = append(args, "-lc")
	}

	args = append(args, run)
	return exec.CommandContext(ctx, execPath, args...), nil
}

// shapeOutput applies the optional line filter, tail limit, and byte cap in
// that order, reporting whether anything was dropped.
func shapeOutput(output []byte, filterPattern string, tailLines int) ([]byte, bool) {
	if len(output) == 0 {
		return output, false
	}

	if filterPattern != "" {
		if rx, err := regexp.Compile(filterPattern); err == nil {
			lines := strings.Split(string(output), "\n")
			kept := make([]string, 0, len(lines))
			for _, line := range lines {
				if rx.MatchString(line) {
					kept = append(kept, line)
				}
			}
			output = []byte(strings.Join(kept, "\n"))
		}
	}

	truncated := false
	if tailLines > 0 {
		lines := bytes.Split(output, []byte("\n"))
		if len(lines) > tailLines {
			lines = lines[len(lines)-tailLines:]
			truncated = true
		}
		output = bytes.Join(lines, []byte("\n"))
	}

	if len(output) > maxCommandOutputBytes {
		output = output[len(output)-maxCommandOutputBytes:]
		truncated = true
	}

	return output, truncated
}
