package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lococli/loco/internal/core/llm"
)

const maxReadBytes = 500 * 1024

// resolveWorkingPath joins a user-supplied path with the working directory
// and refuses paths that climb out of it.
func resolveWorkingPath(workingDir, userPath string) (string, error) {
	if strings.TrimSpace(userPath) == "" {
		return "", fmt.Errorf("path is required")
	}

	rootAbs, err := filepath.Abs(workingDir)
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	rootAbs = filepath.Clean(rootAbs)

	target := userPath
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	target = filepath.Clean(target)

	if target != rootAbs && !strings.HasPrefix(target, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes working directory: %s", userPath)
	}
	return target, nil
}

// ReadFileTool reads file contents, optionally a line range.
type ReadFileTool struct {
	workingDir string
}

// NewReadFileTool creates the read_file tool rooted at workingDir.
func NewReadFileTool(workingDir string) *ReadFileTool {
	return &ReadFileTool{workingDir: workingDir}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Read the contents of a file. Large files may be truncated; use start_line/end_line for portions.",
		Parameters: buildParameters([]ParameterDef{
			{Name: "path", Type: "string", Description: "Path to the file, relative to the working directory", Required: true},
			{Name: "start_line", Type: "integer", Description: "First line to read (1-indexed)"},
			{Name: "end_line", Type: "integer", Description: "Last line to read (inclusive)"},
		}),
	}
}

func (t *ReadFileTool) Describe(args map[string]any) string {
	return "read file " + stringArg(args, "path", "")
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) Result {
	path := stringArg(args, "path", "")
	absPath, err := resolveWorkingPath(t.workingDir, path)
	if err != nil {
		return errResult(err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errResultf("file does not exist: %s", path)
		}
		return errResult(err)
	}
	if info.IsDir() {
		return errResultf("path is a directory, not a file: %s", path)
	}

	startLine := intArg(args, "start_line", 0)
	endLine := intArg(args, "end_line", 0)
	if info.Size() > maxReadBytes && startLine == 0 && endLine == 0 {
		return errResultf("file is too large (%d bytes); use start_line and end_line", info.Size())
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return errResult(err)
	}

	if startLine <= 0 && endLine <= 0 {
		return okResult(string(content))
	}

	lines := strings.Split(string(content), "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine < startLine || endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > len(lines) {
		return errResultf("start_line (%d) exceeds file length (%d lines)", startLine, len(lines))
	}
	return okResult(strings.Join(lines[startLine-1:endLine], "\n"))
}

// WriteFileTool writes (or overwrites) a file, creating parent directories.
type WriteFileTool struct {
	workingDir string
	observer   FileChangeObserver
}

// FileChangeObserver is notified after a tool mutates a file on disk. The
// eval surface uses it to report files_modified.
type FileChangeObserver interface {
	FileChanged(path string)
}

// NewWriteFileTool creates the write_file tool rooted at workingDir.
// observer may be nil.
func NewWriteFileTool(workingDir string, observer FileChangeObserver) *WriteFileTool {
	return &WriteFileTool{workingDir: workingDir, observer: observer}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Write content to a file, replacing anything already there. Parent directories are created.",
		Parameters: buildParameters([]ParameterDef{
			{Name: "path", Type: "string", Description: "Path to the file, relative to the working directory", Required: true},
			{Name: "content", Type: "string", Description: "Full content to write", Required: true},
		}),
	}
}

func (t *WriteFileTool) Describe(args map[string]any) string {
	return "write file " + stringArg(args, "path", "")
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) Result {
	path := stringArg(args, "path", "")
	absPath, err := resolveWorkingPath(t.workingDir, path)
	if err != nil {
		return errResult(err)
	}

	content := stringArg(args, "content", "")
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return errResult(err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return errResult(err)
	}
	if t.observer != nil {
		t.observer.FileChanged(path)
	}
	return okResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// EditFileTool replaces an exact text occurrence inside an existing file.
type EditFileTool struct {
	workingDir string
	observer   FileChangeObserver
}

// NewEditFileTool creates the edit_file tool rooted at workingDir.
func NewEditFileTool(workingDir string, observer FileChangeObserver) *EditFileTool {
	return &EditFileTool{workingDir: workingDir, observer: observer}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Replace an exact text occurrence in a file. old_text must match exactly once unless replace_all is set.",
		Parameters: buildParameters([]ParameterDef{
			{Name: "path", Type: "string", Description: "Path to the file, relative to the working directory", Required: true},
			{Name: "old_text", Type: "string", Description: "Exact text to replace", Required: true},
			{Name: "new_text", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence instead of requiring a unique match"},
		}),
	}
}

func (t *EditFileTool) Describe(args map[string]any) string {
	return "edit file " + stringArg(args, "path", "")
}

func (t *EditFileTool) Execute(_ context.Context, args map[string]any) Result {
	path := stringArg(args, "path", "")
	absPath, err := resolveWorkingPath(t.workingDir, path)
	if err != nil {
		return errResult(err)
	}

	oldText := stringArg(args, "old_text", "")
	newText := stringArg(args, "new_text", "")
	if oldText == "" {
		return errResultf("old_text is required")
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errResultf("file does not exist: %s", path)
		}
		return errResult(err)
	}

	text := string(content)
	count := strings.Count(text, oldText)
	if count == 0 {
		return errResultf("old_text not found in %s", path)
	}

	if boolArg(args, "replace_all", false) {
		text = strings.ReplaceAll(text, oldText, newText)
	} else {
		if count > 1 {
			return errResultf("old_text matches %d times in %s; provide more context or set replace_all", count, path)
		}
		text = strings.Replace(text, oldText, newText, 1)
	}

	if err := os.WriteFile(absPath, []byte(text), 0o644); err != nil {
		return errResult(err)
	}
	if t.observer != nil {
		t.observer.FileChanged(path)
	}
	return okResult(fmt.Sprintf("edited %s (%d replacement(s))", path, count))
}

// ListDirTool lists the entries of a directory.
type ListDirTool struct {
	workingDir string
}

// NewListDirTool creates the list_dir tool rooted at workingDir.
func NewListDirTool(workingDir string) *ListDirTool {
	return &ListDirTool{workingDir: workingDir}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "List the entries of a directory. Directories are suffixed with a slash.",
		Parameters: buildParameters([]ParameterDef{
			{Name: "path", Type: "string", Description: "Directory path, relative to the working directory; defaults to the working directory itself"},
		}),
	}
}

func (t *ListDirTool) Execute(_ context.Context, args map[string]any) Result {
	path := stringArg(args, "path", ".")
	absPath, err := resolveWorkingPath(t.workingDir, path)
	if err != nil {
		return errResult(err)
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return errResult(err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return okResult("(empty directory)")
	}
	return okResult(strings.Join(names, "\n"))
}
