package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lococli/loco/internal/core/llm"
)

type echoTool struct {
	name string
}

func (t *echoTool) Name() string { return t.name }

func (t *echoTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.name,
		Description: "echoes its text argument",
		Parameters: buildParameters([]ParameterDef{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		}),
	}
}

func (t *echoTool) Execute(_ context.Context, args map[string]any) Result {
	return okResult(stringArg(args, "text", ""))
}

func TestRegistryRegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "echo"}))

	result := r.Execute(context.Background(), "echo", `{"text":"hi"}`)
	require.True(t, result.Success)
	assert.Equal(t, "hi", result.Content)
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "echo"}))
	assert.Error(t, r.Register(&echoTool{name: "echo"}))
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), "nope", `{}`)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown tool")
}

func TestRegistryInvalidArgumentJSON(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "echo"}))

	result := r.Execute(context.Background(), "echo", `{"text":`)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid argument JSON")
}

func TestRegistrySchemaValidation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "echo"}))

	// Missing required "text".
	result := r.Execute(context.Background(), "echo", `{}`)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "schema validation")

	// Wrong type.
	result = r.Execute(context.Background(), "echo", `{"text":42}`)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "schema validation")
}

func TestRegistryEmptyArgsDecodeToEmptyObject(t *testing.T) {
	r := NewRegistry()
	tool := &ListDirTool{workingDir: t.TempDir()}
	require.NoError(t, r.Register(tool))

	result := r.Execute(context.Background(), "list_dir", "")
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "(empty directory)", result.Content)
}

func TestRegistryGroups(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "a"}))
	require.NoError(t, r.Register(&echoTool{name: "b"}))
	r.RegisterGroup("pair", "a", "b", "missing")

	group := r.Group("pair")
	require.Len(t, group, 2)
	assert.Equal(t, "a", group[0].Name())
	assert.Equal(t, "b", group[1].Name())

	assert.True(t, r.Has("a", "b"))
	assert.False(t, r.Has("a", "missing"))
}

func TestRegistryNamesAndDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&echoTool{name: "zeta"}))
	require.NoError(t, r.Register(&echoTool{name: "alpha"}))

	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "zeta", defs[1].Name)
}

func TestRegistryDescribe(t *testing.T) {
	workdir := t.TempDir()
	r := DefaultRegistry(workdir, nil, nil)

	// Tools with a Describer render their own description.
	assert.Equal(t, "read file go.mod", r.Describe("read_file", `{"path":"go.mod"}`))
	assert.Equal(t, "go test ./...", r.Describe("run_command", `{"command":"go test ./..."}`))

	// Fallback renders sorted key=value pairs.
	assert.Equal(t, "list_dir path=src", r.Describe("list_dir", `{"path":"src"}`))

	// Unknown tools and broken args degrade to the bare name.
	assert.Equal(t, "nope", r.Describe("nope", `{}`))
	assert.Equal(t, "read_file", r.Describe("read_file", `{"path":`))
}

func TestDefaultRegistryContents(t *testing.T) {
	r := DefaultRegistry(t.TempDir(), nil, nil)

	assert.True(t, r.Has("read_file", "write_file", "edit_file", "list_dir", "run_command", "update_todos"))
	assert.Len(t, r.Group("files"), 4)
	assert.Len(t, r.Group("shell"), 1)
	assert.Len(t, r.Group("todos"), 1)
}
