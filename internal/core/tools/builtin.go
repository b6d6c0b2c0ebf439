package tools

// DefaultRegistry creates a registry with the built-in tool set. todoStore
// and observer may be nil; the update_todos tool then reports that no plan
// is active, and file changes go unobserved.
func DefaultRegistry(workingDir string, todoStore TodoStore, observer FileChangeObserver) *Registry {
	r := NewRegistry()

	r.MustRegister(NewReadFileTool(workingDir))
	r.MustRegister(NewWriteFileTool(workingDir, observer))
	r.MustRegister(NewEditFileTool(workingDir, observer))
	r.MustRegister(NewListDirTool(workingDir))
	r.MustRegister(NewRunCommandTool(workingDir))
	r.MustRegister(NewUpdateTodosTool(todoStore))

	r.RegisterGroup("files", "read_file", "write_file", "edit_file", "list_dir")
	r.RegisterGroup("shell", "run_command")
	r.RegisterGroup("todos", "update_todos")

	return r
}
