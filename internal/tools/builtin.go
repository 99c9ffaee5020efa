package tools

// Built-in toolset names. They double as the toolsets' internal keys.
const (
	ToolsetFileSystem       = "FileSystem"
	ToolsetOsInteractions   = "OsInteractions"
	ToolsetUserInteraction  = "UserInteraction"
	ToolsetExecutionControl = "ExecutionControl"
)

// Names of the tools answered by the user.
const (
	ToolAskUser    = "ask_user"
	ToolFinishTask = "finish_task"
)

func init() {
	MustRegister(newFileSystemToolset())
	MustRegister(newOsInteractionsToolset())
	MustRegister(newUserInteractionToolset())
	MustRegister(newExecutionControlToolset())
}

func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
