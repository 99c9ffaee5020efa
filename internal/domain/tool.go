package domain

// ToolCapability describes one tool as exposed to the model.
type ToolCapability struct {
	// Name is the namespaced name sent to the model ("<Toolset>__<tool>").
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	AutoApprove bool           `json:"auto_approve"`
	IsEnabled   bool           `json:"is_enabled"`
	// InternalKey matches persisted configuration across restarts.
	InternalKey string `json:"internal_key"`
	Toolset     string `json:"toolset"`
	// ToolName is the un-namespaced name understood by the owning toolset.
	ToolName string `json:"tool_name"`
	// RequiresUserResponse marks tools answered by the user instead of executed.
	RequiresUserResponse bool `json:"requires_user_response,omitempty"`
}

// ServerParams configures how an external tool server is reached.
type ServerParams struct {
	// Local servers
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Remote servers
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Transport string            `json:"transport,omitempty" yaml:"transport,omitempty"` // streamable (default) or sse
}

// ToolConfig is the persisted configuration of one tool.
type ToolConfig struct {
	ID          int64  `json:"id"`
	ToolsetID   int64  `json:"toolset_id"`
	InternalKey string `json:"internal_key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsEnabled   bool   `json:"is_enabled"`
	AutoApprove bool   `json:"auto_approve"`
}

// ToolsetConfig is the persisted configuration of one toolset.
type ToolsetConfig struct {
	ID          int64        `json:"id"`
	InternalKey string       `json:"internal_key"`
	Name        string       `json:"name"`
	Type        ToolsetType  `json:"type"`
	Params      ServerParams `json:"params"`
	IsEnabled   bool         `json:"is_enabled"`
	// Source records who declared the toolset (builtin, file, api).
	Source string       `json:"source"`
	Tools  []ToolConfig `json:"tools"`
}

// Toolset sources.
const (
	SourceBuiltin = "builtin"
	SourceFile    = "file"
	SourceAPI     = "api"
)

// Tool returns the tool configuration with the given internal key.
func (c *ToolsetConfig) Tool(key string) (ToolConfig, bool) {
	for _, t := range c.Tools {
		if t.InternalKey == key {
			return t, true
		}
	}
	return ToolConfig{}, false
}

// ToolSpec is a tool as advertised by its toolset, before merging with
// persisted settings.
type ToolSpec struct {
	Name        string         `json:"name"`
	InternalKey string         `json:"internal_key"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	// DefaultAutoApprove seeds auto_approve when the key is first stored.
	DefaultAutoApprove bool `json:"-"`
}

// ToolsetState is the runtime view of a toolset for status reporting.
type ToolsetState struct {
	ToolsetConfig
	Status ToolsetStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}
