package ir

// Version constants for the encoded formats and the tool.
const (
	// SchemaVersion is the persisted store schema version.
	SchemaVersion = 1

	// ToolVersion is the varpol release version.
	ToolVersion = "0.1.0"
)
