package ir

// Version constants for the IR schema and runtime.
const (
	// IRVersion is the IR schema version. It is part of the canonical
	// schema form, so bumping it invalidates every cached schema hash.
	IRVersion = "1"

	// RuntimeVersion is the Manifest runtime version.
	RuntimeVersion = "0.1.0"
)
