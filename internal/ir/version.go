package ir

// Version constants for the wire format and engine.
const (
	// WireVersion is the collaboration event wire format version.
	WireVersion = "1"

	// EngineVersion is the runcollab engine version.
	EngineVersion = "0.1.0"
)
