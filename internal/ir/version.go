package ir

// Version constants for the change format and the module.
const (
	// FormatVersion is the change encoding version. It is part of the hash
	// domain, so bumping it changes every hash.
	FormatVersion = "1"

	// Version is the hypermerge module version reported by the CLI.
	Version = "0.1.0"
)
