package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/geoffreylitt/hypermerge/internal/crypto"
	"github.com/geoffreylitt/hypermerge/internal/repo"
	"github.com/geoffreylitt/hypermerge/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Check failure (scenarios failed, signature invalid, etc.)
	ExitCommandError = 2 // Command error (bad arguments, unknown document, etc.)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeUsage        = "E002" // Bad arguments or flags
	ErrCodeConfig       = "E003" // Configuration could not be loaded
	ErrCodeNotFound     = "E005" // Path or document not found
	ErrCodeStore        = "E006" // Change log could not be opened or written
	ErrCodeScenario     = "E101" // Scenario failed to load or run
	ErrCodeTestFailed   = "E102" // One or more scenarios failed
	ErrCodeInvalidKey   = "E201" // Malformed key, nonce, signature or ciphertext
	ErrCodeBadSignature = "E202" // Signature does not verify
	ErrCodeAuth         = "E203" // Box or sealed box failed to open
)

// ExitError is a command failure carrying its process exit code and, when
// known, its CLIError code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	ErrCode string // CLIError code, derived from Err when empty
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported means the command already wrote its own error response.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError returns an ExitError with no underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code and context message to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// GetErrorCode picks the CLIError code for err.
func GetErrorCode(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.ErrCode != "" {
		return exitErr.ErrCode
	}
	switch {
	case errors.Is(err, crypto.ErrBadSignature):
		return ErrCodeBadSignature
	case errors.Is(err, crypto.ErrAuthentication):
		return ErrCodeAuth
	case errors.Is(err, crypto.ErrInvalidEncoding), errors.Is(err, crypto.ErrInvalidKey):
		return ErrCodeInvalidKey
	case errors.Is(err, store.ErrNotFound), errors.Is(err, repo.ErrUnknownDoc):
		return ErrCodeNotFound
	default:
		return ErrCodeGeneric
	}
}

// OutputFormatter writes command results as JSON or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the single JSON object a command writes with --format json.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError describes a failed command.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// TextRenderer lets a payload choose its own text form.
type TextRenderer interface {
	RenderText(w io.Writer) error
}

// Success writes data. In text mode a TextRenderer renders itself; anything
// else is printed with fmt.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	if r, ok := data.(TextRenderer); ok {
		return r.RenderText(f.Writer)
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes a failure. JSON goes to Writer so callers parse one stream;
// text goes to the diagnostic writer.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	w := f.GetErrWriter()
	fmt.Fprintf(w, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(w, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog writes a diagnostic line when Verbose is set. It never touches
// Writer while ErrWriter is set, so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter, falling back to Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
