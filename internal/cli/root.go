package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/geoffreylitt/hypermerge/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	viper *viper.Viper
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersionInfo records build information shown by --version.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the hypermerge CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	opts.viper = config.New()

	cmd := &cobra.Command{
		Use:   "hypermerge",
		Short: "hypermerge - replicated documents with signed writers",
		Long: `Create and edit CRDT documents kept in a local change log, and work
with the signing and encryption keys their writers use.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return &ExitError{
					Code:    ExitCommandError,
					ErrCode: ErrCodeUsage,
					Message: fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats),
				}
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigFile, "config", "", "config file (default "+config.DefaultConfigFileName+")")
	cobra.CheckErr(config.RegisterFlags(opts.viper, pf))

	cmd.AddCommand(NewKeysCommand(opts))
	cmd.AddCommand(NewSignCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewSealCommand(opts))
	cmd.AddCommand(NewUnsealCommand(opts))
	cmd.AddCommand(NewBoxCommand(opts))
	cmd.AddCommand(NewUnboxCommand(opts))
	cmd.AddCommand(NewDocCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code. Errors
// are reported through the output formatter so JSON callers always get a
// CLIResponse.
func Execute(args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	code := GetExitCode(err)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		// cobra argument and flag errors
		code = ExitCommandError
	}
	if exitErr != nil && exitErr.Reported {
		return code
	}
	if !isValidFormat(opts.Format) {
		opts.Format = "text"
	}
	f := opts.formatter(cmd)
	errCode := GetErrorCode(err)
	if exitErr == nil {
		errCode = ErrCodeUsage
	}
	_ = f.Error(errCode, err.Error(), nil)
	return code
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig resolves the config file, environment and flags.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.viper, o.ConfigFile)
	if err != nil {
		return config.Config{}, &ExitError{Code: ExitCommandError, ErrCode: ErrCodeConfig, Message: "load config", Err: err}
	}
	return cfg, nil
}

// logger writes component logs to stderr. Verbose lowers the level to
// debug whatever the config says.
func (o *RootOptions) logger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg.Logger(cmd.ErrOrStderr())
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
