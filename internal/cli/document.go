package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/geoffreylitt/hypermerge/internal/bus"
	"github.com/geoffreylitt/hypermerge/internal/clock"
	"github.com/geoffreylitt/hypermerge/internal/doc"
	"github.com/geoffreylitt/hypermerge/internal/ir"
	"github.com/geoffreylitt/hypermerge/internal/repo"
	"github.com/geoffreylitt/hypermerge/internal/store"
)

const docTimeout = 30 * time.Second

// DocOutput is a document's current state.
type DocOutput struct {
	ID      string      `json:"id"`
	Value   ir.Map      `json:"value"`
	Clock   clock.Clock `json:"clock"`
	History int         `json:"history"`
}

func (d DocOutput) RenderText(w io.Writer) error {
	data, err := ir.MarshalValue(d.Value)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "doc:     %s\n", d.ID)
	fmt.Fprintf(w, "value:   %s\n", data)
	fmt.Fprintf(w, "history: %d\n", d.History)
	for _, actor := range d.Clock.Actors() {
		fmt.Fprintf(w, "clock:   %s %d\n", actor, d.Clock[actor])
	}
	return nil
}

// ChangeEntry summarizes one change in a document's log.
type ChangeEntry struct {
	Hash    string `json:"hash"`
	Actor   string `json:"actor"`
	Seq     int64  `json:"seq"`
	Message string `json:"message,omitempty"`
	Ops     int    `json:"ops"`
}

// LogOutput is a document's change log in application order.
type LogOutput struct {
	ID      string        `json:"id"`
	Changes []ChangeEntry `json:"changes"`
}

func (l LogOutput) RenderText(w io.Writer) error {
	if len(l.Changes) == 0 {
		_, err := fmt.Fprintln(w, "no changes")
		return err
	}
	for _, c := range l.Changes {
		fmt.Fprintf(w, "%s %s/%d ops=%d", short(c.Hash), short(c.Actor), c.Seq, c.Ops)
		if c.Message != "" {
			fmt.Fprintf(w, " %q", c.Message)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// ListOutput names every document in the change log.
type ListOutput struct {
	Docs []string `json:"docs"`
	// Changes is the stored change count per document.
	Changes map[string]int `json:"changes"`
}

func (l ListOutput) RenderText(w io.Writer) error {
	for _, id := range l.Docs {
		if _, err := fmt.Fprintf(w, "%s %d\n", id, l.Changes[id]); err != nil {
			return err
		}
	}
	return nil
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// docEnv is an opened change log and the repo reading from it.
type docEnv struct {
	store *store.Store
	repo  *repo.Repo
	bus   *bus.Client
}

func (e *docEnv) close() {
	e.repo.Close()
	if e.bus != nil {
		_ = e.bus.Close()
	}
	_ = e.store.Close()
}

// withRepo opens the configured change log, optionally connects the event
// bus, and runs fn against a repo backed by both.
func (o *RootOptions) withRepo(cmd *cobra.Command, fn func(ctx context.Context, env *docEnv) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	logger := o.logger(cmd, cfg)
	f := o.formatter(cmd)
	if cfg.File != "" {
		f.VerboseLog("config: %s", cfg.File)
	}
	f.VerboseLog("change log: %s", cfg.DatabasePath())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return &ExitError{Code: ExitCommandError, ErrCode: ErrCodeStore, Message: "create data dir", Err: err}
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return &ExitError{Code: ExitCommandError, ErrCode: ErrCodeStore, Message: "open change log", Err: err}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), docTimeout)
	defer cancel()

	env := &docEnv{store: st}
	ropts := []repo.Option{repo.WithChangeLog(st), repo.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		client, err := bus.NewClient(&redis.Options{Addr: cfg.RedisAddr}, cfg.RedisChannelPrefix)
		if err != nil {
			_ = st.Close()
			return WrapExitError(ExitCommandError, "connect event bus", err)
		}
		if err := client.Ping(ctx); err != nil {
			_ = client.Close()
			_ = st.Close()
			return WrapExitError(ExitCommandError, "connect event bus", err)
		}
		env.bus = client
		ropts = append(ropts, repo.WithPublisher(client))
	}
	env.repo = repo.New(ropts...)
	defer env.close()

	return fn(ctx, env)
}

// openDoc opens a document that exists in the change log and waits for its
// frontend to settle.
func (e *docEnv) openDoc(ctx context.Context, raw string) (ir.DocID, error) {
	id := ir.DocID(raw)
	ok, err := e.store.HasDoc(ctx, id)
	if err != nil {
		return "", &ExitError{Code: ExitCommandError, ErrCode: ErrCodeStore, Message: "read change log", Err: err}
	}
	if !ok {
		return "", &ExitError{Code: ExitCommandError, ErrCode: ErrCodeNotFound, Message: fmt.Sprintf("document %s not found", raw)}
	}
	if _, err := e.repo.Open(ctx, id); err != nil {
		return "", WrapExitError(ExitCommandError, "open document", err)
	}
	if err := e.repo.Flush(ctx, id); err != nil {
		return "", WrapExitError(ExitCommandError, "open document", err)
	}
	return id, nil
}

// edit applies fn to the document and waits for the change to be
// written to the log. The document must already be writable: openDoc has
// settled it, so a frontend still without an actor has no secret key here.
func (e *docEnv) edit(ctx context.Context, id ir.DocID, fn ir.ChangeFn) error {
	front, ok := e.repo.Frontend(id)
	if !ok {
		return WrapExitError(ExitCommandError, "edit document", repo.ErrUnknownDoc)
	}
	if front.Mode() != doc.ModeWrite {
		return NewExitError(ExitCommandError, fmt.Sprintf("document %s is read-only: no secret key in the change log", id))
	}
	var fnErr error
	if err := front.Change(func(ed ir.Editor) error {
		fnErr = fn(ed)
		return fnErr
	}); err != nil {
		return WrapExitError(ExitCommandError, "edit document", err)
	}
	if err := e.repo.Flush(ctx, id); err != nil {
		return WrapExitError(ExitCommandError, "edit document", err)
	}
	if fnErr != nil {
		return WrapExitError(ExitCommandError, "edit document", fnErr)
	}
	return nil
}

func (e *docEnv) state(id ir.DocID) DocOutput {
	front, _ := e.repo.Frontend(id)
	return DocOutput{ID: string(id), Value: front.Value(), Clock: front.Clock(), History: front.History()}
}

// parseValue reads VALUE as JSON, falling back to a plain string.
func parseValue(s string) ir.Value {
	v, err := ir.UnmarshalValue([]byte(s))
	if err != nil {
		return ir.String(s)
	}
	return v
}

// NewDocCommand creates the doc command group.
func NewDocCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Create, edit and inspect documents in the local change log",
		Long: `Create, edit and inspect documents in the local change log.

The change log lives in <data-dir>/hypermerge.db. Documents created here own
their signing key, so they can be edited by later invocations.

Examples:
  hypermerge doc create
  hypermerge doc set <doc> title '"draft"' -m "first title"
  hypermerge doc set <doc> count 3
  hypermerge doc del <doc> title
  hypermerge doc show <doc> --format json
  hypermerge doc log <doc>
  hypermerge doc list`,
	}
	cmd.AddCommand(newDocCreateCommand(rootOpts))
	cmd.AddCommand(newDocSetCommand(rootOpts))
	cmd.AddCommand(newDocDelCommand(rootOpts))
	cmd.AddCommand(newDocShowCommand(rootOpts))
	cmd.AddCommand(newDocLogCommand(rootOpts))
	cmd.AddCommand(newDocListCommand(rootOpts))
	return cmd
}

func newDocCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create an empty document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRepo(cmd, func(ctx context.Context, env *docEnv) error {
				h, err := env.repo.Create(ctx)
				if err != nil {
					return &ExitError{Code: ExitCommandError, ErrCode: ErrCodeStore, Message: "create document", Err: err}
				}
				if err := env.repo.Flush(ctx, h.DocID()); err != nil {
					return WrapExitError(ExitCommandError, "create document", err)
				}
				return rootOpts.formatter(cmd).Success(env.state(h.DocID()))
			})
		},
	}
}

func newDocSetCommand(rootOpts *RootOptions) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "set <doc> <key> <value>",
		Short: "Set a key; VALUE is JSON, or a plain string if it does not parse",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := parseValue(args[2])
			return rootOpts.withRepo(cmd, func(ctx context.Context, env *docEnv) error {
				id, err := env.openDoc(ctx, args[0])
				if err != nil {
					return err
				}
				err = env.edit(ctx, id, func(ed ir.Editor) error {
					setMessage(ed, message)
					return ed.Set(args[1], value)
				})
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(env.state(id))
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "change message")
	return cmd
}

func newDocDelCommand(rootOpts *RootOptions) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "del <doc> <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRepo(cmd, func(ctx context.Context, env *docEnv) error {
				id, err := env.openDoc(ctx, args[0])
				if err != nil {
					return err
				}
				err = env.edit(ctx, id, func(ed ir.Editor) error {
					setMessage(ed, message)
					return ed.Delete(args[1])
				})
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(env.state(id))
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "change message")
	return cmd
}

func setMessage(ed ir.Editor, message string) {
	if message == "" {
		return
	}
	if m, ok := ed.(interface{ SetMessage(string) }); ok {
		m.SetMessage(message)
	}
}

func newDocShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <doc>",
		Short: "Print a document's value, clock and history length",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRepo(cmd, func(ctx context.Context, env *docEnv) error {
				id, err := env.openDoc(ctx, args[0])
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Success(env.state(id))
			})
		},
	}
}

func newDocLogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log <doc>",
		Short: "List a document's changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRepo(cmd, func(ctx context.Context, env *docEnv) error {
				id := ir.DocID(args[0])
				ok, err := env.store.HasDoc(ctx, id)
				if err != nil {
					return &ExitError{Code: ExitCommandError, ErrCode: ErrCodeStore, Message: "read change log", Err: err}
				}
				if !ok {
					return &ExitError{Code: ExitCommandError, ErrCode: ErrCodeNotFound, Message: fmt.Sprintf("document %s not found", args[0])}
				}
				changes, err := env.store.ReadChanges(ctx, id)
				if err != nil {
					return &ExitError{Code: ExitCommandError, ErrCode: ErrCodeStore, Message: "read change log", Err: err}
				}
				out := LogOutput{ID: args[0], Changes: make([]ChangeEntry, 0, len(changes))}
				for _, c := range changes {
					out.Changes = append(out.Changes, ChangeEntry{
						Hash:    string(c.Hash),
						Actor:   string(c.Actor),
						Seq:     c.Seq,
						Message: c.Message,
						Ops:     len(c.Ops),
					})
				}
				return rootOpts.formatter(cmd).Success(out)
			})
		},
	}
}

func newDocListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents in the change log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRepo(cmd, func(ctx context.Context, env *docEnv) error {
				ids, err := env.store.ListDocs(ctx)
				if err != nil {
					return &ExitError{Code: ExitCommandError, ErrCode: ErrCodeStore, Message: "read change log", Err: err}
				}
				out := ListOutput{Docs: make([]string, len(ids)), Changes: make(map[string]int, len(ids))}
				for i, id := range ids {
					n, err := env.store.CountChanges(ctx, id)
					if err != nil {
						return &ExitError{Code: ExitCommandError, ErrCode: ErrCodeStore, Message: "read change log", Err: err}
					}
					out.Docs[i] = string(id)
					out.Changes[string(id)] = n
				}
				return rootOpts.formatter(cmd).Success(out)
			})
		},
	}
}
