// Package cli implements the syncc command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/client"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/config"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/logging"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/status"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
)

// Exit codes.
const (
	ExitCodeFailure    = 1
	ExitCodeValidation = 2
	ExitCodeNetwork    = 3
	ExitCodeAuth       = 4
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Exitf builds an ExitError from a format string.
func Exitf(code int, format string, args ...any) error {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// exitFor maps a sync error onto an exit code.
func exitFor(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	code := ExitCodeFailure
	switch syncerr.KindOf(err) {
	case syncerr.KindValidation:
		code = ExitCodeValidation
	case syncerr.KindNetwork:
		code = ExitCodeNetwork
	case syncerr.KindAuthorization:
		code = ExitCodeAuth
	}
	return &ExitError{Code: code, Err: err}
}

// runtime is the per-invocation state shared by subcommands.
type runtime struct {
	version    string
	configFile string
	logLevel   string
	logFormat  string
	userID     string
	noColor    bool

	cfg      *config.Config
	contexts *config.ContextStore
	logClose io.Closer
}

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	rt := &runtime{version: version}

	cmd := &cobra.Command{
		Use:           "syncc",
		Short:         "Optimistic chat sync client",
		Long:          "syncc sends and reads chat messages through the local sync cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.logClose != nil {
				_ = rt.logClose.Close()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&rt.configFile, "config", "", "config file (default ~/.config/sync/config.yaml)")
	flags.StringVar(&rt.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&rt.logFormat, "log-format", "", "log format (console, json)")
	flags.StringVar(&rt.userID, "user", "", "signed-in user id (overrides context)")
	flags.BoolVar(&rt.noColor, "no-color", false, "disable colored status glyphs")

	cmd.AddCommand(
		newSendCmd(rt),
		newMessagesCmd(rt),
		newUseCmd(rt),
		newContextCmd(rt),
		newCacheCmd(rt),
		newVersionCmd(rt),
	)
	return cmd
}

// init loads configuration with flag overrides and sets up logging.
func (rt *runtime) init(cmd *cobra.Command) error {
	loader := config.NewLoader()
	if rt.configFile != "" {
		loader.SetConfigFile(rt.configFile)
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		loader.Set("logging.level", rt.logLevel)
	}
	if flags.Changed("log-format") {
		loader.Set("logging.format", rt.logFormat)
	}
	if flags.Changed("user") {
		loader.Set("backend.user_id", rt.userID)
	}

	cfg, err := loader.Load()
	if err != nil {
		return Exitf(ExitCodeValidation, "%v", err)
	}
	rt.cfg = cfg
	rt.contexts = config.NewContextStore(contextPath(cfg))

	logCfg := logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cmd.ErrOrStderr(),
		EnableCaller: cfg.Logging.EnableCaller,
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return Exitf(ExitCodeFailure, "open log file: %v", err)
		}
		logCfg.Output = f
		logCfg.Format = "json"
		rt.logClose = f
	}
	logging.Init(logCfg)
	return nil
}

func contextPath(cfg *config.Config) string {
	if cfg.Global.ConfigDir == "" {
		return ""
	}
	return filepath.Join(cfg.Global.ConfigDir, "context.yaml")
}

// currentUser resolves the user from config, then the saved context.
func (rt *runtime) currentUser() (string, error) {
	if id := strings.TrimSpace(rt.cfg.Backend.UserID); id != "" {
		return id, nil
	}
	ctx, err := rt.contexts.Load()
	if err != nil {
		return "", Exitf(ExitCodeFailure, "load context: %v", err)
	}
	if ctx.UserID == "" {
		return "", Exitf(ExitCodeValidation, "no user: pass --user, set SYNC_BACKEND_USER_ID, or run 'syncc use --user <id>'")
	}
	return ctx.UserID, nil
}

// conversation resolves the conversation from the flag, then the saved context.
func (rt *runtime) conversation(flag string) (string, error) {
	if id := strings.TrimSpace(flag); id != "" {
		return id, nil
	}
	ctx, err := rt.contexts.Load()
	if err != nil {
		return "", Exitf(ExitCodeFailure, "load context: %v", err)
	}
	if !ctx.HasConversation() {
		return "", Exitf(ExitCodeValidation, "no conversation: pass --conversation or run 'syncc use <conversation>'")
	}
	return ctx.ConversationID, nil
}

// openClient opens a one-shot client. Realtime is off: commands exit
// before a push could matter.
func (rt *runtime) openClient(ctx context.Context) (*client.Client, error) {
	user, err := rt.currentUser()
	if err != nil {
		return nil, err
	}
	cfg := *rt.cfg
	cfg.Backend.UserID = user
	cfg.Realtime.Enabled = false
	c, err := client.Open(ctx, &cfg, client.Deps{})
	if err != nil {
		return nil, exitFor(err)
	}
	return c, nil
}

func (rt *runtime) renderer(out io.Writer) *status.Renderer {
	return status.NewRenderer(status.DefaultPalette, !rt.noColor && isTerminal(out))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
