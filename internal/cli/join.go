package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runcollab/internal/config"
	"github.com/roach88/runcollab/internal/dispatch"
	"github.com/roach88/runcollab/internal/engine"
	"github.com/roach88/runcollab/internal/server"
	"github.com/roach88/runcollab/internal/transport"
)

const pollInterval = 50 * time.Millisecond

// JoinOptions holds flags for the join command.
type JoinOptions struct {
	*RootOptions
	URL      string
	User     string
	Pipeline []string
	Create   bool
	Grafts   []string
	Prunes   []string
	Restores []string
	Flags    []string
	Cursor   string
	Wait     time.Duration
	Duration time.Duration
}

// joinIntent is one mutation requested on the command line.
type joinIntent struct {
	label string
	send  func(*engine.Engine) (dispatch.Result, error)
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join <run-id>",
		Short: "Join a run as a headless client",
		Long: `Join a run as a headless client.

The client connects to the server, replays the run's history, applies the
requested edits and then prints the notifications raised by other
participants until interrupted (or until --duration elapses). The final
merged state is printed on exit.

Examples:
  runcollab join run-42 --user alice
  runcollab join run-42 --user bob --create --pipeline fetch,build,deploy
  runcollab join run-42 --user bob --graft fetch:lint --prune deploy --duration 5s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "websocket endpoint (overrides client.url)")
	cmd.Flags().StringVarP(&opts.User, "user", "u", "", "user id (overrides client.user_id)")
	cmd.Flags().StringSliceVar(&opts.Pipeline, "pipeline", nil, "base pipeline steps (overrides client.pipeline)")
	cmd.Flags().BoolVar(&opts.Create, "create", false, "register the run and its pipeline on the server first")
	cmd.Flags().StringArrayVar(&opts.Grafts, "graft", nil, "graft an agent, as after:agent (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Prunes, "prune", nil, "prune a step (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Restores, "restore", nil, "restore a pruned step (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Flags, "flag", nil, "flag a step, as step or step:note (repeatable)")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "move the cursor to a node")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 10*time.Second, "how long to wait for the connection")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "leave after this long (0 waits for a signal)")

	return cmd
}

func runJoin(opts *JoinOptions, runID string, cmd *cobra.Command) error {
	cfg := opts.Config
	if cmd.Flags().Changed("url") {
		cfg.Client.URL = opts.URL
	}
	if cmd.Flags().Changed("user") {
		cfg.Client.UserID = opts.User
	}
	if cmd.Flags().Changed("pipeline") {
		cfg.Client.Pipeline = opts.Pipeline
	}
	if strings.TrimSpace(cfg.Client.UserID) == "" {
		return NewExitError(ExitCommandError, "a user id is required (--user or RUNCOLLAB_CLIENT_USER_ID)")
	}

	intents, err := parseIntents(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid edit", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	if opts.Create {
		if err := createRun(ctx, cfg, runID); err != nil {
			return err
		}
	}

	eng := engine.New(transport.WebsocketDialer{URL: cfg.Client.URL}, cfg.Client.UserID, engineOptions(cfg)...)
	eng.Open(runID)
	defer eng.Close()

	w := cmd.OutOrStdout()
	if err := waitConnected(ctx, eng, opts.Wait); err != nil {
		return WrapExitError(ExitFailure, "not connected", err)
	}
	fmt.Fprintf(w, "Joined %s as %s\n", runID, cfg.Client.UserID)

	for _, in := range intents {
		res, err := in.send(eng)
		if err != nil {
			return WrapExitError(ExitCommandError, in.label, err)
		}
		if !res.Sent {
			slog.Warn("edit kept locally", "run_id", runID, "event_id", res.Event.ID)
		}
		fmt.Fprintf(w, "%s (%s)\n", in.label, res.Event.ID)
	}

	watchNotifications(ctx, eng, w)

	st := eng.State()
	fmt.Fprintf(w, "Graft order: %s\n", strings.Join(st.GraftOrder, " -> "))
	if len(st.PrunedSteps) > 0 {
		fmt.Fprintf(w, "Pruned: %s\n", strings.Join(st.PrunedSteps, ", "))
	}
	fmt.Fprintf(w, "Active users: %s\n", strings.Join(eng.ActiveUsers(), ", "))
	return nil
}

func engineOptions(cfg config.Config) []engine.Option {
	opts := []engine.Option{
		engine.WithSupervisorConfig(cfg.SupervisorSettings()),
		engine.WithStaleness(cfg.Client.Staleness),
		engine.WithHeartbeat(cfg.Client.HeartbeatInterval),
		engine.WithNoticeLimit(cfg.Client.NoticeLimit),
		engine.WithNoticeTimeout(cfg.Client.NoticeTimeout),
		engine.WithPipeline(cfg.Client.Pipeline...),
	}
	if cfg.Client.Outbox {
		opts = append(opts, engine.WithOutbox())
	}
	return opts
}

func createRun(ctx context.Context, cfg config.Config, runID string) error {
	client, err := httpClient(cfg, "")
	if err != nil {
		return err
	}
	if _, err := client.CreateRun(ctx, runID, cfg.Client.Pipeline); err != nil {
		return WrapExitError(ExitCommandError, "failed to create run", err)
	}
	return nil
}

// parseIntents validates the edit flags before anything connects.
func parseIntents(opts *JoinOptions) ([]joinIntent, error) {
	var intents []joinIntent
	for _, g := range opts.Grafts {
		after, agent, ok := strings.Cut(g, ":")
		if !ok || after == "" || agent == "" {
			return nil, fmt.Errorf("graft %q: want after:agent", g)
		}
		intents = append(intents, joinIntent{
			label: fmt.Sprintf("Grafted %s after %s", agent, after),
			send:  func(e *engine.Engine) (dispatch.Result, error) { return e.SendGraft(after, agent) },
		})
	}
	for _, step := range opts.Prunes {
		intents = append(intents, joinIntent{
			label: "Pruned " + step,
			send:  func(e *engine.Engine) (dispatch.Result, error) { return e.SendPrune(step, true) },
		})
	}
	for _, step := range opts.Restores {
		intents = append(intents, joinIntent{
			label: "Restored " + step,
			send:  func(e *engine.Engine) (dispatch.Result, error) { return e.SendPrune(step, false) },
		})
	}
	for _, f := range opts.Flags {
		step, note, _ := strings.Cut(f, ":")
		if step == "" {
			return nil, fmt.Errorf("flag %q: want step or step:note", f)
		}
		intents = append(intents, joinIntent{
			label: "Flagged " + step,
			send:  func(e *engine.Engine) (dispatch.Result, error) { return e.SendFlag(step, note) },
		})
	}
	if opts.Cursor != "" {
		node := opts.Cursor
		intents = append(intents, joinIntent{
			label: "Moved cursor to " + node,
			send:  func(e *engine.Engine) (dispatch.Result, error) { return e.SendCursorMove(node) },
		})
	}
	return intents, nil
}

// waitConnected polls until the engine's session is open.
func waitConnected(ctx context.Context, eng *engine.Engine, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for !eng.IsConnected() {
		select {
		case <-ctx.Done():
			st := eng.ConnectionState()
			return fmt.Errorf("phase %s, circuit %s: %w", st.Phase, st.Circuit, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// watchNotifications prints every new notice until ctx is done.
func watchNotifications(ctx context.Context, eng *engine.Engine, w io.Writer) {
	seen := make(map[string]bool)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		for _, n := range eng.Notifications() {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			fmt.Fprintf(w, "[%s] %s\n", n.CreatedAt.Format(time.TimeOnly), n.Text)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				slog.Info("interrupted, leaving run", "run_id", eng.RunID())
			}
			return
		case <-ticker.C:
		}
	}
}

// httpClient builds a history API client. baseURL wins over the base
// derived from the configured websocket endpoint.
func httpClient(cfg config.Config, baseURL string) (*server.Client, error) {
	if baseURL == "" {
		var err error
		baseURL, err = server.BaseURLFromWebsocket(cfg.Client.URL)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid server url", err)
		}
	}
	return server.NewClient(baseURL, nil), nil
}
