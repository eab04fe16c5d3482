package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/artificer/adapter"
	"github.com/justapithecus/artificer/adapter/redis"
	"github.com/justapithecus/artificer/adapter/webhook"
	"github.com/justapithecus/artificer/cli/config"
	"github.com/justapithecus/artificer/cli/tui"
	"github.com/justapithecus/artificer/engine"
	"github.com/justapithecus/artificer/iox"
	"github.com/justapithecus/artificer/lode"
	"github.com/justapithecus/artificer/log"
	"github.com/justapithecus/artificer/metrics"
	"github.com/justapithecus/artificer/observer"
	"github.com/justapithecus/artificer/policy"
	"github.com/justapithecus/artificer/runtime"
	"github.com/justapithecus/artificer/sandbox"
)

// Flag defaults that are also the fallback for config values.
const (
	defaultPolicy        = "strict"
	defaultWatchDebounce = 200 * time.Millisecond
)

// RunCommand returns the run command. It is the only command that executes
// actions.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Parse a model output stream and execute its actions in a sandbox",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to artificer.yaml (default: ./artificer.yaml when present)",
			},
			// Input flags
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Input path, - for stdin",
				Value:   "-",
			},
			&cli.StringFlag{
				Name:  "input-format",
				Usage: "Input format: text or frames",
				Value: inputText,
			},
			&cli.StringFlag{
				Name:  "message-id",
				Usage: "Message id for text input",
				Value: runtime.DefaultMessageID,
			},
			&cli.StringFlag{
				Name:  "session-id",
				Usage: "Session id (default: random)",
			},
			&cli.StringFlag{
				Name:  "conversation-id",
				Usage: "Conversation id recorded in logs and the journal",
			},
			// Sandbox flags
			&cli.StringFlag{
				Name:  "root",
				Usage: "Sandbox root directory",
				Value: ".",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Use an in-memory sandbox whose commands only echo",
			},
			&cli.StringSliceFlag{
				Name:  "env",
				Usage: "KEY=VALUE added to every shell command (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Report file tree changes made by shell commands",
			},
			&cli.DurationFlag{
				Name:  "watch-debounce",
				Usage: "Quiet period before a watched change is reported",
				Value: defaultWatchDebounce,
			},
			// Policy flags
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Submission policy: strict or batched",
				Value: defaultPolicy,
			},
			&cli.IntFlag{
				Name:  "max-batch",
				Usage: "Max file actions per batch (batched policy, 0 = unbounded)",
				Value: policy.DefaultBatchedConfig().MaxBatch,
			},
			&cli.IntFlag{
				Name:  "max-parallel",
				Usage: "Max concurrent file writes within a batch (0 = engine default)",
			},
			&cli.DurationFlag{
				Name:  "flush-timeout",
				Usage: "Bound on waiting for submitted actions after an abort",
				Value: runtime.DefaultFlushTimeout,
			},
			// Journal flags
			&cli.StringFlag{
				Name:  "journal-backend",
				Usage: "Journal backend: fs or s3",
				Value: "fs",
			},
			&cli.StringFlag{
				Name:  "journal-path",
				Usage: "Journal location (fs: directory, s3: bucket/prefix); empty disables the journal",
			},
			&cli.StringFlag{
				Name:  "journal-dataset",
				Usage: "Journal dataset id",
				Value: lode.DefaultDataset,
			},
			&cli.StringFlag{
				Name:  "journal-s3-region",
				Usage: "AWS region for the s3 backend (default chain when empty)",
			},
			&cli.StringFlag{
				Name:  "journal-s3-endpoint",
				Usage: "Custom endpoint for S3-compatible providers",
			},
			&cli.BoolFlag{
				Name:  "journal-s3-path-style",
				Usage: "Force path-style S3 addressing",
			},
			// Adapter flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Artifact notification adapter: webhook or redis",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Webhook endpoint or Redis URL",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis channel",
				Value: redis.DefaultChannel,
			},
			&cli.StringFlag{
				Name:  "adapter-state-prefix",
				Usage: "Redis key prefix for the per-session artifact state hash (empty disables it)",
			},
			&cli.StringSliceFlag{
				Name:  "adapter-header",
				Usage: "Webhook header as Name=Value (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "adapter-timeout",
				Usage: "Per-attempt publish timeout (default: adapter default)",
			},
			&cli.IntFlag{
				Name:  "adapter-retries",
				Usage: "Publish retries",
				Value: webhook.DefaultRetries,
			},
			// Output flags
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show a live terminal view",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress prose and the result summary",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON session report to this path (- for stderr)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs here instead of stderr",
			},
		},
		Action: runAction,
	}
}

// runChoice is the run configuration after merging flags over config.
type runChoice struct {
	sessionID      string
	conversationID string

	input       string
	inputFormat string
	messageID   string

	root          string
	dryRun        bool
	env           map[string]string
	watch         bool
	watchDebounce time.Duration

	policyName   string
	maxBatch     int
	maxParallel  int
	flushTimeout time.Duration

	journal journalChoice
	adapter adapterChoice

	tui      bool
	quiet    bool
	report   string
	logLevel string
	logFile  string
}

// journalChoice holds journal configuration.
type journalChoice struct {
	backend   string // "fs" or "s3"
	path      string // fs: directory, s3: bucket/prefix
	dataset   string
	region    string
	endpoint  string
	pathStyle bool
}

// adapterChoice holds notification adapter configuration.
type adapterChoice struct {
	kind        string // "", "webhook" or "redis"
	url         string
	channel     string
	statePrefix string
	headers     map[string]string
	timeout     time.Duration
	retries     int
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	choice, err := resolveRunChoice(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	if err := validateRunChoice(choice); err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	return execute(c, choice)
}

// loadConfig loads --config, or artificer.yaml when present.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

func resolveRunChoice(c *cli.Context, cfg *config.Config) (runChoice, error) {
	env, err := parseKeyValues(c.StringSlice("env"))
	if err != nil {
		return runChoice{}, fmt.Errorf("--env: %w", err)
	}
	headers, err := parseKeyValues(c.StringSlice("adapter-header"))
	if err != nil {
		return runChoice{}, fmt.Errorf("--adapter-header: %w", err)
	}

	choice := runChoice{
		sessionID:      c.String("session-id"),
		conversationID: c.String("conversation-id"),

		input:       c.String("input"),
		inputFormat: resolveString(c, "input-format", configVal(cfg, func(c *config.Config) string { return c.Input.Format })),
		messageID:   resolveString(c, "message-id", configVal(cfg, func(c *config.Config) string { return c.Input.MessageID })),

		root:          resolveString(c, "root", configVal(cfg, func(c *config.Config) string { return c.Sandbox.Root })),
		dryRun:        resolveBool(c, "dry-run", configVal(cfg, func(c *config.Config) bool { return c.Sandbox.DryRun })),
		env:           mergeMaps(configVal(cfg, func(c *config.Config) map[string]string { return c.Sandbox.Env }), env),
		watch:         resolveBool(c, "watch", configVal(cfg, func(c *config.Config) bool { return c.Sandbox.Watch })),
		watchDebounce: resolveDuration(c, "watch-debounce", configVal(cfg, func(c *config.Config) time.Duration { return c.Sandbox.WatchDebounce.Duration })),

		policyName:   resolveString(c, "policy", configVal(cfg, func(c *config.Config) string { return c.Policy.Name })),
		maxBatch:     resolveIntPtr(c, "max-batch", configVal(cfg, func(c *config.Config) *int { return c.Policy.MaxBatch })),
		maxParallel:  resolveInt(c, "max-parallel", configVal(cfg, func(c *config.Config) int { return c.Policy.MaxParallel })),
		flushTimeout: c.Duration("flush-timeout"),

		journal: journalChoice{
			backend:   resolveString(c, "journal-backend", configVal(cfg, func(c *config.Config) string { return c.Journal.Backend })),
			path:      resolveString(c, "journal-path", configVal(cfg, func(c *config.Config) string { return c.Journal.Path })),
			dataset:   resolveString(c, "journal-dataset", configVal(cfg, func(c *config.Config) string { return c.Journal.Dataset })),
			region:    resolveString(c, "journal-s3-region", configVal(cfg, func(c *config.Config) string { return c.Journal.Region })),
			endpoint:  resolveString(c, "journal-s3-endpoint", configVal(cfg, func(c *config.Config) string { return c.Journal.Endpoint })),
			pathStyle: resolveBool(c, "journal-s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Journal.S3PathStyle })),
		},
		adapter: adapterChoice{
			kind:        resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type })),
			url:         resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL })),
			channel:     resolveString(c, "adapter-channel", configVal(cfg, func(c *config.Config) string { return c.Adapter.Channel })),
			statePrefix: resolveString(c, "adapter-state-prefix", configVal(cfg, func(c *config.Config) string { return c.Adapter.StatePrefix })),
			headers:     mergeMaps(configVal(cfg, func(c *config.Config) map[string]string { return c.Adapter.Headers }), headers),
			timeout:     resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.Timeout.Duration })),
			retries:     resolveIntPtr(c, "adapter-retries", configVal(cfg, func(c *config.Config) *int { return c.Adapter.Retries })),
		},

		tui:      c.Bool("tui"),
		quiet:    c.Bool("quiet"),
		report:   c.String("report"),
		logLevel: resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.LogLevel })),
		logFile:  c.String("log-file"),
	}
	if choice.sessionID == "" {
		choice.sessionID = uuid.NewString()
	}
	return choice, nil
}

func validateRunChoice(choice runChoice) error {
	switch choice.inputFormat {
	case inputText, inputFrames:
	default:
		return fmt.Errorf("invalid --input-format: %s (must be text or frames)", choice.inputFormat)
	}
	switch choice.policyName {
	case "strict":
		if choice.maxBatch != policy.DefaultBatchedConfig().MaxBatch {
			fmt.Fprintf(os.Stderr, "Warning: --max-batch ignored for strict policy\n")
		}
	case "batched":
		if choice.maxBatch < 0 {
			return fmt.Errorf("batched policy requires --max-batch >= 0, got %d", choice.maxBatch)
		}
	default:
		return fmt.Errorf("invalid policy: %s (must be strict or batched)", choice.policyName)
	}
	if choice.maxParallel < 0 {
		return fmt.Errorf("--max-parallel must be >= 0, got %d", choice.maxParallel)
	}
	if choice.dryRun && choice.watch {
		return errors.New("--watch needs a local sandbox and cannot be combined with --dry-run")
	}
	if !choice.dryRun && choice.root == "" {
		return errors.New("--root is required unless --dry-run is set")
	}
	switch choice.journal.backend {
	case "fs", "s3":
	default:
		return fmt.Errorf("invalid --journal-backend: %s (must be fs or s3)", choice.journal.backend)
	}
	switch choice.adapter.kind {
	case "":
	case "webhook", "redis":
		if choice.adapter.url == "" {
			return fmt.Errorf("--adapter-url is required for the %s adapter", choice.adapter.kind)
		}
		if choice.adapter.retries < 0 {
			return fmt.Errorf("--adapter-retries must be >= 0, got %d", choice.adapter.retries)
		}
	default:
		return fmt.Errorf("invalid --adapter: %s (must be webhook or redis)", choice.adapter.kind)
	}
	return nil
}

// execute wires the session components and runs it to an exit code.
func execute(c *cli.Context, choice runChoice) error {
	startTime := time.Now()

	logger, closeLog, err := buildLogger(c, choice)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	defer closeLog()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(choice.policyName, sandboxName(choice), journalName(choice), choice.sessionID)

	in, err := openInput(c, choice.input)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	defer iox.DiscardClose(in)
	src, err := newSource(in, choice.inputFormat, choice.messageID, 0)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}

	observers := []observer.Observer{observer.NewLogging(logger.Named("observer"))}

	journal, err := buildJournal(ctx, choice, startTime, logger, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open journal: %v", err), runtime.ExitCodeError)
	}
	if journal != nil {
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Warn("journal close failed", map[string]any{"error": err.Error()})
			}
		}()
		observers = append(observers, journal)
	}

	ad, err := buildAdapter(choice.adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create adapter: %v", err), runtime.ExitCodeError)
	}
	if ad != nil {
		notifier := observer.NewNotifier(observer.NotifierConfig{
			Adapter:   ad,
			SessionID: choice.sessionID,
			Logger:    logger.Named("notifier"),
			Collector: collector,
		})
		defer func() { _ = notifier.Close() }()
		observers = append(observers, notifier)
	}

	var live *tui.Live
	if choice.tui {
		live = tui.Start(choice.sessionID, stop)
		observers = append(observers, live.Observer())
	}
	obs := observer.NewMulti(observers...)

	eng := engine.New(buildBooter(choice, logger),
		engine.WithObserver(obs),
		engine.WithLogger(logger.Named("engine")),
		engine.WithCollector(collector),
		engine.WithMaxParallel(choice.maxParallel),
		engine.WithEnv(choice.env),
	)
	defer func() { _ = eng.Close() }()

	pol, err := buildPolicy(choice, eng, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create policy: %v", err), runtime.ExitCodeError)
	}

	session, err := runtime.NewSession(&runtime.SessionConfig{
		SessionID:     choice.sessionID,
		Source:        src,
		Engine:        eng,
		Policy:        pol,
		Observer:      obs,
		TextSink:      textSink(c.App.Writer, choice),
		Journal:       journal,
		Watch:         choice.watch,
		WatchDebounce: choice.watchDebounce,
		FlushTimeout:  choice.flushTimeout,
		Logger:        logger.Named("session"),
		Collector:     collector,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	result, err := session.Execute(ctx)
	if err != nil {
		return fmt.Errorf("session failed: %w", err)
	}

	if live != nil {
		if err := live.Finish(string(result.Outcome), result.String()); err != nil {
			logger.Warn("live view failed", map[string]any{"error": err.Error()})
		}
	}
	if choice.report != "" {
		report := runtime.BuildSessionReport(result, choice.policyName)
		if err := runtime.WriteSessionReport(report, choice.report); err != nil {
			logger.Warn("failed to write report", map[string]any{"error": err.Error()})
		}
	}
	if !choice.quiet {
		printRunResult(c.App.ErrWriter, result, choice)
	}

	if code := result.Outcome.ExitCode(); code != runtime.ExitCodeSuccess {
		return cli.Exit(result.Message, code)
	}
	return nil
}

// buildLogger writes JSON logs to --log-file, or stderr. A live view owns
// the terminal, so without --log-file it gets a no-op logger.
func buildLogger(c *cli.Context, choice runChoice) (*log.Logger, func(), error) {
	ctx := log.Context{SessionID: choice.sessionID, ConversationID: choice.conversationID}
	level := log.ParseLevel(choice.logLevel)
	if choice.logFile != "" {
		f, err := os.OpenFile(choice.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open log file: %w", err)
		}
		return log.NewLoggerWithWriter(ctx, f, level), func() { _ = f.Close() }, nil
	}
	if choice.tui {
		return log.NewNop(), func() {}, nil
	}
	return log.NewLoggerWithWriter(ctx, c.App.ErrWriter, level), func() {}, nil
}

func buildBooter(choice runChoice, logger *log.Logger) sandbox.Booter {
	if choice.dryRun {
		return sandbox.NewDryRun()
	}
	return sandbox.NewLocalBooter(sandbox.LocalConfig{
		Root:   choice.root,
		Logger: logger.Named("sandbox"),
	})
}

func buildPolicy(choice runChoice, runner policy.Runner, logger *log.Logger) (policy.Policy, error) {
	switch choice.policyName {
	case "strict":
		return policy.NewStrictPolicy(runner), nil
	case "batched":
		return policy.NewBatchedPolicy(runner, policy.BatchedConfig{
			MaxBatch: choice.maxBatch,
			Logger:   logger.Named("policy"),
		})
	default:
		return nil, fmt.Errorf("unknown policy: %s", choice.policyName)
	}
}

// buildJournal opens the journal, or returns nil when no path is set.
func buildJournal(ctx context.Context, choice runChoice, start time.Time, logger *log.Logger, collector *metrics.Collector) (*lode.Journal, error) {
	jc := choice.journal
	if jc.path == "" {
		return nil, nil
	}
	cfg := lode.Config{
		Dataset:        jc.dataset,
		SessionID:      choice.sessionID,
		ConversationID: choice.conversationID,
		Day:            lode.DeriveDay(start),
	}
	opts := []lode.Option{
		lode.WithLogger(logger.Named("journal")),
		lode.WithCollector(collector),
	}
	switch jc.backend {
	case "fs":
		return lode.NewFS(cfg, jc.path, opts...)
	case "s3":
		bucket, prefix := lode.ParseS3Path(jc.path)
		return lode.NewS3(ctx, cfg, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       jc.region,
			Endpoint:     jc.endpoint,
			UsePathStyle: jc.pathStyle,
		}, opts...)
	default:
		return nil, fmt.Errorf("unknown journal backend: %s (must be fs or s3)", jc.backend)
	}
}

// buildAdapter creates the notification adapter, or returns nil when none
// is configured.
func buildAdapter(ac adapterChoice) (adapter.Adapter, error) {
	switch ac.kind {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:            ac.url,
			Channel:        ac.channel,
			Timeout:        ac.timeout,
			Retries:        ac.retries,
			StateKeyPrefix: ac.statePrefix,
		})
	default:
		return nil, fmt.Errorf("unknown adapter: %s (must be webhook or redis)", ac.kind)
	}
}

// textSink prints prose unless the output is taken by the live view or
// silenced.
func textSink(w io.Writer, choice runChoice) runtime.TextSink {
	if choice.quiet || choice.tui {
		return nil
	}
	return func(_ string, text string) {
		_, _ = io.WriteString(w, text)
	}
}

func sandboxName(choice runChoice) string {
	if choice.dryRun {
		return "dry_run"
	}
	return "local"
}

func journalName(choice runChoice) string {
	if choice.journal.path == "" {
		return "none"
	}
	return choice.journal.backend
}

// parseKeyValues parses KEY=VALUE pairs.
func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

// mergeMaps returns base overlaid with over. Either may be nil.
func mergeMaps(base, over map[string]string) map[string]string {
	if len(base) == 0 {
		return over
	}
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func printRunResult(w io.Writer, result *runtime.Result, choice runChoice) {
	fmt.Fprintf(w, "\nsession_id=%s, outcome=%s, duration=%s\n",
		result.SessionID,
		result.Outcome,
		result.Duration.Round(time.Millisecond),
	)
	if choice.policyName == "batched" {
		fmt.Fprintf(w, "policy=%s, max_batch=%d, batches=%d, largest_batch=%d\n",
			choice.policyName,
			choice.maxBatch,
			result.PolicyStats.BatchesFlushed,
			result.PolicyStats.MaxBatchSize,
		)
	} else {
		fmt.Fprintf(w, "policy=%s\n", choice.policyName)
	}

	fmt.Fprintf(w, "\n=== Session Result ===\n")
	fmt.Fprintf(w, "Outcome:      %s\n", result.Outcome)
	fmt.Fprintf(w, "Message:      %s\n", result.Message)
	fmt.Fprintf(w, "Chunks:       %d\n", result.Chunks)
	fmt.Fprintf(w, "Actions:      %d\n", len(result.Actions))
	fmt.Fprintf(w, "Failed:       %d\n", result.Failed)
	fmt.Fprintf(w, "Parse errors: %d\n", len(result.ParseErrors))

	if len(result.Actions) > 0 {
		fmt.Fprintf(w, "\n=== Actions ===\n")
		for _, a := range result.Actions {
			line := fmt.Sprintf("%-8s %-5s %s", a.Status, a.Action.Type, describeAction(a.Action.FilePath, a.Action.Content))
			if a.Error != "" {
				line += " (" + a.Error + ")"
			}
			fmt.Fprintln(w, line)
		}
	}

	fmt.Fprintf(w, "\n=== Policy Stats ===\n")
	fmt.Fprintf(w, "Submitted:    %d\n", result.PolicyStats.Submitted)
	fmt.Fprintf(w, "Completed:    %d\n", result.PolicyStats.Completed)
	fmt.Fprintf(w, "Failed:       %d\n", result.PolicyStats.Failed)
	fmt.Fprintf(w, "Aborted:      %d\n", result.PolicyStats.Aborted)
}

func describeAction(filePath, content string) string {
	if filePath != "" {
		return filePath
	}
	first, _, _ := strings.Cut(content, "\n")
	return first
}
