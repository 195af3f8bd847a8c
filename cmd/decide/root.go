package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"llm-branch/internal/ai"
	"llm-branch/internal/config"
	"llm-branch/internal/store"
	"llm-branch/internal/util"
	"llm-branch/pkg/branch"
)

type options struct {
	out     io.Writer
	backend branch.Backend

	configPath  string
	condition   string
	choices     []string
	fallback    string
	model       string
	provider    string
	apiKey      string
	baseURL     string
	dbPath      string
	timeout     time.Duration
	jsonOut     bool
	diagnostics bool

	result branch.Result
}

// execute runs the command and maps the decision onto an exit code:
// 0 on success, 1 when the decision failed, 2 on usage or setup errors.
func execute(args []string, out io.Writer, backend branch.Backend) (int, error) {
	opts := &options{out: out, backend: backend}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	if err := cmd.Execute(); err != nil {
		return 2, err
	}
	if !opts.result.Succeeded {
		return 1, nil
	}
	return 0, nil
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Ask a language model to pick one choice matching a condition",
		Example: `  decide --condition "the review is positive" --choice good --choice bad --else unsure
  decide -c "it is a weekend" --choice yes --choice no --json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Optional YAML config file")
	flags.StringVarP(&opts.condition, "condition", "c", "", "Natural-language condition")
	flags.StringArrayVar(&opts.choices, "choice", nil, "Allowed choice (repeatable)")
	flags.StringVar(&opts.fallback, "else", "", "Value returned when no choice matches")
	flags.StringVar(&opts.model, "model", "", "Model identifier (defaults to config)")
	flags.StringVar(&opts.provider, "provider", "", "Backend provider: gemini or openai")
	flags.StringVar(&opts.apiKey, "api-key", "", "Backend API key (defaults to GEMINI_API_KEY)")
	flags.StringVar(&opts.baseURL, "base-url", "", "Override the backend base URL")
	flags.StringVar(&opts.dbPath, "db", "", "Record the decision in this SQLite database")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Overall timeout for the decision")
	flags.BoolVar(&opts.jsonOut, "json", false, "Print the full result as JSON")
	flags.BoolVar(&opts.diagnostics, "console-errors", false, "Log failure messages to stderr")
	return cmd
}

func (o *options) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	cfg.ConfigureLogging()
	if o.provider != "" {
		cfg.LLM.Provider = o.provider
	}
	if o.baseURL != "" {
		cfg.LLM.BaseURL = o.baseURL
	}

	backend := o.backend
	if backend == nil {
		built, err := ai.New(cfg.AIConfig())
		if err != nil {
			return err
		}
		backend = built
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	input := branch.Input{
		Condition:   o.condition,
		Choices:     o.choices,
		Credential:  firstNonEmpty(o.apiKey, cfg.LLM.APIKey),
		Model:       firstNonEmpty(o.model, cfg.LLM.Model),
		Fallback:    o.fallback,
		Diagnostics: o.diagnostics,
	}
	timer := util.StartTimer()
	o.result = branch.New(backend).Decide(ctx, input)

	if o.dbPath != "" {
		if err := record(o.dbPath, backend.Name(), input, o.result, timer.ElapsedMs()); err != nil {
			logrus.WithError(err).Warn("record decision")
		}
	}
	return o.print()
}

func (o *options) print() error {
	if o.jsonOut {
		enc := json.NewEncoder(o.out)
		enc.SetIndent("", "  ")
		return enc.Encode(o.result)
	}
	if !o.result.Succeeded && !o.diagnostics {
		logrus.Warn(o.result.Message)
	}
	_, err := fmt.Fprintln(o.out, o.result.Selected)
	return err
}

func record(path, backendName string, input branch.Input, res branch.Result, latencyMs int64) error {
	db, err := store.Open(path, true)
	if err != nil {
		return errors.Wrap(err, "open history")
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	decision := &store.Decision{
		RequestID: uuid.NewString(),
		Condition: input.Condition,
		Fallback:  input.Fallback,
		Model:     input.Model,
		Backend:   backendName,
		Succeeded: res.Succeeded,
		Selected:  res.Selected,
		Message:   res.Message,
		LatencyMs: latencyMs,
	}
	decision.SetChoices(input.Choices)
	return db.SaveDecision(decision)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
