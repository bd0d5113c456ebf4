// Package cli implements the toolrun command line.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ZanzyTHEbar/toolrun/trun/config"
	"github.com/ZanzyTHEbar/toolrun/trun/harness"
	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type options struct {
	configPath  string
	prompt      string
	assistantID string
	threadID    string
	resumeRun   string
	showTools   bool
}

// NewRootCommand builds the toolrun command.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "toolrun",
		Short: "Chat with a tool-calling assistant",
		Long: `toolrun sends your messages to an Assistants-style service, executes the
functions the model asks for locally and prints the final answer.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.prompt == "" && len(args) > 0 {
				opts.prompt = strings.Join(args, " ")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a config file")
	flags.StringVarP(&opts.prompt, "prompt", "p", "", "Ask a single question and exit. If empty, starts interactive mode.")
	flags.StringVar(&opts.assistantID, "assistant-id", "", "Existing assistant to use instead of creating one")
	flags.StringVar(&opts.threadID, "thread-id", "", "Continue an existing thread")
	flags.StringVar(&opts.resumeRun, "resume-run", "", "Re-attach to a run on --thread-id before reading input")
	flags.BoolVar(&opts.showTools, "show-tools", false, "Print tool outputs as they are submitted")
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, in io.Reader, out io.Writer) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := NewLogger(cfg.Log, os.Stderr)

	if cfg.Assistant.APIKey == "" {
		return errors.New("assistant api key is not set; configure assistant.api_key or OPENAI_API_KEY")
	}

	factory := harness.NewFactory(cfg, logger)
	client := factory.CreateAssistantsClient()

	registry, err := factory.CreateRegistry()
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	assistantID := opts.assistantID
	if assistantID == "" {
		assistantID = cfg.Assistant.AssistantID
	}
	if assistantID == "" {
		assistantID, err = provisionAssistant(ctx, client, registry, cfg.Assistant)
		if err != nil {
			return err
		}
		logger.Info().Str("assistant_id", assistantID).Msg("created assistant")
	}

	store, closeStore, err := factory.CreateStore(ctx)
	if err != nil {
		return fmt.Errorf("open thread store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("close thread store")
		}
	}()

	orch := factory.CreateOrchestrator(client, registry, store, assistantID)
	session := &session{orch: orch, render: newRenderer(out), showTools: opts.showTools, logger: logger}

	var thread *harness.Thread
	if opts.threadID != "" {
		thread, err = orch.RestoreThread(ctx, opts.threadID, cfg.Store.HistoryLimit)
	} else {
		thread, err = orch.StartThread(ctx)
	}
	if err != nil {
		return err
	}
	logger.Debug().Str("thread_id", thread.ID()).Msg("thread ready")

	if opts.resumeRun != "" {
		if err := session.resume(ctx, thread, opts.resumeRun); err != nil {
			return err
		}
	}

	if opts.prompt != "" {
		return session.ask(ctx, thread, opts.prompt)
	}
	return session.loop(ctx, thread, in)
}

func provisionAssistant(ctx context.Context, client ports.AssistantProvisioner, registry *harness.Registry, cfg config.AssistantConfig) (string, error) {
	defs, err := harness.ToolDefinitions(registry.Specs())
	if err != nil {
		return "", err
	}
	id, err := client.CreateAssistant(ctx, ports.AssistantDefinition{
		Name:         cfg.Name,
		Instructions: cfg.Instructions,
		Model:        cfg.Model,
		Tools:        defs,
	})
	if err != nil {
		return "", fmt.Errorf("provision assistant: %w", err)
	}
	return id, nil
}

// session runs interactions on one thread and renders their results.
type session struct {
	orch      *harness.Orchestrator
	render    *renderer
	showTools bool
	logger    zerolog.Logger
}

func (s *session) ask(ctx context.Context, thread *harness.Thread, text string) error {
	before := thread.Len()
	res, err := s.orch.Interact(ctx, thread, text)
	return s.report(thread, before, res, err)
}

func (s *session) resume(ctx context.Context, thread *harness.Thread, runID string) error {
	before := thread.Len()
	res, err := s.orch.Resume(ctx, thread, runID)
	return s.report(thread, before, res, err)
}

func (s *session) report(thread *harness.Thread, before int, res *harness.Result, err error) error {
	if s.showTools {
		for _, m := range thread.Messages()[before:] {
			if m.Role == ports.RoleTool {
				s.render.message(m)
			}
		}
	}
	if err != nil {
		var runErr *harness.RunError
		if errors.As(err, &runErr) && errors.Is(err, harness.ErrTimedOut) {
			s.render.notice(fmt.Sprintf("still waiting on run %s; retry with --thread-id %s --resume-run %s",
				runErr.RunID, thread.ID(), runErr.RunID))
		}
		return err
	}
	for _, m := range res.Messages {
		s.render.message(m)
	}
	return nil
}

// loop reads user turns from in until EOF or cancellation.
func (s *session) loop(ctx context.Context, thread *harness.Thread, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		s.render.prompt()
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "exit", "quit":
				return nil
			}
			if err := s.ask(ctx, thread, line); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error().Err(err).Msg("interaction failed")
				s.render.notice(err.Error())
			}
		}
	}
}
