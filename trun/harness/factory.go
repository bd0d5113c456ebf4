package harness

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/toolrun/trun/config"
	"github.com/ZanzyTHEbar/toolrun/trun/db"
	"github.com/ZanzyTHEbar/toolrun/trun/harness/adapters"
	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
	"github.com/ZanzyTHEbar/toolrun/trun/harness/tools"
	"github.com/rs/zerolog"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// CreateAssistantsClient builds the HTTP client for the remote service.
func (f *Factory) CreateAssistantsClient() *adapters.AssistantsClient {
	return adapters.NewAssistantsClient(f.cfg.Assistant.APIKey,
		adapters.WithAssistantsBaseURL(f.cfg.Assistant.APIURL),
		adapters.WithAssistantsHTTPClient(&http.Client{Timeout: f.cfg.Run.RequestTimeout + 5*time.Second}),
	)
}

// CreateRegistry registers the built-in tools. Lookup tools are included
// when their endpoints are configured.
func (f *Factory) CreateRegistry() (*Registry, error) {
	opts := tools.Options{Light: tools.NewLight()}
	client := &http.Client{Timeout: f.cfg.Harness.ToolTimeout}
	if f.cfg.Tools.WeatherAPIURL != "" && f.cfg.Tools.WeatherAPIKey != "" {
		opts.Weather = &tools.HTTPWeather{BaseURL: f.cfg.Tools.WeatherAPIURL, APIKey: f.cfg.Tools.WeatherAPIKey, Client: client}
	}
	if f.cfg.Tools.QuoteAPIURL != "" {
		opts.Quotes = &tools.HTTPQuotes{BaseURL: f.cfg.Tools.QuoteAPIURL, Client: client}
	}

	registry := NewRegistry()
	for _, spec := range tools.Defaults(opts) {
		if err := registry.Register(spec); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// CreateExecutor builds an executor over registry with cache, guardrails and tracing from config.
func (f *Factory) CreateExecutor(registry *Registry) *Executor {
	opts := []ExecutorOption{
		WithToolTimeout(f.cfg.Harness.ToolTimeout),
		WithConcurrency(f.cfg.Harness.ToolConcurrency),
		WithExecutorTracer(f.createTracer()),
		WithExecutorLogger(f.logger),
	}
	if f.cfg.Harness.CacheEnabled {
		opts = append(opts, WithResultCache(adapters.NewLRUCache(f.cfg.Harness.CacheCapacity), f.cfg.Harness.CacheTTLSeconds))
	}
	if f.cfg.Harness.EnableGuardrails {
		opts = append(opts, WithGuardrails(f.CreateGuardrails()))
	}
	return NewExecutor(registry, opts...)
}

// CreateStore opens the configured thread store. The returned close func is never nil.
func (f *Factory) CreateStore(ctx context.Context) (ports.ThreadStore, func() error, error) {
	noClose := func() error { return nil }

	driver := strings.ToLower(strings.TrimSpace(f.cfg.Store.Driver))
	switch driver {
	case "", "none":
		return &noOpStore{}, noClose, nil
	case "libsql":
		conn, err := db.Open(ctx, db.Options{Path: f.cfg.Store.DSN, WAL: true}, f.logger)
		if err != nil {
			return nil, noClose, err
		}
		store, err := adapters.NewLibSQLThreadStore(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, noClose, err
		}
		return store, conn.Close, nil
	case "sqlite", "postgres":
		store, err := adapters.NewGormThreadStore(driver, f.cfg.Store.DSN)
		if err != nil {
			return nil, noClose, err
		}
		return store, store.Close, nil
	default:
		return nil, noClose, fmt.Errorf("unsupported store driver %q", f.cfg.Store.Driver)
	}
}

// CreateOrchestrator wires a full orchestrator against service.
func (f *Factory) CreateOrchestrator(service ports.AssistantService, registry *Registry, store ports.ThreadStore, assistantID string) *Orchestrator {
	builder := NewRunRequestBuilder(registry, assistantID).
		WithInstructions(f.cfg.Assistant.RunInstructions)

	return NewOrchestrator(
		service,
		f.CreateExecutor(registry),
		builder,
		store,
		f.createRateLimiter(),
		f.createTracer(),
		f.CreatePolicy(),
		f.logger,
	)
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	guardrails := NewGuardrails()
	for _, toolName := range f.cfg.Harness.AllowedTools {
		guardrails.AddAllowedTool(toolName)
	}
	guardrails.SetBlockedWords(f.cfg.Harness.BlockedWords)
	guardrails.SetMaxOutputSize(f.cfg.Harness.MaxOutputSize)
	return guardrails
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() *Policy {
	policy := &Policy{
		ToolTimeout:     f.cfg.Harness.ToolTimeout,
		ToolConcurrency: f.cfg.Harness.ToolConcurrency,
		MaxToolRounds:   f.cfg.Harness.MaxToolRounds,
		MaxWait:         f.cfg.Run.MaxWait,
		PollInterval:    f.cfg.Run.PollInterval,
		MaxPollInterval: f.cfg.Run.MaxPollInterval,
		RequestTimeout:  f.cfg.Run.RequestTimeout,
		CancelOnAbort:   f.cfg.Harness.CancelOnAbort,
	}

	if policy.ToolTimeout <= 0 {
		policy.ToolTimeout = 30 * time.Second
		f.logger.Warn().Dur("tool_timeout", f.cfg.Harness.ToolTimeout).Msg("ToolTimeout reset to 30s")
	}
	if policy.MaxToolRounds > 50 {
		policy.MaxToolRounds = 50
		f.logger.Warn().Int("max_tool_rounds", f.cfg.Harness.MaxToolRounds).Msg("MaxToolRounds clamped to maximum of 50")
	}
	if policy.MaxWait <= 0 {
		policy.MaxWait = DefaultPolicy().MaxWait
		f.logger.Warn().Dur("max_wait", f.cfg.Run.MaxWait).Msg("MaxWait reset to default")
	}
	return policy
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Harness.RateLimitCapacity, f.cfg.Harness.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// noOpStore implements ThreadStore interface with no-op behavior.
type noOpStore struct{}

func (s *noOpStore) SaveMessage(ctx context.Context, threadID string, msg ports.Message) error {
	return nil
}

func (s *noOpStore) LoadMessages(ctx context.Context, threadID string, k int) ([]ports.Message, error) {
	return nil, nil
}

func (s *noOpStore) AppendToolArtifact(ctx context.Context, threadID, name string, payload []byte) error {
	return nil
}

var (
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
	_ ports.ThreadStore = (*noOpStore)(nil)
)
