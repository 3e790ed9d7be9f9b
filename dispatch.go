package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-dispatch/adapters/asynqueue"
	"github.com/goliatone/go-dispatch/adapters/gocommand"
	"github.com/goliatone/go-dispatch/adapters/gojob"
	"github.com/goliatone/go-dispatch/adapters/gologger"
	"github.com/goliatone/go-dispatch/consumer"
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/executor"
	"github.com/goliatone/go-dispatch/httpapi"
	"github.com/goliatone/go-dispatch/inbound"
	"github.com/goliatone/go-dispatch/manifest"
	"github.com/goliatone/go-dispatch/queue"
	"github.com/goliatone/go-dispatch/ratelimit"
	"github.com/goliatone/go-dispatch/replay"
	"github.com/goliatone/go-dispatch/scheduler"
	memstore "github.com/goliatone/go-dispatch/store/memory"
	jobqueue "github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type Config = core.Config

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type Option func(*options)

type options struct {
	store          core.Store
	enqueuer       core.Enqueuer
	dequeuer       core.Dequeuer
	jobEnqueuer    jobqueue.Enqueuer
	jobDequeuer    jobqueue.Dequeuer
	registry       *executor.Registry
	executor       core.Executor
	resolver       manifest.Resolver
	counters       ratelimit.CounterStore
	hooks          *ExtensionHooks
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	httpDoer       executor.HTTPDoer
}

// WithStore replaces the in-memory store, typically with sqlstore.
func WithStore(store core.Store) Option {
	return func(o *options) { o.store = store }
}

// WithQueue overrides the configured queue backend. dequeuer may be nil for
// push-based backends that call Consumer.Handle themselves.
func WithQueue(enqueuer core.Enqueuer, dequeuer core.Dequeuer) Option {
	return func(o *options) {
		o.enqueuer = enqueuer
		o.dequeuer = dequeuer
	}
}

// WithGoJobQueue supplies the go-job queue used by the "gojob" backend.
func WithGoJobQueue(enqueuer jobqueue.Enqueuer, dequeuer jobqueue.Dequeuer) Option {
	return func(o *options) {
		o.jobEnqueuer = enqueuer
		o.jobDequeuer = dequeuer
	}
}

func WithRegistry(registry *executor.Registry) Option {
	return func(o *options) { o.registry = registry }
}

func WithExecutor(exec core.Executor) Option {
	return func(o *options) { o.executor = exec }
}

func WithResolver(resolver manifest.Resolver) Option {
	return func(o *options) { o.resolver = resolver }
}

func WithCounterStore(store ratelimit.CounterStore) Option {
	return func(o *options) { o.counters = store }
}

func WithExtensionHooks(hooks *ExtensionHooks) Option {
	return func(o *options) { o.hooks = hooks }
}

func WithLogger(logger core.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *options) { o.loggerProvider = provider }
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *options) { o.metrics = metrics }
}

func WithHTTPDoer(doer executor.HTTPDoer) Option {
	return func(o *options) { o.httpDoer = doer }
}

// Platform is one wired dispatch process.
type Platform struct {
	Config     core.Config
	Logging    gologger.Logging
	Store      core.Store
	Queue      core.Enqueuer
	Dequeuer   core.Dequeuer
	Policy     queue.RetryPolicy
	Registry   *executor.Registry
	Local      *executor.Local
	Executor   core.Executor
	Resolver   manifest.Resolver
	Gateway    *inbound.Gateway
	Consumer   *consumer.Consumer
	Scheduler  *scheduler.Scheduler
	Replay     *replay.Controller
	Facade     *Facade
	WorkerHook worker.Hook

	metrics     core.MetricsRecorder
	asynqServer *asynqueue.Server

	mu      sync.Mutex
	runner  *scheduler.Runner
	cancel  context.CancelFunc
	workers sync.WaitGroup
	started bool
}

func New(cfg core.Config, opts ...Option) (*Platform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	p := &Platform{
		Config:  cfg,
		Logging: gologger.Resolve(cfg.ServiceName, o.loggerProvider, o.logger),
		Policy:  retryPolicy(cfg.Queue),
		metrics: o.metrics,
	}

	p.Store = o.store
	if p.Store == nil {
		p.Store = memstore.New()
	}
	p.Registry = o.registry
	if p.Registry == nil {
		p.Registry = executor.NewDefaultRegistry()
	}
	if err := o.hooks.ApplyHandlerPacks(p.Registry); err != nil {
		return nil, err
	}

	p.Resolver = o.resolver
	if p.Resolver == nil {
		resolver, err := defaultResolver()
		if err != nil {
			return nil, err
		}
		p.Resolver = resolver
	}

	p.Local = executor.NewLocal(p.Registry, p.Resolver, cfg)
	p.Executor = o.executor
	if p.Executor == nil {
		if strings.EqualFold(cfg.Executor.Mode, core.ExecutorModeHTTP) {
			p.Executor = executor.NewHTTPClient(cfg.Executor, o.httpDoer)
		} else {
			p.Executor = p.Local
		}
	}

	p.Consumer = consumer.New(p.Store, p.Executor, p.observer("consumer"))
	if err := p.wireQueue(o); err != nil {
		return nil, err
	}

	counters := o.counters
	if counters == nil {
		if addr := strings.TrimSpace(cfg.RateLimit.RedisAddr); addr != "" {
			counters = ratelimit.NewRedisCounterStore(ratelimit.NewRedisClient(addr))
		} else {
			counters = ratelimit.NewMemoryCounterStore()
		}
	}
	limiter := ratelimit.NewLimiter(counters, cfg.RateLimit)

	p.Gateway = inbound.NewGateway(cfg, p.Resolver, limiter, p.Store, p.Queue, p.Executor, p.observer("ingress"))
	p.Scheduler = scheduler.New(cfg, p.Resolver, p.Store, p.Queue, p.observer("scheduler"))
	p.Replay = replay.NewController(cfg, p.Resolver, p.Store, p.Queue, p.observer("replay"))
	if p.Executor == core.Executor(p.Local) {
		p.Replay.Handlers = p.Registry
	}
	p.WorkerHook = gojob.NewWorkerHookAdapter(p.observer("worker"))

	facade, err := NewFacade(p.Replay, p.Scheduler, p.Store)
	if err != nil {
		return nil, err
	}
	p.Facade = facade
	return p, nil
}

func (p *Platform) wireQueue(o *options) error {
	if o.enqueuer != nil {
		p.Queue = o.enqueuer
		p.Dequeuer = o.dequeuer
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(p.Config.Queue.Backend)) {
	case "", core.QueueBackendMemory:
		memory := queue.NewMemory(p.Policy)
		p.Queue, p.Dequeuer = memory, memory
	case core.QueueBackendAsynq:
		p.Queue = asynqueue.NewEnqueuer(asynqueue.NewClient(p.Config.Queue), asynqueue.Options{
			Queue:       asynqueue.DefaultQueue,
			MaxAttempts: p.Policy.MaxAttempts,
			Timeout:     p.Config.Executor.Timeout(),
		})
		p.asynqServer = asynqueue.NewServer(p.Config.Queue, p.Consumer, p.Policy, p.observer("asynq"))
	case core.QueueBackendGoJob:
		if o.jobEnqueuer == nil || o.jobDequeuer == nil {
			return fmt.Errorf("dispatch: gojob backend requires WithGoJobQueue")
		}
		p.Queue = gojob.NewEnqueuerAdapter(o.jobEnqueuer)
		p.Dequeuer = gojob.NewDequeuerAdapter(o.jobDequeuer, p.Policy)
	default:
		return fmt.Errorf("dispatch: unsupported queue backend %q", p.Config.Queue.Backend)
	}
	return nil
}

// Handler is the HTTP surface for this platform.
func (p *Platform) Handler() http.Handler {
	return p.HandlerFor(p.Facade.Operations())
}

// HandlerFor serves the operator routes through ops, e.g.
// gocommand.Dispatched() once a Bus has registered the facade.
func (p *Platform) HandlerFor(ops gocommand.Operations) http.Handler {
	var metrics http.Handler
	if exporter, ok := p.metrics.(interface{ Handler() http.Handler }); ok {
		metrics = exporter.Handler()
	}
	return httpapi.NewRouter(httpapi.Deps{
		ServiceName:       p.Config.ServiceName,
		Gateway:           p.Gateway,
		Retry:             ops.Retry,
		Replay:            ops.Replay,
		GetRun:            ops.GetRun,
		DeadLetters:       ops.ListDeadLetters,
		Lineage:           ops.ListLineage,
		Executor:          p.Local,
		ExecutorToken:     p.Config.Executor.Token,
		Metrics:           metrics,
		Observer:          p.observer("http"),
		TrustProxyHeaders: p.Config.HTTP.TrustProxyHeaders,
	})
}

// Start launches queue workers and the cron runner. It returns once they are
// running; Stop shuts them down.
func (p *Platform) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("dispatch: platform already started")
	}

	resolved, err := p.Resolver.Resolve(ctx, p.Config)
	if err != nil {
		return err
	}
	runner, err := scheduler.NewRunner(p.Scheduler, resolved)
	if err != nil {
		return err
	}

	if p.asynqServer != nil {
		if err := p.asynqServer.Start(); err != nil {
			return err
		}
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if p.Dequeuer != nil {
		p.workers.Add(1)
		go func() {
			defer p.workers.Done()
			if err := p.Consumer.Run(workerCtx, p.Dequeuer, p.Config.Queue.Concurrency); err != nil {
				p.Consumer.Observer.Error(workerCtx, "dispatch: consumer stopped", map[string]any{"error": err.Error()})
			}
		}()
	}
	runner.Start()

	p.runner = runner
	p.cancel = cancel
	p.started = true
	p.Logging.Logger.Info("dispatch platform started",
		"queue_backend", p.Config.Queue.Backend,
		"executor_mode", p.Config.Executor.Mode,
		"cron_specs", len(runner.Specs()),
	)
	return nil
}

func (p *Platform) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.started = false

	var stopErr error
	if p.runner != nil {
		stopErr = p.runner.Stop(ctx)
	}
	if p.asynqServer != nil {
		p.asynqServer.Shutdown()
	}
	if p.cancel != nil {
		p.cancel()
	}
	if closer, ok := p.Dequeuer.(interface{ Close() }); ok {
		closer.Close()
	}

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if stopErr == nil {
			stopErr = ctx.Err()
		}
	}
	return stopErr
}

func (p *Platform) observer(component string) core.Observer {
	return p.Logging.Observer(component, p.metrics)
}

func retryPolicy(cfg core.QueueConfig) queue.RetryPolicy {
	policy := queue.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	return policy
}

func defaultResolver() (manifest.Resolver, error) {
	config := repositorycache.DefaultConfig()
	config.TTL = 30 * time.Second
	cacheService, err := repositorycache.NewCacheService(config)
	if err != nil {
		return nil, err
	}
	return manifest.NewCachedResolver(manifest.DefaultResolver, cacheService)
}
