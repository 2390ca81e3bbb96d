package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	mmateorb "github.com/glimte/mmate-orb"
	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/health"
	"github.com/glimte/mmate-orb/interceptors"
	"github.com/glimte/mmate-orb/internal/config"
	"github.com/glimte/mmate-orb/internal/logging"
	"github.com/glimte/mmate-orb/internal/rabbitmq"
	"github.com/glimte/mmate-orb/internal/reliability"
	"github.com/glimte/mmate-orb/monitor"
	"github.com/glimte/mmate-orb/orb"
	rabbitmqTransport "github.com/glimte/mmate-orb/transports/rabbitmq"
)

const (
	echoTypeID  = "IDL:mmate/Echo:1.0"
	echoAdapter = "echo"

	maxQueueDepth = 10000
	maxGoroutines = 1000
)

var echoObjectID = []byte("echo")

// runtime is one configured ORB plus the process services around it
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	orb      *orb.ORB
	client   *mmateorb.Client
	tracer   *sdktrace.TracerProvider
	registry *prometheus.Registry
	breakers *reliability.Breakers
	health   *health.Registry
	http     *http.Server
	stats    *monitor.SimpleMetricsCollector
}

func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rt := &runtime{
		cfg: cfg,
		logger: logging.New(logging.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			ORBID:  cfg.ORB.ID,
		}),
		registry: prometheus.NewRegistry(),
		health:   health.NewRegistry(5 * time.Second),
		stats:    monitor.NewSimpleMetricsCollector(),
	}
	slog.SetDefault(rt.logger)

	opts, err := rt.orbOptions()
	if err != nil {
		return nil, err
	}

	if cfg.AMQP.Enabled {
		rt.client, err = mmateorb.NewClientContext(ctx, cfg.AMQP.URL,
			mmateorb.WithID(cfg.ORB.ID),
			mmateorb.WithEndpoint(cfg.ORB.Host, cfg.ORB.Port),
			mmateorb.WithLogger(rt.logger),
			mmateorb.WithExchange(cfg.AMQP.Exchange),
			mmateorb.WithRequestPrefix(cfg.AMQP.RequestQueue),
			mmateorb.WithReplyTimeout(cfg.AMQP.ReplyTimeout),
			mmateorb.WithORBOptions(opts...),
			mmateorb.WithBrokerOptions(rabbitmqTransport.WithConsumerOptions(
				rabbitmq.WithPrefetchCount(cfg.AMQP.Prefetch),
			)),
		)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.orb = rt.client.ORB()
		_ = rt.health.Register(health.NewBrokerChecker(rt.client.Broker(), maxQueueDepth, rt.client.Queues()...))
		rt.start()
		return rt, nil
	}

	rt.orb, err = orb.New(append([]orb.Option{
		orb.WithID(cfg.ORB.ID),
		orb.WithEndpoint(cfg.ORB.Host, cfg.ORB.Port),
		orb.WithLogger(rt.logger),
	}, opts...)...)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("creating ORB: %w", err)
	}
	rt.start()
	return rt, nil
}

// start registers the ORB health checks and serves /metrics and /healthz
func (rt *runtime) start() {
	_ = rt.health.Register(health.NewAdapterChecker(rt.orb))
	_ = rt.health.Register(health.NewRuntimeChecker(maxGoroutines))
	if rt.breakers != nil {
		_ = rt.health.Register(health.NewBreakerChecker(rt.breakers))
	}

	if rt.cfg.Metrics.Address == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health.Handler(rt.health))
	rt.http = &http.Server{Addr: rt.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := rt.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics endpoint stopped", "error", err)
		}
	}()
}

// orbOptions turns the client and interceptor sections into ORB options
func (rt *runtime) orbOptions() ([]orb.Option, error) {
	cfg := rt.cfg
	retry := cfg.Client.Retry
	opts := []orb.Option{
		orb.WithArguments(cfg.ORB.Arguments),
		orb.WithDefaultTimeout(cfg.Client.Timeout),
		orb.WithRetryPolicy(reliability.NewExponentialBackoff(retry.InitialInterval, retry.MaxInterval, retry.Multiplier, retry.MaxAttempts)),
	}

	collector, err := monitor.NewPrometheusCollector(rt.registry)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	if cb := cfg.Client.CircuitBreaker; cb.Enabled {
		rt.breakers = reliability.NewBreakers(
			reliability.WithFailureThreshold(cb.MaxFailures),
			reliability.WithTimeout(cb.Timeout),
			reliability.WithHalfOpenRequests(cb.HalfOpenLimit),
			reliability.WithStateChange(collector.ObserveBreakerState),
		)
		opts = append(opts, orb.WithBreakers(rt.breakers))
	}

	var list []interceptors.ClientAndServer
	if cfg.Interceptors.Logging {
		list = append(list, interceptors.NewLoggingInterceptor(rt.logger))
	}
	if cfg.Interceptors.Metrics {
		list = append(list, interceptors.NewMetricsInterceptor(monitor.Collectors{collector, rt.stats}))
	}
	if len(list) > 0 {
		opts = append(opts, orb.WithInterceptors(list...))
	}

	if cfg.Interceptors.Tracing {
		rt.tracer = sdktrace.NewTracerProvider()
		opts = append(opts, orb.WithTracing(rt.tracer, propagation.TraceContext{}))
	}
	return opts, nil
}

// activate hosts the echo servant under a fixed object key
func (rt *runtime) activate(ctx context.Context) (*contracts.IOR, error) {
	adapter, err := rt.orb.CreateAdapter(ctx, echoAdapter, nil)
	if err != nil {
		return nil, err
	}
	if err := adapter.Manager().Activate(ctx); err != nil {
		return nil, err
	}

	skeleton := rt.orb.NewSkeleton(echoTypeID)
	orb.HandleFunc(skeleton, "echo", func(_ context.Context, in string) (string, error) {
		return in, nil
	})
	return adapter.ActivateWithID(echoObjectID, skeleton)
}

func (rt *runtime) serve(ctx context.Context) error {
	if rt.client == nil {
		return errors.New("serve needs amqp.enabled")
	}
	ref, err := rt.activate(ctx)
	if err != nil {
		return fmt.Errorf("activating echo: %w", err)
	}
	rt.logger.Info("serving echo", "address", rt.orb.Address(), "typeId", ref.TypeID)
	<-ctx.Done()
	return nil
}

// call invokes the echo object: the local one without a broker, the one at
// the configured endpoint with one
func (rt *runtime) call(ctx context.Context, message string) (string, error) {
	target := contracts.NewIOR(echoTypeID, rt.cfg.ORB.Host, rt.cfg.ORB.Port, orb.ObjectKey(echoAdapter, echoObjectID))
	if rt.client == nil {
		if _, ok := rt.orb.Adapter(echoAdapter); !ok {
			ref, err := rt.activate(ctx)
			if err != nil {
				return "", fmt.Errorf("activating echo: %w", err)
			}
			target = ref
		}
	}
	return orb.Call[string](ctx, rt.orb, target, "echo", message)
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if rt.client != nil {
		if err := rt.client.Close(); err != nil {
			rt.logger.Warn("closing client", "error", err)
		}
	} else if rt.orb != nil {
		if err := rt.orb.Shutdown(ctx); err != nil {
			rt.logger.Warn("shutting down ORB", "error", err)
		}
	}
	if rt.tracer != nil {
		_ = rt.tracer.Shutdown(ctx)
	}
	if rt.http != nil {
		_ = rt.http.Shutdown(ctx)
	}
}

func printSummary(w io.Writer, summary monitor.MetricsSummary) {
	keys := make([]monitor.OperationKey, 0, len(summary.RequestCounts))
	for key := range summary.RequestCounts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, key := range keys {
		stats := summary.ProcessingStats[key]
		fmt.Fprintf(w, "%-20s requests=%d avg=%dms p95=%dms\n", key, summary.RequestCounts[key], stats.AvgMs, stats.P95Ms)
	}
}
