package orb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/interceptors"
	"github.com/glimte/mmate-orb/internal/reliability"
	"github.com/glimte/mmate-orb/serialization"
)

// Transport delivers a request to the endpoint of its profile. It returns nil
// for one-way requests and a *contracts.SystemException when the request could
// not be delivered.
type Transport interface {
	Send(ctx context.Context, req *Request) (*contracts.ReplyMessage, error)
}

// ORB is an object runtime: it owns the interception pipeline, the object
// adapters of this process and the client invocation path.
type ORB struct {
	id        string
	host      string
	port      int
	handler   *interceptors.Handler
	codec     serialization.Codec
	transport Transport
	loopback  *Loopback
	policy    reliability.RetryPolicy
	breakers  *reliability.Breakers
	timeout   time.Duration
	tracing   *interceptors.TracingInterceptor
	logger    *slog.Logger

	requestIDs atomic.Uint32
	managerIDs atomic.Int32
	closed     atomic.Bool

	mu       sync.RWMutex
	adapters map[string]*ObjectAdapter
	managers []*AdapterManager
}

type options struct {
	id           string
	host         string
	port         int
	arguments    []string
	logger       *slog.Logger
	codecs       serialization.CodecFactory
	initializers []interceptors.Initializer
	transport    Transport
	policy       reliability.RetryPolicy
	breakers     *reliability.Breakers
	timeout      time.Duration
	tracing      *interceptors.TracingInterceptor
	loopback     *Loopback
}

// Option configures an ORB
type Option func(*options)

// WithID sets the ORB id
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithEndpoint sets the host and port written into created references
func WithEndpoint(host string, port int) Option {
	return func(o *options) {
		o.host = host
		o.port = port
	}
}

// WithArguments sets the arguments handed to initializers
func WithArguments(args []string) Option {
	return func(o *options) {
		o.arguments = args
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCodecFactory sets the codec factory
func WithCodecFactory(factory serialization.CodecFactory) Option {
	return func(o *options) {
		o.codecs = factory
	}
}

// WithInitializers adds interceptor initializers
func WithInitializers(initializers ...interceptors.Initializer) Option {
	return func(o *options) {
		o.initializers = append(o.initializers, initializers...)
	}
}

// WithInterceptors registers interceptors on the client and the server side
func WithInterceptors(list ...interceptors.ClientAndServer) Option {
	return WithInitializers(interceptors.BothSides(list...))
}

// WithTracing registers a tracing interceptor. Servants see the server span in
// their context.
func WithTracing(provider trace.TracerProvider, propagator propagation.TextMapPropagator) Option {
	return func(o *options) {
		o.tracing = interceptors.NewTracingInterceptor(provider, propagator)
	}
}

// WithTransport sets the client transport. Without one the ORB sends through a
// private loopback network it listens on.
func WithTransport(transport Transport) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// WithLoopback makes the ORB listen on a shared loopback network. It is also
// the client transport unless WithTransport is given.
func WithLoopback(l *Loopback) Option {
	return func(o *options) {
		o.loopback = l
	}
}

// WithRetryPolicy sets the budget for re-sent requests
func WithRetryPolicy(policy reliability.RetryPolicy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithBreakers enables per-endpoint circuit breakers
func WithBreakers(breakers *reliability.Breakers) Option {
	return func(o *options) {
		o.breakers = breakers
	}
}

// WithDefaultTimeout bounds invocations that carry no RoundtripTimeoutPolicy
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// New creates an ORB and runs the interceptor bootstrap
func New(opts ...Option) (*ORB, error) {
	o := &options{
		id:     "orb-" + uuid.NewString(),
		host:   "localhost",
		logger: slog.Default(),
		policy: reliability.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(o)
	}

	initializers := append([]interceptors.Initializer{policyInitializer{}}, o.initializers...)
	if o.tracing != nil {
		initializers = append(initializers, o.tracing)
	}

	handler := interceptors.Bootstrap(
		interceptors.WithLogger(o.logger),
		interceptors.WithORBID(o.id),
		interceptors.WithArguments(o.arguments),
		interceptors.WithCodecFactory(o.codecs),
		interceptors.WithInitializers(initializers...),
	)

	codec, err := handler.CodecFactory().CreateCodec(serialization.DefaultEncoding)
	if err != nil {
		handler.Destroy()
		return nil, fmt.Errorf("creating codec: %w", err)
	}

	orb := &ORB{
		id:        o.id,
		host:      o.host,
		port:      o.port,
		handler:   handler,
		codec:     codec,
		transport: o.transport,
		policy:    o.policy,
		breakers:  o.breakers,
		timeout:   o.timeout,
		tracing:   o.tracing,
		logger:    o.logger,
		adapters:  make(map[string]*ObjectAdapter),
	}

	orb.loopback = o.loopback
	if orb.transport == nil && orb.loopback == nil {
		orb.loopback = NewLoopback()
	}
	if orb.loopback != nil {
		orb.loopback.Listen(orb)
		if orb.transport == nil {
			orb.transport = orb.loopback
		}
	}

	orb.logger.Info("orb started", "orbId", orb.id, "address", orb.Address())
	return orb, nil
}

// ID returns the ORB id
func (o *ORB) ID() string {
	return o.id
}

// Address returns the host:port written into created references
func (o *ORB) Address() string {
	return (&contracts.Profile{Host: o.host, Port: o.port}).Address()
}

// Handler returns the interception pipeline
func (o *ORB) Handler() *interceptors.Handler {
	return o.handler
}

// Codec returns the codec used for request bodies and results
func (o *ORB) Codec() serialization.Codec {
	return o.codec
}

// CreatePolicy creates a policy through the registered factories
func (o *ORB) CreatePolicy(policyType contracts.PolicyType, value any) (contracts.Policy, error) {
	return o.handler.CreatePolicy(policyType, value)
}

// Shutdown deactivates every adapter manager, destroys the adapters and the
// interceptors and closes the transport when it is an io.Closer. Later
// invocations fail.
func (o *ORB) Shutdown(ctx context.Context) error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}

	o.mu.RLock()
	managers := append([]*AdapterManager(nil), o.managers...)
	adapters := make([]*ObjectAdapter, 0, len(o.adapters))
	for _, a := range o.adapters {
		adapters = append(adapters, a)
	}
	o.mu.RUnlock()

	for _, m := range managers {
		if err := m.Deactivate(ctx); err != nil {
			o.logger.Debug("adapter manager already inactive", "managerId", m.ID(), "error", err)
		}
	}
	for _, a := range adapters {
		a.Destroy(ctx)
	}

	if o.loopback != nil {
		o.loopback.Unlisten(o)
	}
	o.handler.Destroy()

	if closer, ok := o.transport.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("closing transport: %w", err)
		}
	}

	o.logger.Info("orb shut down", "orbId", o.id)
	return nil
}

func (o *ORB) nextRequestID() uint32 {
	return o.requestIDs.Add(1)
}
