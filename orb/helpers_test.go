package orb

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/interceptors"
	"github.com/glimte/mmate-orb/internal/reliability"
	"github.com/stretchr/testify/require"
)

const echoID = "IDL:test/Echo:1.0"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestORB creates an ORB that re-sends immediately, at most three times
func newTestORB(t *testing.T, opts ...Option) *ORB {
	t.Helper()
	defaults := []Option{
		WithLogger(discardLogger()),
		WithRetryPolicy(reliability.NewFixedDelay(0, 3)),
	}
	o, err := New(append(defaults, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	return o
}

func activeAdapter(t *testing.T, o *ORB, name string) *ObjectAdapter {
	t.Helper()
	ctx := context.Background()
	adapter, err := o.CreateAdapter(ctx, name, nil)
	require.NoError(t, err)
	require.NoError(t, adapter.Manager().Activate(ctx))
	return adapter
}

func echoServant(o *ORB, prefix string) *Skeleton {
	s := o.NewSkeleton(echoID)
	HandleFunc(s, "echo", func(_ context.Context, in string) (string, error) {
		return prefix + in, nil
	})
	return s
}

func activateEcho(t *testing.T, o *ORB, prefix string) *contracts.IOR {
	t.Helper()
	ref, err := activeAdapter(t, o, "echo").Activate(echoServant(o, prefix))
	require.NoError(t, err)
	return ref
}

// pointLog collects interception point names across both sides
type pointLog struct {
	mu     sync.Mutex
	points []string
}

func (l *pointLog) add(point string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.points = append(l.points, point)
}

func (l *pointLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.points...)
}

// clientRecorder logs every client point and delegates to the optional funcs
func clientRecorder(log *pointLog, funcs interceptors.ClientInterceptorFuncs) *interceptors.ClientInterceptorFuncs {
	wrap := func(point string, fn func(context.Context, interceptors.ClientRequestInfo) error) func(context.Context, interceptors.ClientRequestInfo) error {
		return func(ctx context.Context, info interceptors.ClientRequestInfo) error {
			log.add(point)
			if fn != nil {
				return fn(ctx, info)
			}
			return nil
		}
	}
	return &interceptors.ClientInterceptorFuncs{
		InterceptorName:    "client-recorder",
		OnSendRequest:      wrap("send_request", funcs.OnSendRequest),
		OnReceiveReply:     wrap("receive_reply", funcs.OnReceiveReply),
		OnReceiveException: wrap("receive_exception", funcs.OnReceiveException),
		OnReceiveOther:     wrap("receive_other", funcs.OnReceiveOther),
	}
}

// serverRecorder logs every server point and delegates to the optional funcs
func serverRecorder(log *pointLog, funcs interceptors.ServerInterceptorFuncs) *interceptors.ServerInterceptorFuncs {
	wrap := func(point string, fn func(context.Context, interceptors.ServerRequestInfo) error) func(context.Context, interceptors.ServerRequestInfo) error {
		return func(ctx context.Context, info interceptors.ServerRequestInfo) error {
			log.add(point)
			if fn != nil {
				return fn(ctx, info)
			}
			return nil
		}
	}
	return &interceptors.ServerInterceptorFuncs{
		InterceptorName:                 "server-recorder",
		OnReceiveRequestServiceContexts: wrap("receive_request_service_contexts", funcs.OnReceiveRequestServiceContexts),
		OnReceiveRequest:                wrap("receive_request", funcs.OnReceiveRequest),
		OnSendReply:                     wrap("send_reply", funcs.OnSendReply),
		OnSendException:                 wrap("send_exception", funcs.OnSendException),
		OnSendOther:                     wrap("send_other", funcs.OnSendOther),
	}
}

// withRecorders registers the given client and server interceptors
func withRecorders(client interceptors.ClientRequestInterceptor, server interceptors.ServerRequestInterceptor) Option {
	return WithInitializers(interceptors.PostInitFunc(func(info *interceptors.InitInfo) error {
		if client != nil {
			if err := info.AddClientRequestInterceptor(client); err != nil {
				return err
			}
		}
		if server != nil {
			return info.AddServerRequestInterceptor(server)
		}
		return nil
	}))
}

// adapterObserver records adapter notifications
type adapterObserver struct {
	mu            sync.Mutex
	managerStates []contracts.AdapterState
	adapterStates []contracts.AdapterState
}

func (o *adapterObserver) Name() string { return "observer" }

func (o *adapterObserver) EstablishComponents(context.Context, interceptors.IORInfo) error {
	return nil
}

func (o *adapterObserver) ComponentsEstablished(context.Context, interceptors.IORInfo) error {
	return nil
}

func (o *adapterObserver) AdapterManagerStateChanged(_ context.Context, _ int, state contracts.AdapterState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.managerStates = append(o.managerStates, state)
	return nil
}

func (o *adapterObserver) AdapterStateChanged(_ context.Context, _ []contracts.ObjectAdapter, state contracts.AdapterState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adapterStates = append(o.adapterStates, state)
	return nil
}

func (o *adapterObserver) snapshot() ([]contracts.AdapterState, []contracts.AdapterState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]contracts.AdapterState(nil), o.managerStates...), append([]contracts.AdapterState(nil), o.adapterStates...)
}
