package orb

import (
	"context"
	"testing"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/interceptors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func noPermission() *contracts.SystemException {
	return contracts.NewSystemException(contracts.NoPermission, 0, contracts.CompletedNo)
}

func TestServerInterceptorFailures(t *testing.T) {
	t.Run("rejecting service contexts skips the servant", func(t *testing.T) {
		log := &pointLog{}
		server := serverRecorder(log, interceptors.ServerInterceptorFuncs{
			OnReceiveRequestServiceContexts: func(context.Context, interceptors.ServerRequestInfo) error {
				return noPermission()
			},
		})
		o := newTestORB(t, withRecorders(nil, server))
		called := false
		s := o.NewSkeleton(echoID).Handle("echo", func(context.Context, []byte) ([]byte, error) {
			called = true
			return nil, nil
		})
		ref, err := activeAdapter(t, o, "echo").Activate(s)
		require.NoError(t, err)

		_, err = Call[string](context.Background(), o, ref, "echo", "hello")

		var sysErr *contracts.SystemException
		require.ErrorAs(t, err, &sysErr)
		assert.Equal(t, contracts.NoPermission, sysErr.Name)
		assert.False(t, called)
		assert.Equal(t, []string{"receive_request_service_contexts"}, log.all())
	})

	t.Run("exception raised on send_reply replaces the reply", func(t *testing.T) {
		const replyID contracts.ServiceContextID = 102

		var seen []byte
		log := &pointLog{}
		client := clientRecorder(log, interceptors.ClientInterceptorFuncs{
			OnReceiveException: func(_ context.Context, info interceptors.ClientRequestInfo) error {
				sc, err := info.GetReplyServiceContext(replyID)
				if err == nil {
					seen = sc.Data
				}
				return nil
			},
		})
		server := serverRecorder(log, interceptors.ServerInterceptorFuncs{
			OnReceiveRequestServiceContexts: func(_ context.Context, info interceptors.ServerRequestInfo) error {
				return info.AddReplyServiceContext(contracts.ServiceContext{ID: replyID, Data: []byte("kept")}, false)
			},
			OnSendReply: func(context.Context, interceptors.ServerRequestInfo) error {
				return noPermission()
			},
		})
		o := newTestORB(t, withRecorders(client, server))
		ref := activateEcho(t, o, "")

		_, err := Call[string](context.Background(), o, ref, "echo", "hello")

		var sysErr *contracts.SystemException
		require.ErrorAs(t, err, &sysErr)
		assert.Equal(t, contracts.NoPermission, sysErr.Name)
		assert.Equal(t, []byte("kept"), seen)
		assert.Equal(t, []string{
			"send_request",
			"receive_request_service_contexts",
			"receive_request",
			"send_reply",
			"receive_exception",
		}, log.all())
	})

	t.Run("servant exception reaches send_exception", func(t *testing.T) {
		var sending error
		log := &pointLog{}
		server := serverRecorder(log, interceptors.ServerInterceptorFuncs{
			OnSendException: func(_ context.Context, info interceptors.ServerRequestInfo) error {
				sending, _ = info.SendingException()
				return nil
			},
		})
		o := newTestORB(t, withRecorders(nil, server))
		s := o.NewSkeleton(echoID).Handle("echo", func(context.Context, []byte) ([]byte, error) {
			return nil, contracts.NewSystemException(contracts.BadParam, 7, contracts.CompletedNo)
		})
		ref, err := activeAdapter(t, o, "echo").Activate(s)
		require.NoError(t, err)

		_, err = Call[string](context.Background(), o, ref, "echo", "hello")
		require.Error(t, err)

		sysErr := contracts.AsSystemException(sending)
		require.NotNil(t, sysErr)
		assert.Equal(t, contracts.BadParam, sysErr.Name)
		assert.Equal(t, uint32(7), sysErr.Minor)
		assert.Equal(t, []string{"receive_request_service_contexts", "receive_request", "send_exception"}, log.all())
	})
}

func TestServantFailures(t *testing.T) {
	t.Run("panic becomes UNKNOWN", func(t *testing.T) {
		o := newTestORB(t)
		s := o.NewSkeleton(echoID).Handle("echo", func(context.Context, []byte) ([]byte, error) {
			panic("boom")
		})
		ref, err := activeAdapter(t, o, "echo").Activate(s)
		require.NoError(t, err)

		_, err = Call[string](context.Background(), o, ref, "echo", "hello")

		var sysErr *contracts.SystemException
		require.ErrorAs(t, err, &sysErr)
		assert.Equal(t, contracts.Unknown, sysErr.Name)
		assert.Equal(t, contracts.CompletedMaybe, sysErr.Completed)
	})

	t.Run("plain error becomes UNKNOWN", func(t *testing.T) {
		o := newTestORB(t)
		s := o.NewSkeleton(echoID)
		HandleFunc(s, "echo", func(context.Context, string) (string, error) {
			return "", assert.AnError
		})
		ref, err := activeAdapter(t, o, "echo").Activate(s)
		require.NoError(t, err)

		_, err = Call[string](context.Background(), o, ref, "echo", "hello")

		var sysErr *contracts.SystemException
		require.ErrorAs(t, err, &sysErr)
		assert.Equal(t, contracts.Unknown, sysErr.Name)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("unknown object is OBJECT_NOT_EXIST", func(t *testing.T) {
		o := newTestORB(t)
		ref := activateEcho(t, o, "")
		missing := contracts.NewIOR(echoID, ref.Profiles[0].Host, ref.Profiles[0].Port, []byte("echo\x00missing"))

		_, err := Call[string](context.Background(), o, missing, "echo", "hello")

		var sysErr *contracts.SystemException
		require.ErrorAs(t, err, &sysErr)
		assert.Equal(t, contracts.ObjectNotExist, sysErr.Name)
		assert.ErrorIs(t, err, ErrObjectNotActive)
	})

	t.Run("unknown adapter is OBJECT_NOT_EXIST without interception", func(t *testing.T) {
		log := &pointLog{}
		o := newTestORB(t, withRecorders(nil, serverRecorder(log, interceptors.ServerInterceptorFuncs{})))
		ref := activateEcho(t, o, "")
		missing := contracts.NewIOR(echoID, ref.Profiles[0].Host, ref.Profiles[0].Port, []byte("gone\x00x"))

		_, err := Call[string](context.Background(), o, missing, "echo", "hello")

		var sysErr *contracts.SystemException
		require.ErrorAs(t, err, &sysErr)
		assert.Equal(t, contracts.ObjectNotExist, sysErr.Name)
		assert.Empty(t, log.all())
	})
}

func TestDispatch(t *testing.T) {
	t.Run("malformed key", func(t *testing.T) {
		o := newTestORB(t)

		reply := o.Dispatch(context.Background(), Incoming{RequestID: 9, Operation: "echo", ObjectKey: []byte("nokey")})

		require.NotNil(t, reply)
		assert.Equal(t, uint32(9), reply.RequestID)
		assert.Equal(t, contracts.SystemExceptionReply, reply.Status)
		assert.ErrorIs(t, reply.Exception, ErrMalformedKey)
	})

	t.Run("one-way returns no reply", func(t *testing.T) {
		o := newTestORB(t)
		ref := activateEcho(t, o, "")

		reply := o.Dispatch(context.Background(), Incoming{
			RequestID: 1,
			Operation: "echo",
			ObjectKey: ref.ObjectKey(),
			OneWay:    true,
		})
		assert.Nil(t, reply)
	})

	t.Run("shut down ORB rejects as TRANSIENT", func(t *testing.T) {
		o := newTestORB(t)
		ref := activateEcho(t, o, "")
		require.NoError(t, o.Shutdown(context.Background()))

		reply := o.Dispatch(context.Background(), Incoming{RequestID: 1, Operation: "echo", ObjectKey: ref.ObjectKey()})

		require.NotNil(t, reply)
		sysErr := contracts.AsSystemException(reply.Exception)
		require.NotNil(t, sysErr)
		assert.Equal(t, contracts.Transient, sysErr.Name)
	})
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	o := newTestORB(t, WithTracing(provider, nil))

	var servantSpan trace.SpanContext
	s := o.NewSkeleton(echoID)
	HandleFunc(s, "echo", func(ctx context.Context, in string) (string, error) {
		servantSpan = trace.SpanContextFromContext(ctx)
		return in, nil
	})
	ref, err := activeAdapter(t, o, "traced").Activate(s)
	require.NoError(t, err)

	_, err = Call[string](context.Background(), o, ref, "echo", "hello")
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	server, client := spans[0], spans[1]
	assert.Equal(t, trace.SpanKindServer, server.SpanKind())
	assert.Equal(t, trace.SpanKindClient, client.SpanKind())
	assert.Equal(t, client.SpanContext().TraceID(), server.SpanContext().TraceID())
	assert.Equal(t, server.SpanContext().SpanID(), servantSpan.SpanID())
}
