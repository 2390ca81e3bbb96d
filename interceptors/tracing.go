package interceptors

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/serialization"
)

const tracerName = "github.com/glimte/mmate-orb/interceptors"

var carrierType = reflect.TypeOf(map[string]string{})

// TracingInterceptor adds distributed tracing support. The client injects the
// span context into the TraceContextServiceID service context; the server
// extracts it and keeps its span in a request slot until the reply is sent.
//
// TracingInterceptor is an Initializer: pass it to WithInitializers and it
// allocates its slot and registers itself on both sides.
type TracingInterceptor struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	codec      serialization.Codec
	slot       int

	clientSpans sync.Map
}

// NewTracingInterceptor creates a new tracing interceptor. Nil arguments use the
// global tracer provider and the W3C trace context propagator.
func NewTracingInterceptor(provider trace.TracerProvider, propagator propagation.TextMapPropagator) *TracingInterceptor {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	if propagator == nil {
		propagator = propagation.TraceContext{}
	}

	return &TracingInterceptor{
		tracer:     provider.Tracer(tracerName),
		propagator: propagator,
		slot:       -1,
	}
}

// Name implements Interceptor
func (i *TracingInterceptor) Name() string {
	return "TracingInterceptor"
}

// PreInit implements Initializer
func (i *TracingInterceptor) PreInit(info *InitInfo) error {
	factory, err := info.CodecFactory()
	if err != nil {
		return err
	}
	codec, err := factory.CreateCodec(serialization.DefaultEncoding)
	if err != nil {
		return fmt.Errorf("tracing codec: %w", err)
	}
	slot, err := info.AllocateSlotID()
	if err != nil {
		return err
	}
	i.codec = codec
	i.slot = slot

	if err := info.AddClientRequestInterceptor(i); err != nil {
		return err
	}
	return info.AddServerRequestInterceptor(i)
}

// PostInit implements Initializer
func (i *TracingInterceptor) PostInit(*InitInfo) error {
	return nil
}

// SpanSlot returns the slot holding the server span of the current request
func (i *TracingInterceptor) SpanSlot() int {
	return i.slot
}

// ContextWithServerSpan returns ctx carrying the server span of the request
// being dispatched on the thread, for use inside servants
func (i *TracingInterceptor) ContextWithServerSpan(ctx context.Context, current *Current) context.Context {
	v, err := current.GetSlot(ctx, i.slot)
	if err != nil {
		return ctx
	}
	if span, ok := v.(trace.Span); ok {
		return trace.ContextWithSpan(ctx, span)
	}
	return ctx
}

func spanAttrs(info RequestInfo) []attribute.KeyValue {
	operation, _ := info.Operation()
	requestID, _ := info.RequestID()
	return []attribute.KeyValue{
		attribute.String("rpc.system", "mmate-orb"),
		attribute.String("rpc.method", operation),
		attribute.Int64("orb.request_id", int64(requestID)),
	}
}

// SendRequest implements ClientRequestInterceptor
func (i *TracingInterceptor) SendRequest(ctx context.Context, info ClientRequestInfo) error {
	operation, _ := info.Operation()
	spanCtx, span := i.tracer.Start(ctx, "orb.client/"+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(spanAttrs(info)...),
	)
	i.clientSpans.Store(info, span)

	if i.codec == nil {
		return nil
	}

	carrier := propagation.MapCarrier{}
	i.propagator.Inject(spanCtx, carrier)
	data, err := i.codec.EncodeValue(map[string]string(carrier))
	if err != nil {
		span.RecordError(err)
		return nil
	}
	sc := contracts.ServiceContext{ID: contracts.TraceContextServiceID, Data: data}
	if err := info.AddRequestServiceContext(sc, true); err != nil {
		span.RecordError(err)
	}
	return nil
}

func (i *TracingInterceptor) endClient(info ClientRequestInfo, fn func(span trace.Span)) {
	v, ok := i.clientSpans.LoadAndDelete(info)
	if !ok {
		return
	}
	span := v.(trace.Span)
	fn(span)
	span.End()
}

// ReceiveReply implements ClientRequestInterceptor
func (i *TracingInterceptor) ReceiveReply(_ context.Context, info ClientRequestInfo) error {
	i.endClient(info, func(span trace.Span) {
		span.SetStatus(codes.Ok, "")
	})
	return nil
}

// ReceiveException implements ClientRequestInterceptor
func (i *TracingInterceptor) ReceiveException(_ context.Context, info ClientRequestInfo) error {
	i.endClient(info, func(span trace.Span) {
		exceptionID, _ := info.ReceivedExceptionID()
		if exception, err := info.ReceivedException(); err == nil {
			span.RecordError(exception)
		}
		span.SetStatus(codes.Error, exceptionID)
	})
	return nil
}

// ReceiveOther implements ClientRequestInterceptor
func (i *TracingInterceptor) ReceiveOther(_ context.Context, info ClientRequestInfo) error {
	i.endClient(info, func(span trace.Span) {
		span.SetAttributes(attribute.String("orb.reply_status", otherErrorType(info)))
	})
	return nil
}

// ReceiveRequestServiceContexts implements ServerRequestInterceptor
func (i *TracingInterceptor) ReceiveRequestServiceContexts(ctx context.Context, info ServerRequestInfo) error {
	parent := ctx
	if i.codec != nil {
		if sc, err := info.GetRequestServiceContext(contracts.TraceContextServiceID); err == nil {
			if v, err := i.codec.DecodeValue(sc.Data, carrierType); err == nil {
				parent = i.propagator.Extract(ctx, propagation.MapCarrier(v.(map[string]string)))
			}
		}
	}

	operation, _ := info.Operation()
	_, span := i.tracer.Start(parent, "orb.server/"+operation,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(spanAttrs(info)...),
	)
	if err := info.SetSlot(i.slot, span); err != nil {
		span.End()
	}
	return nil
}

// ReceiveRequest implements ServerRequestInterceptor
func (i *TracingInterceptor) ReceiveRequest(_ context.Context, info ServerRequestInfo) error {
	if span, ok := i.serverSpan(info); ok {
		if iface, err := info.TargetMostDerivedInterface(); err == nil {
			span.SetAttributes(attribute.String("orb.interface", iface))
		}
	}
	return nil
}

func (i *TracingInterceptor) serverSpan(info ServerRequestInfo) (trace.Span, bool) {
	v, err := info.GetSlot(i.slot)
	if err != nil {
		return nil, false
	}
	span, ok := v.(trace.Span)
	return span, ok
}

func (i *TracingInterceptor) endServer(info ServerRequestInfo, fn func(span trace.Span)) {
	span, ok := i.serverSpan(info)
	if !ok {
		return
	}
	fn(span)
	span.End()
	_ = info.SetSlot(i.slot, nil)
}

// SendReply implements ServerRequestInterceptor
func (i *TracingInterceptor) SendReply(_ context.Context, info ServerRequestInfo) error {
	i.endServer(info, func(span trace.Span) {
		span.SetStatus(codes.Ok, "")
	})
	return nil
}

// SendException implements ServerRequestInterceptor
func (i *TracingInterceptor) SendException(_ context.Context, info ServerRequestInfo) error {
	i.endServer(info, func(span trace.Span) {
		exception, _ := info.SendingException()
		span.RecordError(exception)
		span.SetStatus(codes.Error, contracts.RepositoryIDOf(exception))
	})
	return nil
}

// SendOther implements ServerRequestInterceptor
func (i *TracingInterceptor) SendOther(_ context.Context, info ServerRequestInfo) error {
	i.endServer(info, func(span trace.Span) {
		span.SetAttributes(attribute.String("orb.reply_status", otherErrorType(info)))
	})
	return nil
}
