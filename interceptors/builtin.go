package interceptors

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mmate-orb/contracts"
)

// Built-in interceptors

// ClientAndServer is implemented by interceptors that observe both sides
type ClientAndServer interface {
	ClientRequestInterceptor
	ServerRequestInterceptor
}

// BothSides returns an initializer that registers each interceptor as a client
// and a server interceptor
func BothSides(list ...ClientAndServer) Initializer {
	return PostInitFunc(func(info *InitInfo) error {
		for _, i := range list {
			if err := info.AddClientRequestInterceptor(i); err != nil {
				return err
			}
			if err := info.AddServerRequestInterceptor(i); err != nil {
				return err
			}
		}
		return nil
	})
}

// stopwatch times invocations between their starting and ending points, keyed
// by request context
type stopwatch struct {
	starts sync.Map
}

func (s *stopwatch) start(key any) {
	s.starts.Store(key, time.Now())
}

func (s *stopwatch) stop(key any) time.Duration {
	v, ok := s.starts.LoadAndDelete(key)
	if !ok {
		return 0
	}
	return time.Since(v.(time.Time))
}

func requestAttrs(info RequestInfo) []any {
	operation, _ := info.Operation()
	requestID, _ := info.RequestID()
	return []any{"operation", operation, "requestId", requestID}
}

// LoggingInterceptor logs request processing on both sides
type LoggingInterceptor struct {
	logger *slog.Logger
	timer  stopwatch
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// SendRequest implements ClientRequestInterceptor
func (i *LoggingInterceptor) SendRequest(ctx context.Context, info ClientRequestInfo) error {
	i.timer.start(info)
	attrs := requestAttrs(info)
	if target, err := info.EffectiveTarget(); err == nil && target != nil {
		attrs = append(attrs, "target", target.String())
	}
	i.logger.InfoContext(ctx, "sending request", attrs...)
	return nil
}

// ReceiveReply implements ClientRequestInterceptor
func (i *LoggingInterceptor) ReceiveReply(ctx context.Context, info ClientRequestInfo) error {
	i.logger.InfoContext(ctx, "reply received",
		append(requestAttrs(info), "duration", i.timer.stop(info))...,
	)
	return nil
}

// ReceiveException implements ClientRequestInterceptor
func (i *LoggingInterceptor) ReceiveException(ctx context.Context, info ClientRequestInfo) error {
	exceptionID, _ := info.ReceivedExceptionID()
	exception, _ := info.ReceivedException()
	i.logger.ErrorContext(ctx, "request failed",
		append(requestAttrs(info),
			"exceptionId", exceptionID,
			"duration", i.timer.stop(info),
			"error", exception,
		)...,
	)
	return nil
}

// ReceiveOther implements ClientRequestInterceptor
func (i *LoggingInterceptor) ReceiveOther(ctx context.Context, info ClientRequestInfo) error {
	attrs := requestAttrs(info)
	if status, err := info.ReplyStatus(); err == nil {
		attrs = append(attrs, "replyStatus", status.String())
	}
	if forward, err := info.ForwardReference(); err == nil {
		attrs = append(attrs, "forward", forward.String())
	}
	i.logger.InfoContext(ctx, "request completed without reply", append(attrs, "duration", i.timer.stop(info))...)
	return nil
}

// ReceiveRequestServiceContexts implements ServerRequestInterceptor
func (i *LoggingInterceptor) ReceiveRequestServiceContexts(ctx context.Context, info ServerRequestInfo) error {
	i.timer.start(info)
	i.logger.DebugContext(ctx, "request received", requestAttrs(info)...)
	return nil
}

// ReceiveRequest implements ServerRequestInterceptor
func (i *LoggingInterceptor) ReceiveRequest(ctx context.Context, info ServerRequestInfo) error {
	attrs := requestAttrs(info)
	if iface, err := info.TargetMostDerivedInterface(); err == nil {
		attrs = append(attrs, "interface", iface)
	}
	i.logger.InfoContext(ctx, "processing request", attrs...)
	return nil
}

// SendReply implements ServerRequestInterceptor
func (i *LoggingInterceptor) SendReply(ctx context.Context, info ServerRequestInfo) error {
	i.logger.InfoContext(ctx, "request processed successfully",
		append(requestAttrs(info), "duration", i.timer.stop(info))...,
	)
	return nil
}

// SendException implements ServerRequestInterceptor
func (i *LoggingInterceptor) SendException(ctx context.Context, info ServerRequestInfo) error {
	exception, _ := info.SendingException()
	i.logger.ErrorContext(ctx, "request processing failed",
		append(requestAttrs(info),
			"exceptionId", contracts.RepositoryIDOf(exception),
			"duration", i.timer.stop(info),
			"error", exception,
		)...,
	)
	return nil
}

// SendOther implements ServerRequestInterceptor
func (i *LoggingInterceptor) SendOther(ctx context.Context, info ServerRequestInfo) error {
	attrs := requestAttrs(info)
	if forward, err := info.ForwardReference(); err == nil {
		attrs = append(attrs, "forward", forward.String())
	}
	i.logger.InfoContext(ctx, "request forwarded", append(attrs, "duration", i.timer.stop(info))...)
	return nil
}

// MetricsCollector defines the interface for collecting metrics
type MetricsCollector interface {
	IncrementRequestCount(side, operation string)
	RecordProcessingTime(side, operation string, duration time.Duration)
	IncrementErrorCount(side, operation, errorType string)
}

// Sides reported to a MetricsCollector
const (
	SideClient = "client"
	SideServer = "server"
)

// MetricsInterceptor collects metrics about request processing
type MetricsInterceptor struct {
	collector MetricsCollector
	timer     stopwatch
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

func (i *MetricsInterceptor) begin(side string, info RequestInfo) {
	operation, _ := info.Operation()
	i.timer.start(info)
	i.collector.IncrementRequestCount(side, operation)
}

func (i *MetricsInterceptor) end(side string, info RequestInfo, errorType string) {
	operation, _ := info.Operation()
	i.collector.RecordProcessingTime(side, operation, i.timer.stop(info))
	if errorType != "" {
		i.collector.IncrementErrorCount(side, operation, errorType)
	}
}

func otherErrorType(info RequestInfo) string {
	status, err := info.ReplyStatus()
	if err != nil {
		return "other"
	}
	return status.String()
}

// SendRequest implements ClientRequestInterceptor
func (i *MetricsInterceptor) SendRequest(_ context.Context, info ClientRequestInfo) error {
	i.begin(SideClient, info)
	return nil
}

// ReceiveReply implements ClientRequestInterceptor
func (i *MetricsInterceptor) ReceiveReply(_ context.Context, info ClientRequestInfo) error {
	i.end(SideClient, info, "")
	return nil
}

// ReceiveException implements ClientRequestInterceptor
func (i *MetricsInterceptor) ReceiveException(_ context.Context, info ClientRequestInfo) error {
	exceptionID, err := info.ReceivedExceptionID()
	if err != nil {
		exceptionID = "exception"
	}
	i.end(SideClient, info, exceptionID)
	return nil
}

// ReceiveOther implements ClientRequestInterceptor
func (i *MetricsInterceptor) ReceiveOther(_ context.Context, info ClientRequestInfo) error {
	i.end(SideClient, info, otherErrorType(info))
	return nil
}

// ReceiveRequestServiceContexts implements ServerRequestInterceptor
func (i *MetricsInterceptor) ReceiveRequestServiceContexts(_ context.Context, info ServerRequestInfo) error {
	i.begin(SideServer, info)
	return nil
}

// ReceiveRequest implements ServerRequestInterceptor
func (i *MetricsInterceptor) ReceiveRequest(context.Context, ServerRequestInfo) error {
	return nil
}

// SendReply implements ServerRequestInterceptor
func (i *MetricsInterceptor) SendReply(_ context.Context, info ServerRequestInfo) error {
	i.end(SideServer, info, "")
	return nil
}

// SendException implements ServerRequestInterceptor
func (i *MetricsInterceptor) SendException(_ context.Context, info ServerRequestInfo) error {
	exception, _ := info.SendingException()
	i.end(SideServer, info, contracts.RepositoryIDOf(exception))
	return nil
}

// SendOther implements ServerRequestInterceptor
func (i *MetricsInterceptor) SendOther(_ context.Context, info ServerRequestInfo) error {
	i.end(SideServer, info, otherErrorType(info))
	return nil
}
