package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/interceptors"
	"github.com/glimte/mmate-orb/orb"
)

// Server consumes the request queue of an ORB endpoint and publishes replies
// to the queue each request names
type Server struct {
	orb    *orb.ORB
	broker Broker
	queue  string
	logger *slog.Logger
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithQueue sets the request queue
func WithQueue(queue string) ServerOption {
	return func(s *Server) {
		s.queue = queue
	}
}

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a server for o. The default request queue is named after
// the ORB address.
func NewServer(o *orb.ORB, broker Broker, options ...ServerOption) *Server {
	s := &Server{
		orb:    o,
		broker: broker,
		queue:  RequestQueue(DefaultRequestPrefix, o.Address()),
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Queue returns the request queue
func (s *Server) Queue() string {
	return s.queue
}

// Start subscribes to the request queue
func (s *Server) Start(ctx context.Context) error {
	if err := s.broker.Subscribe(ctx, s.queue, s.handle); err != nil {
		return fmt.Errorf("subscribing to request queue %s: %w", s.queue, err)
	}
	s.logger.Info("orb server listening", "queue", s.queue, "address", s.orb.Address())
	return nil
}

// Stop unsubscribes from the request queue
func (s *Server) Stop() error {
	return s.broker.Unsubscribe(s.queue)
}

// handle dispatches one request on a fresh interception thread. Malformed
// requests are answered with MARSHAL and never redelivered.
func (s *Server) handle(ctx context.Context, d amqp.Delivery) error {
	in, err := decodeRequest(d)
	if err != nil {
		s.logger.Warn("rejecting malformed request", "messageId", d.MessageId, "error", err)
		reply := contracts.NewReplyMessage(0, contracts.SystemExceptionReply)
		reply.Exception = contracts.WrapSystemException(contracts.Marshal, contracts.CompletedNo, err)
		if requestID, idErr := uint32Of(d.Headers[HeaderRequestID]); idErr == nil {
			reply.RequestID = requestID
		}
		s.reply(ctx, d, reply)
		return nil
	}

	ctx = interceptors.WithThread(ctx, interceptors.NewThread())
	reply := s.orb.Dispatch(ctx, in)
	if reply == nil {
		return nil
	}
	s.reply(ctx, d, reply)
	return nil
}

func (s *Server) reply(ctx context.Context, d amqp.Delivery, reply *contracts.ReplyMessage) {
	if d.ReplyTo == "" {
		s.logger.Debug("request without reply queue", "requestId", reply.RequestID)
		return
	}

	msg, err := encodeReply(s.orb.Codec(), reply)
	if err != nil {
		s.logger.Error("failed to encode reply", "requestId", reply.RequestID, "error", err)
		fallback := contracts.NewReplyMessage(reply.RequestID, contracts.SystemExceptionReply)
		fallback.Exception = contracts.WrapSystemException(contracts.Marshal, contracts.CompletedYes, err)
		if msg, err = encodeReply(s.orb.Codec(), fallback); err != nil {
			return
		}
	}
	msg.CorrelationId = d.CorrelationId
	msg.Timestamp = time.Now()
	msg.AppId = s.orb.ID()

	// the default exchange routes by queue name
	if err := s.broker.Publish(ctx, "", d.ReplyTo, msg); err != nil {
		s.logger.Error("failed to publish reply",
			"requestId", reply.RequestID,
			"replyTo", d.ReplyTo,
			"error", err,
		)
	}
}
