package orb

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/interceptors"
)

// Servant is a servant invoked with the encoded request body
type Servant interface {
	contracts.Servant
	Invoke(ctx context.Context, operation string, body []byte) ([]byte, error)
}

// DynamicServant is a servant invoked with decoded arguments
type DynamicServant interface {
	contracts.Servant
	InvokeDynamic(ctx context.Context, operation string, args []contracts.Parameter) (any, error)
}

// Incoming is a request received by a transport
type Incoming struct {
	RequestID       uint32
	Operation       string
	ObjectKey       []byte
	Body            []byte
	OneWay          bool
	ServiceContexts *contracts.ServiceContexts
	RemoteAddress   string
}

var parameterListType = reflect.TypeOf([]contracts.Parameter(nil))

// Dispatch runs an incoming request through the server interception points and
// the target servant and returns the reply to send. One-way requests return nil.
func (o *ORB) Dispatch(ctx context.Context, in Incoming) *contracts.ReplyMessage {
	req := &Request{
		id:        in.RequestID,
		operation: in.Operation,
		oneWay:    in.OneWay,
		objectKey: in.ObjectKey,
		body:      in.Body,
		conn:      remoteAddress(in.RemoteAddress),
		contexts:  in.ServiceContexts,
	}
	if req.contexts == nil {
		req.contexts = contracts.NewServiceContexts()
	}

	reply := o.dispatch(ctx, req)
	if in.OneWay {
		return nil
	}
	return reply
}

func (o *ORB) dispatch(ctx context.Context, req *Request) *contracts.ReplyMessage {
	if o.closed.Load() {
		return exceptionReply(req.id, contracts.WrapSystemException(contracts.Transient, contracts.CompletedNo, ErrShutdown))
	}

	adapter, objectID, err := o.findAdapter(req.objectKey)
	if err != nil {
		o.logger.Debug("request for unknown adapter", "operation", req.operation, "requestId", req.id, "error", err)
		return exceptionReply(req.id, contracts.WrapSystemException(contracts.ObjectNotExist, contracts.CompletedNo, err))
	}

	ctx, _ = interceptors.EnsureThread(ctx)
	h := o.handler
	if err := h.InitializeServerRequest(ctx, req, adapter, objectID); err != nil {
		o.logger.Error("server request setup failed", "operation", req.operation, "error", err)
		return exceptionReply(req.id, contracts.WrapSystemException(contracts.Internal, contracts.CompletedNo, err))
	}
	defer func() {
		if err := h.CleanupServerRequest(ctx); err != nil {
			o.logger.Warn("server request cleanup failed", "operation", req.operation, "error", err)
		}
	}()

	result, err := o.serve(ctx, req, adapter, objectID)
	return o.respond(ctx, req, buildReply(req.id, result, err))
}

// serve runs the starting and intermediate points and the servant. Failures of
// the servant and of servant lookup are recorded as the sending exception.
func (o *ORB) serve(ctx context.Context, req *Request, adapter *ObjectAdapter, objectID []byte) ([]byte, error) {
	h := o.handler

	if err := h.InvokeServerStarting(ctx); err != nil {
		return nil, err
	}

	servant, err := adapter.locate(objectID)
	if err != nil {
		return nil, o.servantFailed(ctx, err)
	}
	if err := h.SetServerServant(ctx, servant); err != nil {
		return nil, err
	}
	if err := h.InvokeServerIntermediate(ctx); err != nil {
		return nil, err
	}

	if o.tracing != nil {
		ctx = o.tracing.ContextWithServerSpan(ctx, h.Current())
	}

	result, err := o.invokeServant(ctx, req, servant)
	if err != nil {
		return nil, o.servantFailed(ctx, err)
	}
	return result, nil
}

func (o *ORB) servantFailed(ctx context.Context, err error) error {
	var fr *interceptors.ForwardRequest
	if errors.As(err, &fr) {
		return &interceptors.ForwardError{Forward: fr.Forward}
	}
	var userErr contracts.UserException
	if !errors.As(err, &userErr) {
		err = contracts.AsSystemException(err)
	}
	if setErr := o.handler.SetServerException(ctx, err); setErr != nil {
		o.logger.Warn("recording server exception failed", "error", setErr)
	}
	return err
}

func (o *ORB) invokeServant(ctx context.Context, req *Request, servant contracts.Servant) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("servant panicked", "operation", req.operation, "panic", r)
			err = contracts.WrapSystemException(contracts.Unknown, contracts.CompletedMaybe, fmt.Errorf("servant panic: %v", r))
		}
	}()

	switch s := servant.(type) {
	case DynamicServant:
		return o.invokeDynamic(ctx, req, s)
	case Servant:
		return s.Invoke(ctx, req.operation, req.body)
	default:
		return nil, contracts.WrapSystemException(contracts.NoImplement, contracts.CompletedNo,
			fmt.Errorf("servant %T cannot be invoked", servant))
	}
}

func (o *ORB) invokeDynamic(ctx context.Context, req *Request, servant DynamicServant) ([]byte, error) {
	h := o.handler

	var args []contracts.Parameter
	if len(req.body) > 0 {
		decoded, err := o.codec.DecodeValue(req.body, parameterListType)
		if err != nil {
			return nil, contracts.WrapSystemException(contracts.Marshal, contracts.CompletedNo, err)
		}
		args = decoded.([]contracts.Parameter)
	}
	if err := h.SetServerDSIArguments(ctx, args); err != nil {
		return nil, err
	}

	value, err := servant.InvokeDynamic(ctx, req.operation, args)
	if err != nil {
		return nil, err
	}
	if err := h.SetServerDSIResult(ctx, value); err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	result, err := o.codec.EncodeValue(value)
	if err != nil {
		return nil, contracts.WrapSystemException(contracts.Marshal, contracts.CompletedYes, err)
	}
	return result, nil
}

// respond runs the ending point. When an interceptor replaces the outcome the
// reply is rebuilt and the ending point is called again, which only re-applies
// the queued reply service contexts.
func (o *ORB) respond(ctx context.Context, req *Request, reply *contracts.ReplyMessage) *contracts.ReplyMessage {
	req.setReply(reply)
	err := o.handler.InvokeServerEnding(ctx, reply)
	if err == nil {
		return reply
	}

	o.logger.Debug("server ending replaced the reply", "operation", req.operation, "requestId", req.id, "error", err)
	reply = buildReply(req.id, nil, err)
	req.setReply(reply)
	if err := o.handler.InvokeServerEnding(ctx, reply); err != nil {
		o.logger.Warn("reapplying reply service contexts failed", "operation", req.operation, "error", err)
	}
	return reply
}

// buildReply converts a dispatch outcome into a reply
func buildReply(requestID uint32, result []byte, err error) *contracts.ReplyMessage {
	if err == nil {
		reply := contracts.NewReplyMessage(requestID, contracts.NoException)
		reply.Result = result
		return reply
	}

	var forward *interceptors.ForwardError
	if errors.As(err, &forward) {
		reply := contracts.NewReplyMessage(requestID, contracts.LocationForwardReply)
		reply.IOR = forward.Forward
		return reply
	}

	var userErr contracts.UserException
	var sysErr *contracts.SystemException
	if errors.As(err, &userErr) && !errors.As(err, &sysErr) {
		reply := contracts.NewReplyMessage(requestID, contracts.UserExceptionReply)
		reply.Exception = userErr
		return reply
	}

	return exceptionReply(requestID, contracts.AsSystemException(err))
}

func exceptionReply(requestID uint32, err *contracts.SystemException) *contracts.ReplyMessage {
	reply := contracts.NewReplyMessage(requestID, contracts.SystemExceptionReply)
	reply.Exception = err
	return reply
}

// OperationFunc implements one operation of a Skeleton
type OperationFunc func(ctx context.Context, body []byte) ([]byte, error)

// Skeleton is a Servant that dispatches by operation name
type Skeleton struct {
	orb        *ORB
	ids        []string
	operations map[string]OperationFunc
}

// NewSkeleton creates a skeleton supporting the given repository ids, most derived first
func (o *ORB) NewSkeleton(repositoryIDs ...string) *Skeleton {
	return &Skeleton{
		orb:        o,
		ids:        repositoryIDs,
		operations: make(map[string]OperationFunc),
	}
}

// Handle registers the implementation of an operation
func (s *Skeleton) Handle(operation string, fn OperationFunc) *Skeleton {
	s.operations[operation] = fn
	return s
}

// RepositoryIDs implements contracts.Servant
func (s *Skeleton) RepositoryIDs() []string {
	return s.ids
}

// Invoke implements Servant
func (s *Skeleton) Invoke(ctx context.Context, operation string, body []byte) ([]byte, error) {
	fn, ok := s.operations[operation]
	if !ok {
		return nil, contracts.WrapSystemException(contracts.BadOperation, contracts.CompletedNo,
			fmt.Errorf("unknown operation %q", operation))
	}
	return fn(ctx, body)
}

// HandleFunc registers a typed operation: the body is decoded as In and the
// returned Out is encoded as the result
func HandleFunc[In, Out any](s *Skeleton, operation string, fn func(ctx context.Context, in In) (Out, error)) {
	codec := s.orb.codec
	inType := reflect.TypeOf((*In)(nil)).Elem()

	s.Handle(operation, func(ctx context.Context, body []byte) ([]byte, error) {
		var in In
		if len(body) > 0 {
			decoded, err := codec.DecodeValue(body, inType)
			if err != nil {
				return nil, contracts.WrapSystemException(contracts.Marshal, contracts.CompletedNo, err)
			}
			in, _ = decoded.(In)
		}

		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}

		result, err := codec.EncodeValue(out)
		if err != nil {
			return nil, contracts.WrapSystemException(contracts.Marshal, contracts.CompletedYes, err)
		}
		return result, nil
	})
}
