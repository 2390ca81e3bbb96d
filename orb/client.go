package orb

import (
	"context"
	"errors"
	"reflect"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/interceptors"
	"github.com/glimte/mmate-orb/internal/reliability"
)

// Invocation is one client call
type Invocation struct {
	Target    *contracts.IOR
	Operation string
	Body      []byte
	OneWay    bool
	Policies  []contracts.Policy

	// Dynamic marks a call assembled at run time. Its arguments are sent when
	// Body is empty.
	Dynamic contracts.DynamicRequest
}

// Invoke sends the invocation and returns the reply. Redirects and transient
// failures are re-sent under the retry policy. The error is the system or user
// exception the call ended with, or a *reliability.RetryError when the retry
// budget ran out. One-way invocations return a nil reply.
func (o *ORB) Invoke(ctx context.Context, inv Invocation) (*contracts.ReplyMessage, error) {
	if o.closed.Load() {
		return nil, contracts.WrapSystemException(contracts.BadInvOrder, contracts.CompletedNo, ErrShutdown)
	}
	if inv.Target.IsNil() {
		return nil, contracts.NewSystemException(contracts.BadParam, 0, contracts.CompletedNo)
	}

	policies := newPolicySet(inv.Policies)
	timeout, ok := policies.roundtripTimeout()
	if !ok {
		timeout = o.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if inv.Dynamic != nil && len(inv.Body) == 0 {
		body, err := o.codec.EncodeValue(inv.Dynamic.Arguments())
		if err != nil {
			return nil, contracts.WrapSystemException(contracts.Marshal, contracts.CompletedNo, err)
		}
		inv.Body = body
	}

	ctx, release := interceptors.Claim(ctx)
	defer release()
	iter := newContactIterator(inv.Target)

	var reply *contracts.ReplyMessage
	err := reliability.Retry(ctx, inv.Operation, o.policy, func(attempt int) error {
		var err error
		reply, err = o.attempt(ctx, &inv, policies, iter)
		if err != nil {
			o.logger.Debug("invocation attempt failed",
				"operation", inv.Operation,
				"attempt", attempt,
				"redirects", iter.redirectCount(),
				"error", err,
			)
		}
		return err
	})
	if err != nil {
		if abandonErr := o.handler.AbandonClientRetry(ctx); abandonErr != nil {
			o.logger.Debug("no client request to abandon", "operation", inv.Operation, "error", abandonErr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, transportFailure(err)
		}
		return nil, err
	}
	return reply, nil
}

// attempt runs one pass of the client interception points around the transport
func (o *ORB) attempt(ctx context.Context, inv *Invocation, policies policySet, iter *contactIterator) (*contracts.ReplyMessage, error) {
	h := o.handler
	dynamic := inv.Dynamic != nil

	if err := h.InitiateClientRequest(ctx, dynamic); err != nil {
		return nil, err
	}
	defer func() {
		if err := h.CleanupClientRequest(ctx); err != nil {
			o.logger.Warn("client request cleanup failed", "operation", inv.Operation, "error", err)
		}
	}()
	if dynamic {
		// the static leg of a dynamic call shares its context
		if err := h.InitiateClientRequest(ctx, false); err != nil {
			return nil, err
		}
	}

	contact := iter.next()
	req := &Request{
		id:        o.nextRequestID(),
		operation: inv.Operation,
		oneWay:    inv.OneWay,
		objectKey: contact.profile.ObjectKey,
		body:      inv.Body,
		contact:   contact,
		conn:      remoteAddress(contact.profile.Address()),
		contexts:  contracts.NewServiceContexts(),
		policies:  policies,
	}

	if err := h.SetClientRequestInfo(ctx, req, iter); err != nil {
		return nil, err
	}
	if dynamic {
		if err := h.SetClientDIIRequest(ctx, inv.Dynamic); err != nil {
			return nil, err
		}
	}

	if err := h.InvokeClientStarting(ctx); err != nil {
		return nil, o.followRedirect(req, iter, err)
	}

	reply, sendErr := o.send(ctx, req)
	if sendErr != nil {
		err := h.InvokeClientEnding(ctx, contracts.SystemExceptionReply, transportFailure(sendErr))
		return nil, o.followRedirect(req, iter, err)
	}
	if reply == nil {
		return nil, o.followRedirect(req, iter, h.InvokeClientEnding(ctx, contracts.NoException, nil))
	}

	req.setReply(reply)
	if dynamic && reply.Status == contracts.NoException {
		o.setDynamicResult(inv.Dynamic, reply.Result)
	}
	err := h.InvokeClientEnding(ctx, reply.Status, replyException(reply))
	if err == nil && (reply.Status == contracts.LocationForwardReply || reply.Status == contracts.LocationForwardPermReply) {
		// no client interceptors saw the forward
		err = &interceptors.RemarshalError{Retry: interceptors.RetryAfterResponse, Forward: reply.IOR}
	}
	if err != nil {
		return nil, o.followRedirect(req, iter, err)
	}
	return reply, nil
}

// followRedirect points the iterator at the forward target of a remarshal
func (o *ORB) followRedirect(req *Request, iter *contactIterator, err error) error {
	var remarshal *interceptors.RemarshalError
	if errors.As(err, &remarshal) && remarshal.Forward != nil {
		iter.ReportRedirect(req.ContactInfo(), remarshal.Forward)
		o.logger.Debug("request redirected",
			"operation", req.operation,
			"requestId", req.id,
			"forward", remarshal.Forward.String(),
		)
	}
	return err
}

// send passes the request to the transport behind the endpoint's circuit breaker
func (o *ORB) send(ctx context.Context, req *Request) (*contracts.ReplyMessage, error) {
	if o.breakers == nil {
		return o.transport.Send(ctx, req)
	}

	breaker := o.breakers.For(req.Profile().Address())
	if err := breaker.Allow(); err != nil {
		return nil, contracts.WrapSystemException(contracts.Transient, contracts.CompletedNo, err)
	}

	reply, err := o.transport.Send(ctx, req)
	if err != nil && isCommFailure(transportFailure(err)) {
		breaker.Record(err)
	} else {
		breaker.Record(nil)
	}
	return reply, err
}

func (o *ORB) setDynamicResult(request contracts.DynamicRequest, result []byte) {
	call, ok := request.(*DynamicCall)
	if !ok || len(result) == 0 || call.ResultType == nil {
		return
	}
	value, err := o.codec.DecodeValue(result, call.ResultType)
	if err != nil {
		o.logger.Warn("dynamic result not decodable", "error", err)
		return
	}
	call.result = value
}

// DynamicCall is a contracts.DynamicRequest built by the caller
type DynamicCall struct {
	Args       []contracts.Parameter
	Raises     []string
	ResultType reflect.Type

	result any
}

// Arguments implements contracts.DynamicRequest
func (c *DynamicCall) Arguments() []contracts.Parameter { return c.Args }

// Exceptions implements contracts.DynamicRequest
func (c *DynamicCall) Exceptions() []string { return c.Raises }

// Contexts implements contracts.DynamicRequest
func (c *DynamicCall) Contexts() []string { return nil }

// OperationContext implements contracts.DynamicRequest
func (c *DynamicCall) OperationContext() []string { return nil }

// Result implements contracts.DynamicRequest. It is nil until a reply arrived.
func (c *DynamicCall) Result() any { return c.result }

// Call encodes in, invokes operation on target and decodes the result as Out
func Call[Out any](ctx context.Context, o *ORB, target *contracts.IOR, operation string, in any, policies ...contracts.Policy) (Out, error) {
	var out Out

	var body []byte
	if in != nil {
		encoded, err := o.codec.EncodeValue(in)
		if err != nil {
			return out, contracts.WrapSystemException(contracts.Marshal, contracts.CompletedNo, err)
		}
		body = encoded
	}

	reply, err := o.Invoke(ctx, Invocation{
		Target:    target,
		Operation: operation,
		Body:      body,
		Policies:  policies,
	})
	if err != nil {
		return out, err
	}
	if reply == nil || len(reply.Result) == 0 {
		return out, nil
	}

	value, err := o.codec.DecodeValue(reply.Result, reflect.TypeOf((*Out)(nil)).Elem())
	if err != nil {
		return out, contracts.WrapSystemException(contracts.Marshal, contracts.CompletedYes, err)
	}
	out, _ = value.(Out)
	return out, nil
}
