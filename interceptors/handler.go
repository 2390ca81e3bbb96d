package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/serialization"
)

// Handler is the facade the runtime calls at fixed points of every invocation.
// Each method works on the top request context of the Thread carried by ctx and
// is a pass-through when no interceptors of the relevant kind are registered.
type Handler struct {
	registry *Registry
	invoker  *invoker
	logger   *slog.Logger
	current  *Current

	orbID           string
	arguments       []string
	codecs          serialization.CodecFactory
	slotCount       int
	policyFactories map[contracts.PolicyType]PolicyFactory
	initialRefs     map[string]any
	initializers    []Initializer

	hasIOR    bool
	hasClient bool
	hasServer bool

	destroyOnce sync.Once
}

// Registry returns the frozen interceptor registry
func (h *Handler) Registry() *Registry {
	return h.registry
}

// Current returns access to the thread-scope slot tables
func (h *Handler) Current() *Current {
	return h.current
}

// SlotCount returns the number of allocated slots
func (h *Handler) SlotCount() int {
	return h.slotCount
}

// CodecFactory returns the codec factory of the runtime
func (h *Handler) CodecFactory() serialization.CodecFactory {
	return h.codecs
}

// ResolveInitialReference returns an object registered during bootstrap
func (h *Handler) ResolveInitialReference(id string) (any, error) {
	object, ok := h.initialRefs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidName, id)
	}
	return object, nil
}

// CreatePolicy creates a policy through the factory registered for its type
func (h *Handler) CreatePolicy(policyType contracts.PolicyType, value any) (contracts.Policy, error) {
	factory, ok := h.policyFactories[policyType]
	if !ok {
		return nil, badPolicy(policyType)
	}
	policy, err := factory.CreatePolicy(policyType, value)
	if err != nil {
		return nil, &PolicyError{Type: policyType, Err: fmt.Errorf("%w: %v", ErrBadPolicy, err)}
	}
	return policy, nil
}

// Destroy disables interception and destroys every interceptor that implements Destroyer
func (h *Handler) Destroy() {
	h.destroyOnce.Do(func() {
		h.invoker.enabled.Store(false)
		h.registry.DestroyAll()
		h.logger.Debug("interception pipeline destroyed", "orbId", h.orbID)
	})
}

func (h *Handler) thread(ctx context.Context, op string) (*Thread, error) {
	t, ok := ThreadFrom(ctx)
	if !ok {
		return nil, internalErr(op, "no thread in context")
	}
	return t, nil
}

// clientTop returns the active client context, or nil when client interception
// is off for this call
func (h *Handler) clientTop(ctx context.Context, op string) (*Thread, *ClientRequestContext, error) {
	if !h.hasClient {
		return nil, nil, nil
	}
	t, err := h.thread(ctx, op)
	if err != nil {
		return nil, nil, err
	}
	if t.disabled > 0 {
		return nil, nil, nil
	}
	info := t.peekClient()
	if info == nil {
		return nil, nil, internalErr(op, "client request stack is empty")
	}
	return t, info, nil
}

func (h *Handler) serverTop(ctx context.Context, op string) (*Thread, *ServerRequestContext, error) {
	if !h.hasServer {
		return nil, nil, nil
	}
	t, err := h.thread(ctx, op)
	if err != nil {
		return nil, nil, err
	}
	info := t.peekServer()
	if info == nil {
		return nil, nil, internalErr(op, "server request stack is empty")
	}
	return t, info, nil
}

// DisableInterceptors turns client interception off for the thread until the
// matching EnableInterceptors. Calls nest.
func (h *Handler) DisableInterceptors(ctx context.Context) error {
	if !h.hasClient {
		return nil
	}
	t, err := h.thread(ctx, "disable interceptors")
	if err != nil {
		return err
	}
	t.disabled++
	return nil
}

// EnableInterceptors undoes one DisableInterceptors
func (h *Handler) EnableInterceptors(ctx context.Context) error {
	if !h.hasClient {
		return nil
	}
	t, err := h.thread(ctx, "enable interceptors")
	if err != nil {
		return err
	}
	if t.disabled > 0 {
		t.disabled--
	}
	return nil
}

// InitiateClientRequest starts a client invocation. A context flagged for retry
// is reused, otherwise a fresh one is pushed. A static initiate directly after a
// dynamic one belongs to the same call and is ignored.
func (h *Handler) InitiateClientRequest(ctx context.Context, isDII bool) error {
	if !h.hasClient {
		return nil
	}
	t, err := h.thread(ctx, "initiate client request")
	if err != nil {
		return err
	}
	if t.disabled > 0 {
		return nil
	}

	info := t.peekClient()
	if !isDII && info != nil && info.diiInitiate {
		info.diiInitiate = false
		return nil
	}

	if info == nil || !info.retry.IsRetry() {
		info = newClientRequestContext(nil, h.logger)
		t.pushClient(info)
	}

	info.retry = RetryNone
	info.entryCount++
	info.replyStatus = StatusUninitialized
	info.slots = t.slots.current(h.slotCount).clone()
	if isDII {
		info.diiInitiate = true
	}
	return nil
}

// SetClientRequestInfo binds the request being sent to the active context
func (h *Handler) SetClientRequestInfo(ctx context.Context, mediator contracts.MessageMediator, iterator contracts.ContactInfoIterator) error {
	_, info, err := h.clientTop(ctx, "set client request info")
	if err != nil || info == nil {
		return err
	}
	info.mediator = mediator
	info.iterator = iterator
	return nil
}

// SetClientDIIRequest binds a dynamic request to the active context
func (h *Handler) SetClientDIIRequest(ctx context.Context, request contracts.DynamicRequest) error {
	_, info, err := h.clientTop(ctx, "set client dii request")
	if err != nil || info == nil {
		return err
	}
	info.dii = request
	return nil
}

// InvokeClientStarting runs the send request point. When an interceptor ends the
// call before it reaches the wire, the ending point runs immediately and its
// result is returned: a *contracts.SystemException or a *RemarshalError.
func (h *Handler) InvokeClientStarting(ctx context.Context) error {
	t, info, err := h.clientTop(ctx, "invoke client starting")
	if err != nil || info == nil {
		return err
	}

	h.invoker.clientStarting(ctx, t, info)

	switch info.replyStatus {
	case StatusSystemException, StatusLocationForward:
		return h.clientEnding(ctx, t, info, wireStatusOf(info.replyStatus), info.exception)
	}
	return nil
}

// InvokeClientEnding runs the receive point for the reply outcome. It returns the
// error the caller should see: err passed through, the exception raised by an
// interceptor, or a *RemarshalError when the request must be re-sent.
func (h *Handler) InvokeClientEnding(ctx context.Context, status contracts.ReplyMessageStatus, err error) error {
	t, info, terr := h.clientTop(ctx, "invoke client ending")
	if terr != nil {
		return terr
	}
	if info == nil {
		return err
	}
	return h.clientEnding(ctx, t, info, status, err)
}

func (h *Handler) clientEnding(ctx context.Context, t *Thread, info *ClientRequestContext, status contracts.ReplyMessageStatus, err error) error {
	piStatus := replyStatusOf(status)
	info.setReplyStatus(piStatus)
	info.setException(err)
	if piStatus == StatusLocationForward && info.forward.kind == forwardUnresolved && info.mediator != nil {
		if forward := info.mediator.ForwardedIOR(); forward != nil {
			info.forward.setAddress(forward)
		}
	}

	h.invoker.clientEnding(ctx, t, info)

	switch info.replyStatus {
	case StatusLocationForward, StatusTransportRetry:
		forward := info.forward.asAddress()
		info.reset()
		if status == contracts.LocationForwardReply || status == contracts.LocationForwardPermReply {
			info.retry = RetryAfterResponse
		} else {
			info.retry = RetryBeforeResponse
		}
		return &RemarshalError{Retry: info.retry, Forward: forward}
	case StatusSystemException, StatusUserException:
		return info.exception
	}
	return nil
}

// CleanupClientRequest ends a client invocation attempt. If no outcome was
// recorded the ending point runs with UNKNOWN so interceptors see exactly one
// ending callback. The context is popped when its last entry leaves and no retry
// is pending.
func (h *Handler) CleanupClientRequest(ctx context.Context) error {
	t, info, err := h.clientTop(ctx, "cleanup client request")
	if err != nil || info == nil {
		return err
	}

	if !info.retry.IsRetry() && info.replyStatus == StatusUninitialized {
		unknown := contracts.NewSystemException(contracts.Unknown, 0, contracts.CompletedMaybe)
		_ = h.clientEnding(ctx, t, info, contracts.SystemExceptionReply, unknown)
	}

	info.entryCount--
	if info.entryCount <= 0 && !info.retry.IsRetry() {
		t.popClient()
	}
	return nil
}

// AbandonClientRetry drops a context kept for a retry that will not happen
func (h *Handler) AbandonClientRetry(ctx context.Context) error {
	t, info, err := h.clientTop(ctx, "abandon client retry")
	if err != nil || info == nil {
		return err
	}
	if !info.retry.IsRetry() {
		return nil
	}
	info.retry = RetryNone
	if info.entryCount <= 0 {
		t.popClient()
	}
	return nil
}

// InitializeServerRequest pushes a fresh context for an incoming request. Its
// request-scope slot table becomes the thread-scope table of the servant.
func (h *Handler) InitializeServerRequest(ctx context.Context, mediator contracts.MessageMediator, adapter contracts.ObjectAdapter, objectID []byte) error {
	if !h.hasServer {
		return nil
	}
	t, err := h.thread(ctx, "initialize server request")
	if err != nil {
		return err
	}
	info := newServerRequestContext(mediator, adapter, objectID, newSlotTable(h.slotCount), h.logger)
	t.pushServer(info)
	t.slots.push(info.slots)
	return nil
}

// InvokeServerStarting runs the receive request service contexts point. It
// returns the *contracts.SystemException or *ForwardError an interceptor raised.
func (h *Handler) InvokeServerStarting(ctx context.Context) error {
	t, info, err := h.serverTop(ctx, "invoke server starting")
	if err != nil || info == nil {
		return err
	}
	h.invoker.serverStarting(ctx, t, info)
	return serverOutcome(info)
}

// SetServerServant records the servant located for the request
func (h *Handler) SetServerServant(ctx context.Context, servant contracts.Servant) error {
	_, info, err := h.serverTop(ctx, "set server servant")
	if err != nil || info == nil {
		return err
	}
	info.servant = servant
	return nil
}

// InvokeServerIntermediate runs the receive request point. It is skipped when
// the starting point already ended the request.
func (h *Handler) InvokeServerIntermediate(ctx context.Context) error {
	t, info, err := h.serverTop(ctx, "invoke server intermediate")
	if err != nil || info == nil {
		return err
	}
	h.invoker.serverIntermediate(ctx, t, info)
	info.servant = nil
	return serverOutcome(info)
}

// SetServerException records the exception the servant raised
func (h *Handler) SetServerException(ctx context.Context, exception error) error {
	_, info, err := h.serverTop(ctx, "set server exception")
	if err != nil || info == nil {
		return err
	}
	info.setException(exception)
	return nil
}

// SetServerDSIArguments records the decoded arguments of a dynamic skeleton call
func (h *Handler) SetServerDSIArguments(ctx context.Context, args []contracts.Parameter) error {
	_, info, err := h.serverTop(ctx, "set server dsi arguments")
	if err != nil || info == nil {
		return err
	}
	info.dynamic = true
	info.dsiArguments = args
	return nil
}

// SetServerDSIResult records the result of a dynamic skeleton call
func (h *Handler) SetServerDSIResult(ctx context.Context, result any) error {
	_, info, err := h.serverTop(ctx, "set server dsi result")
	if err != nil || info == nil {
		return err
	}
	info.dynamic = true
	info.dsiResult = result
	info.dsiResultSet = true
	return nil
}

// InvokeServerEnding runs the send point for the reply being built. Queued reply
// service contexts are applied to reply first. Called again with a replacement
// reply it only re-applies the queue. It returns a new *contracts.SystemException
// raised by an interceptor, or a *ForwardError when the reply must become a
// location forward.
func (h *Handler) InvokeServerEnding(ctx context.Context, reply *contracts.ReplyMessage) error {
	t, info, err := h.serverTop(ctx, "invoke server ending")
	if err != nil || info == nil {
		return err
	}
	if reply == nil {
		return internalErr("invoke server ending", "nil reply")
	}

	info.setReplyMessage(reply)
	info.setPoint(PointEnding)
	if info.alreadyExecuted {
		return nil
	}

	status := replyStatusOf(reply.Status)
	if (status == StatusLocationForward || status == StatusTransportRetry) && reply.IOR != nil {
		info.forward.setAddress(reply.IOR)
	}
	if !info.dynamic && status == StatusUserException {
		info.setException(contracts.NewSystemException(contracts.Unknown, 1, contracts.CompletedMaybe))
	}

	prevSeq := info.exceptionSeq
	info.setReplyStatus(status)
	h.invoker.serverEnding(ctx, t, info)

	if info.replyStatus == StatusSystemException && info.exceptionSeq != prevSeq {
		return info.exception
	}
	if info.replyStatus == StatusLocationForward {
		if status != StatusLocationForward {
			return &ForwardError{Forward: info.forward.asAddress()}
		}
		if info.forwardRaisedInEnding {
			reply.IOR = info.forward.asAddress()
		}
	}
	return nil
}

// CleanupServerRequest pops the context of the finished request
func (h *Handler) CleanupServerRequest(ctx context.Context) error {
	t, info, err := h.serverTop(ctx, "cleanup server request")
	if err != nil || info == nil {
		return err
	}
	t.popServer()
	t.slots.pop()
	return nil
}

// serverOutcome converts an outcome recorded before the ending point into the
// error the dispatcher acts on
func serverOutcome(info *ServerRequestContext) error {
	switch info.call {
	case callException:
		return info.exception
	case callOther:
		if info.forward.kind != forwardUnresolved {
			return &ForwardError{Forward: info.forward.asAddress()}
		}
	}
	return nil
}

// ObjectAdapterCreated runs the IOR interceptors for a new adapter and returns
// the components to add to every reference it creates
func (h *Handler) ObjectAdapterCreated(ctx context.Context, adapter contracts.ObjectAdapter) ([]contracts.TaggedComponent, error) {
	if !h.hasIOR || adapter == nil {
		return nil, nil
	}
	info := newIORInfo(adapter)
	if err := h.invoker.objectAdapterCreated(ctx, info); err != nil {
		return nil, err
	}
	return info.components, nil
}

// AdapterManagerStateChanged notifies IOR interceptors of an adapter manager state change
func (h *Handler) AdapterManagerStateChanged(ctx context.Context, managerID int, state contracts.AdapterState) {
	if !h.hasIOR {
		return
	}
	h.invoker.adapterManagerStateChanged(ctx, managerID, state)
}

// AdapterStateChanged notifies IOR interceptors of adapter state changes
func (h *Handler) AdapterStateChanged(ctx context.Context, adapters []contracts.ObjectAdapter, state contracts.AdapterState) {
	if !h.hasIOR {
		return
	}
	h.invoker.adapterStateChanged(ctx, adapters, state)
}
