package interceptors

import (
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-orb/contracts"
)

type forwardKind int

const (
	forwardUnresolved forwardKind = iota
	forwardSignal
	forwardAddress
)

// forwardTarget holds a redirect either as the signal an interceptor returned or
// as the raw reference from a reply. kind names the authoritative form; the
// other is derived on first use and cached in the same value.
type forwardTarget struct {
	kind    forwardKind
	signal  *ForwardRequest
	address *contracts.IOR
}

func (f *forwardTarget) setSignal(fr *ForwardRequest) {
	*f = forwardTarget{kind: forwardSignal, signal: fr}
}

func (f *forwardTarget) setAddress(ior *contracts.IOR) {
	*f = forwardTarget{kind: forwardAddress, address: ior}
}

func (f *forwardTarget) asSignal() *ForwardRequest {
	switch f.kind {
	case forwardSignal:
		return f.signal
	case forwardAddress:
		if f.signal == nil {
			f.signal = &ForwardRequest{Forward: f.address}
		}
		return f.signal
	}
	return nil
}

func (f *forwardTarget) asAddress() *contracts.IOR {
	switch f.kind {
	case forwardAddress:
		return f.address
	case forwardSignal:
		if f.address == nil && f.signal != nil {
			f.address = f.signal.Forward
		}
		return f.address
	}
	return nil
}

type serviceContextCache map[contracts.ServiceContextID]contracts.ServiceContext

// requestContext is the state shared by client and server request contexts
type requestContext struct {
	replyStatus    ReplyStatus
	point          ExecutionPoint
	call           endingCall
	flowStackIndex int
	exception      error
	exceptionSeq   int
	forward        forwardTarget
	slots          *SlotTable

	cache           map[accessor]any
	requestContexts serviceContextCache
	replyContexts   serviceContextCache

	logger *slog.Logger
}

func (c *requestContext) init(slots *SlotTable, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	c.logger = logger
	c.resetBase()
	c.slots = slots
}

func (c *requestContext) resetBase() {
	c.replyStatus = StatusUninitialized
	c.point = PointStarting
	c.call = callReply
	c.flowStackIndex = 0
	c.exception = nil
	c.exceptionSeq = 0
	c.forward = forwardTarget{}
	if c.slots != nil {
		c.slots = newSlotTable(c.slots.Len())
	}
	c.cache = make(map[accessor]any)
	c.requestContexts = nil
	c.replyContexts = nil
}

// setReplyStatus records the outcome and selects the matching ending callback
func (c *requestContext) setReplyStatus(status ReplyStatus) {
	c.replyStatus = status
	if call, ok := endingCallOf(status); ok {
		c.call = call
	}
}

func (c *requestContext) setException(err error) {
	c.exception = err
	c.exceptionSeq++
	delete(c.cache, accReceivedException)
	delete(c.cache, accReceivedExceptionID)
	delete(c.cache, accSendingException)
}

func (c *requestContext) redirect(fr *ForwardRequest) {
	c.forward.setSignal(fr)
	c.setReplyStatus(StatusLocationForward)
}

func (c *requestContext) fail(err *contracts.SystemException) {
	c.setException(err)
	c.setReplyStatus(StatusSystemException)
}

func (c *requestContext) forwardReference() (*contracts.IOR, error) {
	if ior := c.forward.asAddress(); ior != nil {
		return ior, nil
	}
	return nil, fmt.Errorf("%w: no forward reference", ErrResourceUnavailable)
}

func (c *requestContext) currentException(a accessor) (error, error) {
	if c.exception == nil {
		return nil, fmt.Errorf("%w: %s without an exception", ErrResourceUnavailable, a)
	}
	return memo(c, a, func() (error, error) {
		return c.exception, nil
	})
}

func (c *requestContext) currentExceptionID() (string, error) {
	if c.exception == nil {
		return "", fmt.Errorf("%w: %s without an exception", ErrResourceUnavailable, accReceivedExceptionID)
	}
	return memo(c, accReceivedExceptionID, func() (string, error) {
		return contracts.RepositoryIDOf(c.exception), nil
	})
}

// memo returns the cached value of an accessor, computing it on first use
func memo[T any](c *requestContext, a accessor, compute func() (T, error)) (T, error) {
	if v, ok := c.cache[a]; ok {
		return v.(T), nil
	}
	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	c.cache[a] = v
	return v, nil
}

func lookupServiceContext(cache *serviceContextCache, container *contracts.ServiceContexts, id contracts.ServiceContextID) (contracts.ServiceContext, error) {
	if sc, ok := (*cache)[id]; ok {
		return sc, nil
	}
	if container == nil {
		return contracts.ServiceContext{}, fmt.Errorf("%w: id %d", ErrInvalidServiceContext, id)
	}
	sc, ok := container.Get(id)
	if !ok {
		return contracts.ServiceContext{}, fmt.Errorf("%w: id %d", ErrInvalidServiceContext, id)
	}
	if *cache == nil {
		*cache = make(serviceContextCache)
	}
	(*cache)[id] = sc
	return sc, nil
}

func addServiceContext(cache *serviceContextCache, container *contracts.ServiceContexts, sc contracts.ServiceContext, replace bool) error {
	if _, exists := container.Get(sc.ID); exists && !replace {
		return duplicateServiceContext(sc.ID)
	}
	container.Put(sc)
	if *cache == nil {
		*cache = make(serviceContextCache)
	}
	(*cache)[sc.ID] = sc
	return nil
}

func unavailable(a accessor, what string) error {
	return fmt.Errorf("%w: %s needs %s", ErrResourceUnavailable, a, what)
}

func unsupported(a accessor) error {
	return fmt.Errorf("%w: %s is only available on dynamic invocations", ErrUnsupportedOperation, a)
}
