package interceptors

import (
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/glimte/mmate-orb/contracts"
)

// serverRequestIDs numbers server requests process-wide, independent of wire ids
var serverRequestIDs atomic.Uint32

type queuedReplyContext struct {
	sc      contracts.ServiceContext
	replace bool
}

// ServerRequestContext is the state of one incoming invocation
type ServerRequestContext struct {
	requestContext

	requestID uint32
	mediator  contracts.MessageMediator
	adapter   contracts.ObjectAdapter
	objectID  []byte
	servant   contracts.Servant
	reply     *contracts.ReplyMessage

	// replyQueue keeps every reply context addition so a replacement reply
	// receives them too
	replyQueue []queuedReplyContext

	dynamic      bool
	dsiArguments []contracts.Parameter
	dsiResult    any
	dsiResultSet bool

	intermediateNone      bool
	alreadyExecuted       bool
	forwardRaisedInEnding bool
}

var _ ServerRequestInfo = (*ServerRequestContext)(nil)

func newServerRequestContext(mediator contracts.MessageMediator, adapter contracts.ObjectAdapter, objectID []byte, slots *SlotTable, logger *slog.Logger) *ServerRequestContext {
	c := &ServerRequestContext{
		requestID: serverRequestIDs.Add(1),
		mediator:  mediator,
		adapter:   adapter,
		objectID:  objectID,
	}
	c.init(slots, logger)
	return c
}

func (c *ServerRequestContext) check(a accessor) error {
	return checkServerAccess(a, c.point, c.call)
}

// setPoint moves to a new execution point. Entering the ending point flushes the
// queued reply context additions into the reply.
func (c *ServerRequestContext) setPoint(point ExecutionPoint) {
	c.point = point
	if point != PointEnding || c.reply == nil {
		return
	}
	for _, q := range c.replyQueue {
		if err := c.applyReplyContext(q.sc, q.replace); err != nil {
			c.logger.Debug("dropping queued reply service context",
				"serviceContextId", q.sc.ID,
				"requestId", c.requestID,
				"error", err,
			)
		}
	}
}

func (c *ServerRequestContext) setReplyMessage(reply *contracts.ReplyMessage) {
	c.reply = reply
	c.replyContexts = nil
}

func (c *ServerRequestContext) applyReplyContext(sc contracts.ServiceContext, replace bool) error {
	if c.reply.ServiceContexts == nil {
		c.reply.ServiceContexts = contracts.NewServiceContexts()
	}
	return addServiceContext(&c.replyContexts, c.reply.ServiceContexts, sc, replace)
}

func (c *ServerRequestContext) requireMediator(a accessor) (contracts.MessageMediator, error) {
	if c.mediator == nil {
		return nil, unavailable(a, "a bound request")
	}
	return c.mediator, nil
}

func (c *ServerRequestContext) requireAdapter(a accessor) (contracts.ObjectAdapter, error) {
	if c.adapter == nil {
		return nil, unavailable(a, "an object adapter")
	}
	return c.adapter, nil
}

// RequestID returns the server-side request id
func (c *ServerRequestContext) RequestID() (uint32, error) {
	if err := c.check(accRequestID); err != nil {
		return 0, err
	}
	return c.requestID, nil
}

// Operation returns the operation name
func (c *ServerRequestContext) Operation() (string, error) {
	if err := c.check(accOperation); err != nil {
		return "", err
	}
	return memo(&c.requestContext, accOperation, func() (string, error) {
		m, err := c.requireMediator(accOperation)
		if err != nil {
			return "", err
		}
		return m.Operation(), nil
	})
}

// Arguments returns the parameters of a dynamic skeleton invocation
func (c *ServerRequestContext) Arguments() ([]contracts.Parameter, error) {
	if err := c.check(accArguments); err != nil {
		return nil, err
	}
	if !c.dynamic {
		return nil, unsupported(accArguments)
	}
	if c.dsiArguments == nil {
		return nil, unavailable(accArguments, "decoded arguments")
	}
	return c.dsiArguments, nil
}

// Exceptions is not available on the server
func (c *ServerRequestContext) Exceptions() ([]string, error) {
	if err := c.check(accExceptions); err != nil {
		return nil, err
	}
	return nil, unavailable(accExceptions, "operation signatures")
}

// Contexts is not available on the server
func (c *ServerRequestContext) Contexts() ([]string, error) {
	if err := c.check(accContexts); err != nil {
		return nil, err
	}
	return nil, unavailable(accContexts, "operation signatures")
}

// OperationContext is not available on the server
func (c *ServerRequestContext) OperationContext() ([]string, error) {
	if err := c.check(accOperationContext); err != nil {
		return nil, err
	}
	return nil, unavailable(accOperationContext, "operation signatures")
}

// Result returns the result of a dynamic skeleton invocation
func (c *ServerRequestContext) Result() (any, error) {
	if err := c.check(accResult); err != nil {
		return nil, err
	}
	if !c.dynamic {
		return nil, unsupported(accResult)
	}
	if !c.dsiResultSet {
		return nil, unavailable(accResult, "a result")
	}
	return c.dsiResult, nil
}

// ResponseExpected reports whether the client waits for a reply
func (c *ServerRequestContext) ResponseExpected() (bool, error) {
	if err := c.check(accResponseExpected); err != nil {
		return false, err
	}
	return c.mediator == nil || !c.mediator.IsOneWay(), nil
}

// SyncScope returns the one-way synchronisation scope
func (c *ServerRequestContext) SyncScope() (SyncScope, error) {
	if err := c.check(accSyncScope); err != nil {
		return SyncNone, err
	}
	return SyncWithTransport, nil
}

// ReplyStatus returns the current outcome
func (c *ServerRequestContext) ReplyStatus() (ReplyStatus, error) {
	if err := c.check(accReplyStatus); err != nil {
		return StatusUninitialized, err
	}
	return c.replyStatus, nil
}

// ForwardReference returns the redirect target
func (c *ServerRequestContext) ForwardReference() (*contracts.IOR, error) {
	if err := c.check(accForwardReference); err != nil {
		return nil, err
	}
	return c.forwardReference()
}

// GetSlot returns a slot of the request-scope table
func (c *ServerRequestContext) GetSlot(id int) (any, error) {
	if err := c.check(accGetSlot); err != nil {
		return nil, err
	}
	return c.slots.Get(id)
}

// SetSlot stores a value in the request-scope table
func (c *ServerRequestContext) SetSlot(id int, value any) error {
	if err := c.check(accSetSlot); err != nil {
		return err
	}
	return c.slots.Set(id, value)
}

// GetRequestServiceContext returns a service context of the request
func (c *ServerRequestContext) GetRequestServiceContext(id contracts.ServiceContextID) (contracts.ServiceContext, error) {
	if err := c.check(accGetRequestServiceContext); err != nil {
		return contracts.ServiceContext{}, err
	}
	m, err := c.requireMediator(accGetRequestServiceContext)
	if err != nil {
		return contracts.ServiceContext{}, err
	}
	return lookupServiceContext(&c.requestContexts, m.RequestServiceContexts(), id)
}

// GetReplyServiceContext returns a service context of the reply
func (c *ServerRequestContext) GetReplyServiceContext(id contracts.ServiceContextID) (contracts.ServiceContext, error) {
	if err := c.check(accGetReplyServiceContext); err != nil {
		return contracts.ServiceContext{}, err
	}
	if c.reply == nil {
		return contracts.ServiceContext{}, fmt.Errorf("%w: id %d", ErrInvalidServiceContext, id)
	}
	return lookupServiceContext(&c.replyContexts, c.reply.ServiceContexts, id)
}

// SendingException returns the exception being returned to the client
func (c *ServerRequestContext) SendingException() (error, error) {
	if err := c.check(accSendingException); err != nil {
		return nil, err
	}
	return c.currentException(accSendingException)
}

// ObjectID returns the id of the target object
func (c *ServerRequestContext) ObjectID() ([]byte, error) {
	if err := c.check(accObjectID); err != nil {
		return nil, err
	}
	if c.objectID == nil {
		return nil, unavailable(accObjectID, "a located object")
	}
	return c.objectID, nil
}

// AdapterID returns the id of the adapter hosting the target
func (c *ServerRequestContext) AdapterID() ([]byte, error) {
	if err := c.check(accAdapterID); err != nil {
		return nil, err
	}
	return memo(&c.requestContext, accAdapterID, func() ([]byte, error) {
		adapter, err := c.requireAdapter(accAdapterID)
		if err != nil {
			return nil, err
		}
		return adapter.AdapterID(), nil
	})
}

// ServerID returns the server id of the hosting adapter
func (c *ServerRequestContext) ServerID() (string, error) {
	if err := c.check(accServerID); err != nil {
		return "", err
	}
	return memo(&c.requestContext, accServerID, func() (string, error) {
		adapter, err := c.requireAdapter(accServerID)
		if err != nil {
			return "", err
		}
		return adapter.ServerID(), nil
	})
}

// ORBID returns the runtime id of the hosting adapter
func (c *ServerRequestContext) ORBID() (string, error) {
	if err := c.check(accORBID); err != nil {
		return "", err
	}
	return memo(&c.requestContext, accORBID, func() (string, error) {
		adapter, err := c.requireAdapter(accORBID)
		if err != nil {
			return "", err
		}
		return adapter.ORBID(), nil
	})
}

// AdapterName returns the name path of the hosting adapter
func (c *ServerRequestContext) AdapterName() ([]string, error) {
	if err := c.check(accAdapterName); err != nil {
		return nil, err
	}
	return memo(&c.requestContext, accAdapterName, func() ([]string, error) {
		adapter, err := c.requireAdapter(accAdapterName)
		if err != nil {
			return nil, err
		}
		return adapter.AdapterName(), nil
	})
}

// TargetMostDerivedInterface returns the most derived repository id of the servant
func (c *ServerRequestContext) TargetMostDerivedInterface() (string, error) {
	if err := c.check(accTargetMostDerivedInterface); err != nil {
		return "", err
	}
	return memo(&c.requestContext, accTargetMostDerivedInterface, func() (string, error) {
		if c.servant == nil {
			return "", unavailable(accTargetMostDerivedInterface, "a located servant")
		}
		ids := c.servant.RepositoryIDs()
		if len(ids) == 0 {
			return "", unavailable(accTargetMostDerivedInterface, "servant repository ids")
		}
		return ids[0], nil
	})
}

// GetServerPolicy returns the adapter policy of the given type
func (c *ServerRequestContext) GetServerPolicy(policyType contracts.PolicyType) (contracts.Policy, error) {
	if err := c.check(accGetServerPolicy); err != nil {
		return nil, err
	}
	if c.adapter == nil {
		return nil, badPolicy(policyType)
	}
	policy, ok := c.adapter.EffectivePolicy(policyType)
	if !ok {
		return nil, badPolicy(policyType)
	}
	return policy, nil
}

// TargetIsA reports whether the servant supports the interface
func (c *ServerRequestContext) TargetIsA(repositoryID string) (bool, error) {
	if err := c.check(accTargetIsA); err != nil {
		return false, err
	}
	if c.servant == nil {
		return false, unavailable(accTargetIsA, "a located servant")
	}
	return slices.Contains(c.servant.RepositoryIDs(), repositoryID), nil
}

// AddReplyServiceContext adds a service context to the reply. Before the ending
// point the addition is queued; it is applied when the reply exists. An id that
// is already queued fails with BAD_INV_ORDER unless replace is set.
func (c *ServerRequestContext) AddReplyServiceContext(sc contracts.ServiceContext, replace bool) error {
	if err := c.check(accAddReplyServiceContext); err != nil {
		return err
	}
	queued := -1
	for i, q := range c.replyQueue {
		if q.sc.ID == sc.ID {
			queued = i
			break
		}
	}
	if queued >= 0 && !replace {
		return duplicateServiceContext(sc.ID)
	}
	if c.point == PointEnding && c.reply != nil {
		if err := c.applyReplyContext(sc, replace); err != nil {
			return err
		}
	}
	if queued >= 0 {
		c.replyQueue[queued] = queuedReplyContext{sc: sc, replace: replace}
		return nil
	}
	c.replyQueue = append(c.replyQueue, queuedReplyContext{sc: sc, replace: replace})
	return nil
}
