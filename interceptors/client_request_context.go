package interceptors

import (
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-orb/contracts"
)

// ClientRequestContext is the state of one outgoing invocation. It stays on the
// thread's client stack across retries of the same call.
type ClientRequestContext struct {
	requestContext

	retry       RetryType
	entryCount  int
	mediator    contracts.MessageMediator
	iterator    contracts.ContactInfoIterator
	dii         contracts.DynamicRequest
	diiInitiate bool
}

var _ ClientRequestInfo = (*ClientRequestContext)(nil)

func newClientRequestContext(slots *SlotTable, logger *slog.Logger) *ClientRequestContext {
	c := &ClientRequestContext{}
	c.init(slots, logger)
	return c
}

// reset clears the context for a retry. entryCount survives so the context is
// popped at the right depth.
func (c *ClientRequestContext) reset() {
	c.resetBase()
	c.retry = RetryNone
	c.mediator = nil
	c.iterator = nil
	c.dii = nil
	c.diiInitiate = false
}

func (c *ClientRequestContext) check(a accessor) error {
	return checkClientAccess(a, c.point, c.call)
}

func (c *ClientRequestContext) isOneWay() bool {
	return c.mediator != nil && c.mediator.IsOneWay()
}

func (c *ClientRequestContext) requireMediator(a accessor) (contracts.MessageMediator, error) {
	if c.mediator == nil {
		return nil, unavailable(a, "a bound request")
	}
	return c.mediator, nil
}

func (c *ClientRequestContext) contactInfo(a accessor) (contracts.ContactInfo, error) {
	m, err := c.requireMediator(a)
	if err != nil {
		return nil, err
	}
	info := m.ContactInfo()
	if info == nil {
		return nil, unavailable(a, "contact info")
	}
	return info, nil
}

func (c *ClientRequestContext) dynamic(a accessor) (contracts.DynamicRequest, error) {
	if c.dii == nil {
		return nil, unsupported(a)
	}
	return c.dii, nil
}

// reportRedirect hands the current forward target to the dispatch layer
func (c *ClientRequestContext) reportRedirect() {
	if c.iterator == nil || c.mediator == nil {
		return
	}
	if forward := c.forward.asAddress(); forward != nil {
		c.iterator.ReportRedirect(c.mediator.ContactInfo(), forward)
	}
}

// RequestID returns the wire request id
func (c *ClientRequestContext) RequestID() (uint32, error) {
	if err := c.check(accRequestID); err != nil {
		return 0, err
	}
	return memo(&c.requestContext, accRequestID, func() (uint32, error) {
		m, err := c.requireMediator(accRequestID)
		if err != nil {
			return 0, err
		}
		return m.RequestID(), nil
	})
}

// Operation returns the operation name
func (c *ClientRequestContext) Operation() (string, error) {
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

// Arguments returns the parameters of a dynamic invocation
func (c *ClientRequestContext) Arguments() ([]contracts.Parameter, error) {
	if err := c.check(accArguments); err != nil {
		return nil, err
	}
	return memo(&c.requestContext, accArguments, func() ([]contracts.Parameter, error) {
		req, err := c.dynamic(accArguments)
		if err != nil {
			return nil, err
		}
		return req.Arguments(), nil
	})
}

// Exceptions returns the user exceptions a dynamic invocation declares
func (c *ClientRequestContext) Exceptions() ([]string, error) {
	if err := c.check(accExceptions); err != nil {
		return nil, err
	}
	return memo(&c.requestContext, accExceptions, func() ([]string, error) {
		req, err := c.dynamic(accExceptions)
		if err != nil {
			return nil, err
		}
		return req.Exceptions(), nil
	})
}

// Contexts returns the context names a dynamic invocation carries
func (c *ClientRequestContext) Contexts() ([]string, error) {
	if err := c.check(accContexts); err != nil {
		return nil, err
	}
	return memo(&c.requestContext, accContexts, func() ([]string, error) {
		req, err := c.dynamic(accContexts)
		if err != nil {
			return nil, err
		}
		return req.Contexts(), nil
	})
}

// OperationContext returns the context values a dynamic invocation carries
func (c *ClientRequestContext) OperationContext() ([]string, error) {
	if err := c.check(accOperationContext); err != nil {
		return nil, err
	}
	return memo(&c.requestContext, accOperationContext, func() ([]string, error) {
		req, err := c.dynamic(accOperationContext)
		if err != nil {
			return nil, err
		}
		return req.OperationContext(), nil
	})
}

// Result returns the result of a dynamic invocation
func (c *ClientRequestContext) Result() (any, error) {
	if err := c.check(accResult); err != nil {
		return nil, err
	}
	return memo(&c.requestContext, accResult, func() (any, error) {
		req, err := c.dynamic(accResult)
		if err != nil {
			return nil, err
		}
		return req.Result(), nil
	})
}

// ResponseExpected reports whether the call is two-way
func (c *ClientRequestContext) ResponseExpected() (bool, error) {
	if err := c.check(accResponseExpected); err != nil {
		return false, err
	}
	return !c.isOneWay(), nil
}

// SyncScope returns the one-way synchronisation scope
func (c *ClientRequestContext) SyncScope() (SyncScope, error) {
	if err := c.check(accSyncScope); err != nil {
		return SyncNone, err
	}
	return SyncWithTransport, nil
}

// ReplyStatus returns the current outcome
func (c *ClientRequestContext) ReplyStatus() (ReplyStatus, error) {
	if err := c.check(accReplyStatus); err != nil {
		return StatusUninitialized, err
	}
	return c.replyStatus, nil
}

// ForwardReference returns the redirect target
func (c *ClientRequestContext) ForwardReference() (*contracts.IOR, error) {
	if err := c.check(accForwardReference); err != nil {
		return nil, err
	}
	return c.forwardReference()
}

// GetSlot returns a slot of the request-scope table
func (c *ClientRequestContext) GetSlot(id int) (any, error) {
	if err := c.check(accGetSlot); err != nil {
		return nil, err
	}
	return c.slots.Get(id)
}

// GetRequestServiceContext returns a service context of the request
func (c *ClientRequestContext) GetRequestServiceContext(id contracts.ServiceContextID) (contracts.ServiceContext, error) {
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
func (c *ClientRequestContext) GetReplyServiceContext(id contracts.ServiceContextID) (contracts.ServiceContext, error) {
	if err := c.check(accGetReplyServiceContext); err != nil {
		return contracts.ServiceContext{}, err
	}
	m, err := c.requireMediator(accGetReplyServiceContext)
	if err != nil {
		return contracts.ServiceContext{}, err
	}
	return lookupServiceContext(&c.replyContexts, m.ReplyServiceContexts(), id)
}

// Target returns the reference the client invoked
func (c *ClientRequestContext) Target() (*contracts.IOR, error) {
	if err := c.check(accTarget); err != nil {
		return nil, err
	}
	return memo(&c.requestContext, accTarget, func() (*contracts.IOR, error) {
		info, err := c.contactInfo(accTarget)
		if err != nil {
			return nil, err
		}
		return info.Target(), nil
	})
}

// EffectiveTarget returns the reference the request was actually sent to
func (c *ClientRequestContext) EffectiveTarget() (*contracts.IOR, error) {
	if err := c.check(accEffectiveTarget); err != nil {
		return nil, err
	}
	return memo(&c.requestContext, accEffectiveTarget, func() (*contracts.IOR, error) {
		info, err := c.contactInfo(accEffectiveTarget)
		if err != nil {
			return nil, err
		}
		return info.EffectiveTarget(), nil
	})
}

// EffectiveProfile returns the profile the request was sent through
func (c *ClientRequestContext) EffectiveProfile() (*contracts.Profile, error) {
	if err := c.check(accEffectiveProfile); err != nil {
		return nil, err
	}
	return memo(&c.requestContext, accEffectiveProfile, func() (*contracts.Profile, error) {
		info, err := c.contactInfo(accEffectiveProfile)
		if err != nil {
			return nil, err
		}
		profile := info.EffectiveProfile()
		if profile == nil {
			return nil, unavailable(accEffectiveProfile, "an effective profile")
		}
		return profile, nil
	})
}

// ReceivedException returns the exception being delivered to the client
func (c *ClientRequestContext) ReceivedException() (error, error) {
	if err := c.check(accReceivedException); err != nil {
		return nil, err
	}
	return c.currentException(accReceivedException)
}

// ReceivedExceptionID returns the repository id of the received exception
func (c *ClientRequestContext) ReceivedExceptionID() (string, error) {
	if err := c.check(accReceivedExceptionID); err != nil {
		return "", err
	}
	return c.currentExceptionID()
}

// GetEffectiveComponent returns the first component with the id in the effective profile
func (c *ClientRequestContext) GetEffectiveComponent(id contracts.ComponentID) (contracts.TaggedComponent, error) {
	if err := c.check(accGetEffectiveComponent); err != nil {
		return contracts.TaggedComponent{}, err
	}
	profile, err := c.EffectiveProfile()
	if err != nil {
		return contracts.TaggedComponent{}, err
	}
	component, ok := profile.Component(id)
	if !ok {
		return contracts.TaggedComponent{}, fmt.Errorf("%w: %d", ErrInvalidComponent, id)
	}
	return component, nil
}

// GetEffectiveComponents returns all components with the id in the effective profile
func (c *ClientRequestContext) GetEffectiveComponents(id contracts.ComponentID) ([]contracts.TaggedComponent, error) {
	if err := c.check(accGetEffectiveComponents); err != nil {
		return nil, err
	}
	profile, err := c.EffectiveProfile()
	if err != nil {
		return nil, err
	}
	components := profile.ComponentsByID(id)
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidComponent, id)
	}
	return components, nil
}

// GetRequestPolicy returns the client policy override of the given type
func (c *ClientRequestContext) GetRequestPolicy(policyType contracts.PolicyType) (contracts.Policy, error) {
	if err := c.check(accGetRequestPolicy); err != nil {
		return nil, err
	}
	if policies, ok := c.mediator.(contracts.RequestPolicies); ok {
		if policy, found := policies.RequestPolicy(policyType); found {
			return policy, nil
		}
	}
	return nil, badPolicy(policyType)
}

// AddRequestServiceContext adds a service context to the outgoing request
func (c *ClientRequestContext) AddRequestServiceContext(sc contracts.ServiceContext, replace bool) error {
	if err := c.check(accAddRequestServiceContext); err != nil {
		return err
	}
	m, err := c.requireMediator(accAddRequestServiceContext)
	if err != nil {
		return err
	}
	container := m.RequestServiceContexts()
	if container == nil {
		return unavailable(accAddRequestServiceContext, "a request service context container")
	}
	return addServiceContext(&c.requestContexts, container, sc, replace)
}
