package orb

import (
	"sync"

	"github.com/glimte/mmate-orb/contracts"
)

// Request is one request as seen by a transport and the interception pipeline.
// It implements contracts.MessageMediator for both sides.
type Request struct {
	id        uint32
	operation string
	oneWay    bool
	objectKey []byte
	body      []byte

	contact  *contactInfo
	conn     contracts.Connection
	contexts *contracts.ServiceContexts
	policies policySet

	mu    sync.RWMutex
	reply *contracts.ReplyMessage
}

// Operation implements contracts.MessageMediator
func (r *Request) Operation() string { return r.operation }

// RequestID implements contracts.MessageMediator
func (r *Request) RequestID() uint32 { return r.id }

// IsOneWay implements contracts.MessageMediator
func (r *Request) IsOneWay() bool { return r.oneWay }

// Connection implements contracts.MessageMediator
func (r *Request) Connection() contracts.Connection { return r.conn }

// ContactInfo implements contracts.MessageMediator. It is nil on the server side.
func (r *Request) ContactInfo() contracts.ContactInfo {
	if r.contact == nil {
		return nil
	}
	return r.contact
}

// RequestServiceContexts implements contracts.MessageMediator
func (r *Request) RequestServiceContexts() *contracts.ServiceContexts { return r.contexts }

// ReplyServiceContexts implements contracts.MessageMediator
func (r *Request) ReplyServiceContexts() *contracts.ServiceContexts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reply == nil {
		return nil
	}
	return r.reply.ServiceContexts
}

// ForwardedIOR implements contracts.MessageMediator
func (r *Request) ForwardedIOR() *contracts.IOR {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reply == nil {
		return nil
	}
	switch r.reply.Status {
	case contracts.LocationForwardReply, contracts.LocationForwardPermReply:
		return r.reply.IOR
	}
	return nil
}

// RequestPolicy implements contracts.RequestPolicies
func (r *Request) RequestPolicy(policyType contracts.PolicyType) (contracts.Policy, bool) {
	p, ok := r.policies[policyType]
	return p, ok
}

// ObjectKey returns the key of the target object
func (r *Request) ObjectKey() []byte { return r.objectKey }

// Body returns the encoded arguments
func (r *Request) Body() []byte { return r.body }

// Profile returns the profile the request is sent through, nil on the server side
func (r *Request) Profile() *contracts.Profile {
	if r.contact == nil {
		return nil
	}
	return r.contact.profile
}

func (r *Request) setReply(reply *contracts.ReplyMessage) {
	r.mu.Lock()
	r.reply = reply
	r.mu.Unlock()
}

// contactInfo is the client view of where one attempt was sent
type contactInfo struct {
	target    *contracts.IOR
	effective *contracts.IOR
	profile   *contracts.Profile
}

func (c *contactInfo) Target() *contracts.IOR              { return c.target }
func (c *contactInfo) EffectiveTarget() *contracts.IOR     { return c.effective }
func (c *contactInfo) EffectiveProfile() *contracts.Profile { return c.profile }

// contactIterator tracks the effective target of one invocation across redirects
type contactIterator struct {
	mu        sync.Mutex
	target    *contracts.IOR
	effective *contracts.IOR
	redirects int
}

func newContactIterator(target *contracts.IOR) *contactIterator {
	return &contactIterator{target: target, effective: target}
}

// ReportRedirect implements contracts.ContactInfoIterator
func (it *contactIterator) ReportRedirect(_ contracts.ContactInfo, forward *contracts.IOR) {
	if forward.IsNil() {
		return
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.effective.Equal(forward) {
		return
	}
	it.effective = forward
	it.redirects++
}

// next returns the contact info of the next attempt
func (it *contactIterator) next() *contactInfo {
	it.mu.Lock()
	defer it.mu.Unlock()
	profile, _ := it.effective.PrimaryProfile()
	copied := *profile
	return &contactInfo{target: it.target, effective: it.effective, profile: &copied}
}

func (it *contactIterator) redirectCount() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.redirects
}

type remoteAddress string

func (a remoteAddress) RemoteAddress() string { return string(a) }
