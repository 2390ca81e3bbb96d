package contracts

// Connection is the transport connection a request travels on
type Connection interface {
	// RemoteAddress returns the peer address
	RemoteAddress() string
}

// ContactInfo describes the target a client request was sent to
type ContactInfo interface {
	// Target returns the reference the client invoked
	Target() *IOR
	// EffectiveTarget returns the reference actually used, after any redirects
	EffectiveTarget() *IOR
	// EffectiveProfile returns the profile the request was sent through
	EffectiveProfile() *Profile
}

// ContactInfoIterator is the client dispatch collaborator that resolves redirects
type ContactInfoIterator interface {
	// ReportRedirect makes subsequent retries target the forward reference
	ReportRedirect(primary ContactInfo, forward *IOR)
}

// MessageMediator exposes one in-flight request to the interception pipeline.
// The pipeline never builds wire messages itself.
type MessageMediator interface {
	Operation() string
	RequestID() uint32
	IsOneWay() bool
	Connection() Connection
	ContactInfo() ContactInfo
	// RequestServiceContexts returns the container of the request message
	RequestServiceContexts() *ServiceContexts
	// ReplyServiceContexts returns the container of the reply message, nil before a reply exists
	ReplyServiceContexts() *ServiceContexts
	// ForwardedIOR returns the forward reference of a LocationForward reply
	ForwardedIOR() *IOR
}

// RequestPolicies is implemented by mediators that carry client-side policy overrides
type RequestPolicies interface {
	RequestPolicy(policyType PolicyType) (Policy, bool)
}
