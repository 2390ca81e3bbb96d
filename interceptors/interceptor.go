package interceptors

import (
	"context"

	"github.com/glimte/mmate-orb/contracts"
)

// Interceptor is the common part of every interceptor kind
type Interceptor interface {
	// Name returns the interceptor name. Anonymous interceptors return "".
	Name() string
}

// Ordered interceptors run before lower priorities. Interceptors without a
// priority count as 0; ties keep registration order.
type Ordered interface {
	Priority() int
}

// Destroyer is implemented by interceptors that release resources on shutdown
type Destroyer interface {
	Destroy()
}

// RequestInfo is the view of an invocation shared by client and server interceptors.
// Every accessor fails with ErrOrderingViolation outside its valid points.
type RequestInfo interface {
	RequestID() (uint32, error)
	Operation() (string, error)
	Arguments() ([]contracts.Parameter, error)
	Exceptions() ([]string, error)
	Contexts() ([]string, error)
	OperationContext() ([]string, error)
	Result() (any, error)
	ResponseExpected() (bool, error)
	SyncScope() (SyncScope, error)
	ReplyStatus() (ReplyStatus, error)
	ForwardReference() (*contracts.IOR, error)
	GetSlot(id int) (any, error)
	GetRequestServiceContext(id contracts.ServiceContextID) (contracts.ServiceContext, error)
	GetReplyServiceContext(id contracts.ServiceContextID) (contracts.ServiceContext, error)
}

// ClientRequestInfo is the view client interceptors get
type ClientRequestInfo interface {
	RequestInfo
	Target() (*contracts.IOR, error)
	EffectiveTarget() (*contracts.IOR, error)
	EffectiveProfile() (*contracts.Profile, error)
	ReceivedException() (error, error)
	ReceivedExceptionID() (string, error)
	GetEffectiveComponent(id contracts.ComponentID) (contracts.TaggedComponent, error)
	GetEffectiveComponents(id contracts.ComponentID) ([]contracts.TaggedComponent, error)
	GetRequestPolicy(policyType contracts.PolicyType) (contracts.Policy, error)
	AddRequestServiceContext(sc contracts.ServiceContext, replace bool) error
}

// ServerRequestInfo is the view server interceptors get
type ServerRequestInfo interface {
	RequestInfo
	SetSlot(id int, value any) error
	SendingException() (error, error)
	ObjectID() ([]byte, error)
	AdapterID() ([]byte, error)
	ServerID() (string, error)
	ORBID() (string, error)
	AdapterName() ([]string, error)
	TargetMostDerivedInterface() (string, error)
	GetServerPolicy(policyType contracts.PolicyType) (contracts.Policy, error)
	TargetIsA(repositoryID string) (bool, error)
	AddReplyServiceContext(sc contracts.ServiceContext, replace bool) error
}

// ClientRequestInterceptor observes outgoing requests. Returning a *ForwardRequest
// redirects the call, returning a *contracts.SystemException fails it; any other
// error fails it as UNKNOWN.
type ClientRequestInterceptor interface {
	Interceptor
	SendRequest(ctx context.Context, info ClientRequestInfo) error
	ReceiveReply(ctx context.Context, info ClientRequestInfo) error
	ReceiveException(ctx context.Context, info ClientRequestInfo) error
	ReceiveOther(ctx context.Context, info ClientRequestInfo) error
}

// ServerRequestInterceptor observes incoming requests, with the same error
// conventions as ClientRequestInterceptor
type ServerRequestInterceptor interface {
	Interceptor
	ReceiveRequestServiceContexts(ctx context.Context, info ServerRequestInfo) error
	ReceiveRequest(ctx context.Context, info ServerRequestInfo) error
	SendReply(ctx context.Context, info ServerRequestInfo) error
	SendException(ctx context.Context, info ServerRequestInfo) error
	SendOther(ctx context.Context, info ServerRequestInfo) error
}

// IORInterceptor adds tagged components to the references an adapter creates.
// Errors from EstablishComponents are ignored.
type IORInterceptor interface {
	Interceptor
	EstablishComponents(ctx context.Context, info IORInfo) error
}

// AdapterObserver is an IORInterceptor that also follows adapter state. Errors
// from ComponentsEstablished fail adapter creation; state change errors are ignored.
type AdapterObserver interface {
	IORInterceptor
	ComponentsEstablished(ctx context.Context, info IORInfo) error
	AdapterManagerStateChanged(ctx context.Context, managerID int, state contracts.AdapterState) error
	AdapterStateChanged(ctx context.Context, adapters []contracts.ObjectAdapter, state contracts.AdapterState) error
}

// ClientInterceptorFuncs is a function adapter for ClientRequestInterceptor.
// Nil functions do nothing.
type ClientInterceptorFuncs struct {
	InterceptorName    string
	OnSendRequest      func(ctx context.Context, info ClientRequestInfo) error
	OnReceiveReply     func(ctx context.Context, info ClientRequestInfo) error
	OnReceiveException func(ctx context.Context, info ClientRequestInfo) error
	OnReceiveOther     func(ctx context.Context, info ClientRequestInfo) error
}

// Name implements Interceptor
func (f *ClientInterceptorFuncs) Name() string {
	return f.InterceptorName
}

// SendRequest implements ClientRequestInterceptor
func (f *ClientInterceptorFuncs) SendRequest(ctx context.Context, info ClientRequestInfo) error {
	return callClient(f.OnSendRequest, ctx, info)
}

// ReceiveReply implements ClientRequestInterceptor
func (f *ClientInterceptorFuncs) ReceiveReply(ctx context.Context, info ClientRequestInfo) error {
	return callClient(f.OnReceiveReply, ctx, info)
}

// ReceiveException implements ClientRequestInterceptor
func (f *ClientInterceptorFuncs) ReceiveException(ctx context.Context, info ClientRequestInfo) error {
	return callClient(f.OnReceiveException, ctx, info)
}

// ReceiveOther implements ClientRequestInterceptor
func (f *ClientInterceptorFuncs) ReceiveOther(ctx context.Context, info ClientRequestInfo) error {
	return callClient(f.OnReceiveOther, ctx, info)
}

func callClient(fn func(context.Context, ClientRequestInfo) error, ctx context.Context, info ClientRequestInfo) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, info)
}

// ServerInterceptorFuncs is a function adapter for ServerRequestInterceptor.
// Nil functions do nothing.
type ServerInterceptorFuncs struct {
	InterceptorName                 string
	OnReceiveRequestServiceContexts func(ctx context.Context, info ServerRequestInfo) error
	OnReceiveRequest                func(ctx context.Context, info ServerRequestInfo) error
	OnSendReply                     func(ctx context.Context, info ServerRequestInfo) error
	OnSendException                 func(ctx context.Context, info ServerRequestInfo) error
	OnSendOther                     func(ctx context.Context, info ServerRequestInfo) error
}

// Name implements Interceptor
func (f *ServerInterceptorFuncs) Name() string {
	return f.InterceptorName
}

// ReceiveRequestServiceContexts implements ServerRequestInterceptor
func (f *ServerInterceptorFuncs) ReceiveRequestServiceContexts(ctx context.Context, info ServerRequestInfo) error {
	return callServer(f.OnReceiveRequestServiceContexts, ctx, info)
}

// ReceiveRequest implements ServerRequestInterceptor
func (f *ServerInterceptorFuncs) ReceiveRequest(ctx context.Context, info ServerRequestInfo) error {
	return callServer(f.OnReceiveRequest, ctx, info)
}

// SendReply implements ServerRequestInterceptor
func (f *ServerInterceptorFuncs) SendReply(ctx context.Context, info ServerRequestInfo) error {
	return callServer(f.OnSendReply, ctx, info)
}

// SendException implements ServerRequestInterceptor
func (f *ServerInterceptorFuncs) SendException(ctx context.Context, info ServerRequestInfo) error {
	return callServer(f.OnSendException, ctx, info)
}

// SendOther implements ServerRequestInterceptor
func (f *ServerInterceptorFuncs) SendOther(ctx context.Context, info ServerRequestInfo) error {
	return callServer(f.OnSendOther, ctx, info)
}

func callServer(fn func(context.Context, ServerRequestInfo) error, ctx context.Context, info ServerRequestInfo) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, info)
}

// IORInterceptorFunc adapts a function to IORInterceptor
type IORInterceptorFunc struct {
	name string
	fn   func(ctx context.Context, info IORInfo) error
}

// NewIORInterceptorFunc creates a new function-based IOR interceptor
func NewIORInterceptorFunc(name string, fn func(ctx context.Context, info IORInfo) error) *IORInterceptorFunc {
	return &IORInterceptorFunc{name: name, fn: fn}
}

// Name implements Interceptor
func (i *IORInterceptorFunc) Name() string {
	return i.name
}

// EstablishComponents implements IORInterceptor
func (i *IORInterceptorFunc) EstablishComponents(ctx context.Context, info IORInfo) error {
	return i.fn(ctx, info)
}
