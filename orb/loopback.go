package orb

import (
	"context"
	"fmt"
	"sync"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/interceptors"
)

// Loopback is an in-process network. Requests are dispatched on the caller's
// goroutine by the ORB listening on the profile address, with their service
// contexts copied as if they had crossed the wire.
type Loopback struct {
	mu        sync.RWMutex
	endpoints map[string]*ORB
}

// NewLoopback creates an empty loopback network
func NewLoopback() *Loopback {
	return &Loopback{endpoints: make(map[string]*ORB)}
}

// Listen makes o reachable at its address
func (l *Loopback) Listen(o *ORB) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.endpoints[o.Address()] = o
}

// Unlisten removes o from the network
func (l *Loopback) Unlisten(o *ORB) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.endpoints[o.Address()] == o {
		delete(l.endpoints, o.Address())
	}
}

// Send implements Transport
func (l *Loopback) Send(ctx context.Context, req *Request) (*contracts.ReplyMessage, error) {
	profile := req.Profile()
	if profile == nil {
		return nil, contracts.NewSystemException(contracts.Internal, 0, contracts.CompletedNo)
	}

	l.mu.RLock()
	server, ok := l.endpoints[profile.Address()]
	l.mu.RUnlock()
	if !ok {
		return nil, contracts.WrapSystemException(contracts.CommFailure, contracts.CompletedNo,
			fmt.Errorf("%w: %s", ErrNoEndpoint, profile.Address()))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// the server side runs on its own interception thread
	serverCtx := interceptors.WithThread(ctx, interceptors.NewThread())
	reply := server.Dispatch(serverCtx, Incoming{
		RequestID:       req.RequestID(),
		Operation:       req.Operation(),
		ObjectKey:       req.ObjectKey(),
		Body:            req.Body(),
		OneWay:          req.IsOneWay(),
		ServiceContexts: copyContexts(req.RequestServiceContexts()),
		RemoteAddress:   "loopback",
	})
	if reply == nil {
		return nil, nil
	}

	copied := *reply
	copied.ServiceContexts = copyContexts(reply.ServiceContexts)
	return &copied, nil
}

func copyContexts(src *contracts.ServiceContexts) *contracts.ServiceContexts {
	dst := contracts.NewServiceContexts()
	if src == nil {
		return dst
	}
	for _, sc := range src.All() {
		dst.Put(contracts.ServiceContext{ID: sc.ID, Data: append([]byte(nil), sc.Data...)})
	}
	return dst
}
