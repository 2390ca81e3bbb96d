package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/glimte/mmate-orb/contracts"
)

type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomeRedirect
	outcomeFailed
)

// outcome is what one interceptor call means for the invocation
type outcome struct {
	kind    outcomeKind
	forward *ForwardRequest
	failure *contracts.SystemException
}

// classify turns the error an interceptor returned into an outcome. Errors that
// are neither a redirect nor a system exception fail the call as UNKNOWN.
func classify(err error) outcome {
	if err == nil {
		return outcome{kind: outcomeContinue}
	}
	var fr *ForwardRequest
	if errors.As(err, &fr) {
		return outcome{kind: outcomeRedirect, forward: fr}
	}
	var sysErr *contracts.SystemException
	if errors.As(err, &sysErr) {
		return outcome{kind: outcomeFailed, failure: sysErr}
	}
	return outcome{kind: outcomeFailed, failure: contracts.WrapSystemException(contracts.Unknown, contracts.CompletedMaybe, err)}
}

// invoker runs the interceptor lists for each interception point
type invoker struct {
	registry  *Registry
	slotCount func() int
	enabled   atomic.Bool
	logger    *slog.Logger
}

func newInvoker(registry *Registry, slotCount func() int, logger *slog.Logger) *invoker {
	return &invoker{registry: registry, slotCount: slotCount, logger: logger}
}

// safeCall runs one interceptor callback, turning a panic into an error
func safeCall(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interceptor %q panicked: %v", name, r)
		}
	}()
	return fn()
}

// scope pushes a fresh thread-scope slot table for one pass. Out-calls made by
// interceptors during the pass cannot leak slot writes into the caller.
func (inv *invoker) scope(t *Thread) func() {
	t.slots.pushFresh(inv.slotCount())
	return t.slots.pop
}

func (inv *invoker) clientStarting(ctx context.Context, t *Thread, info *ClientRequestContext) {
	if !inv.enabled.Load() {
		return
	}
	defer inv.scope(t)()

	info.point = PointStarting
	clients := inv.registry.Clients()

	index := 0
	for ; index < len(clients); index++ {
		i := clients[index]
		out := classify(safeCall(i.Name(), func() error { return i.SendRequest(ctx, info) }))
		if out.kind == outcomeContinue {
			continue
		}
		inv.logger.Debug("client interceptor ended starting point",
			"interceptor", i.Name(),
			"index", index,
			"redirect", out.kind == outcomeRedirect,
		)
		if out.kind == outcomeRedirect {
			info.redirect(out.forward)
			info.reportRedirect()
		} else {
			info.fail(out.failure)
		}
		break
	}

	info.flowStackIndex = index
}

func (inv *invoker) clientEnding(ctx context.Context, t *Thread, info *ClientRequestContext) {
	if !inv.enabled.Load() {
		return
	}
	defer inv.scope(t)()

	info.point = PointEnding
	if info.call == callReply && info.isOneWay() {
		info.call = callOther
	}

	clients := inv.registry.Clients()
	for index := info.flowStackIndex - 1; index >= 0; index-- {
		i := clients[index]
		var err error
		switch info.call {
		case callReply:
			err = safeCall(i.Name(), func() error { return i.ReceiveReply(ctx, info) })
		case callException:
			err = safeCall(i.Name(), func() error { return i.ReceiveException(ctx, info) })
		default:
			err = safeCall(i.Name(), func() error { return i.ReceiveOther(ctx, info) })
		}

		switch out := classify(err); out.kind {
		case outcomeRedirect:
			info.redirect(out.forward)
			info.reportRedirect()
		case outcomeFailed:
			info.fail(out.failure)
		}
	}
}

func (inv *invoker) serverStarting(ctx context.Context, t *Thread, info *ServerRequestContext) {
	if !inv.enabled.Load() {
		return
	}
	defer inv.scope(t)()

	info.setPoint(PointStarting)
	servers := inv.registry.Servers()

	index := 0
	for ; index < len(servers); index++ {
		i := servers[index]
		out := classify(safeCall(i.Name(), func() error { return i.ReceiveRequestServiceContexts(ctx, info) }))
		if out.kind == outcomeContinue {
			continue
		}
		inv.logger.Debug("server interceptor ended starting point",
			"interceptor", i.Name(),
			"index", index,
			"redirect", out.kind == outcomeRedirect,
		)
		info.intermediateNone = true
		if out.kind == outcomeRedirect {
			info.redirect(out.forward)
		} else {
			info.fail(out.failure)
		}
		break
	}

	info.flowStackIndex = index
}

func (inv *invoker) serverIntermediate(ctx context.Context, t *Thread, info *ServerRequestContext) {
	if !inv.enabled.Load() || info.intermediateNone {
		return
	}
	defer inv.scope(t)()

	info.setPoint(PointIntermediate)
	for _, i := range inv.registry.Servers() {
		out := classify(safeCall(i.Name(), func() error { return i.ReceiveRequest(ctx, info) }))
		if out.kind == outcomeContinue {
			continue
		}
		if out.kind == outcomeRedirect {
			info.redirect(out.forward)
		} else {
			info.fail(out.failure)
		}
		break
	}
}

func (inv *invoker) serverEnding(ctx context.Context, t *Thread, info *ServerRequestContext) {
	if !inv.enabled.Load() {
		return
	}
	defer inv.scope(t)()

	servers := inv.registry.Servers()
	for index := info.flowStackIndex - 1; index >= 0; index-- {
		i := servers[index]
		var err error
		switch info.call {
		case callReply:
			err = safeCall(i.Name(), func() error { return i.SendReply(ctx, info) })
		case callException:
			err = safeCall(i.Name(), func() error { return i.SendException(ctx, info) })
		default:
			err = safeCall(i.Name(), func() error { return i.SendOther(ctx, info) })
		}

		switch out := classify(err); out.kind {
		case outcomeRedirect:
			info.redirect(out.forward)
			info.forwardRaisedInEnding = true
		case outcomeFailed:
			info.fail(out.failure)
		}
	}

	info.alreadyExecuted = true
}

// objectAdapterCreated runs the IOR interceptors in reverse order. Errors from
// EstablishComponents are discarded; errors from ComponentsEstablished fail the
// adapter.
func (inv *invoker) objectAdapterCreated(ctx context.Context, info *iorInfo) error {
	if !inv.enabled.Load() {
		return nil
	}

	iors := inv.registry.IORs()
	for index := len(iors) - 1; index >= 0; index-- {
		i := iors[index]
		if err := safeCall(i.Name(), func() error { return i.EstablishComponents(ctx, info) }); err != nil {
			inv.logger.Debug("ignoring establish components failure",
				"interceptor", i.Name(),
				"error", err,
			)
		}
	}

	info.state = iorInfoEstablished

	for index := len(iors) - 1; index >= 0; index-- {
		observer, ok := iors[index].(AdapterObserver)
		if !ok {
			continue
		}
		if err := safeCall(observer.Name(), func() error { return observer.ComponentsEstablished(ctx, info) }); err != nil {
			info.state = iorInfoDone
			return fmt.Errorf("%w: %s: %v", ErrObjectAdapter, observer.Name(), err)
		}
	}

	info.state = iorInfoDone
	return nil
}

func (inv *invoker) adapterManagerStateChanged(ctx context.Context, managerID int, state contracts.AdapterState) {
	if !inv.enabled.Load() {
		return
	}

	iors := inv.registry.IORs()
	for index := len(iors) - 1; index >= 0; index-- {
		observer, ok := iors[index].(AdapterObserver)
		if !ok {
			continue
		}
		err := safeCall(observer.Name(), func() error {
			return observer.AdapterManagerStateChanged(ctx, managerID, state)
		})
		if err != nil {
			inv.logger.Debug("ignoring adapter manager state notification failure",
				"interceptor", observer.Name(),
				"managerId", managerID,
				"error", err,
			)
		}
	}
}

func (inv *invoker) adapterStateChanged(ctx context.Context, adapters []contracts.ObjectAdapter, state contracts.AdapterState) {
	if !inv.enabled.Load() {
		return
	}

	iors := inv.registry.IORs()
	for index := len(iors) - 1; index >= 0; index-- {
		observer, ok := iors[index].(AdapterObserver)
		if !ok {
			continue
		}
		err := safeCall(observer.Name(), func() error {
			return observer.AdapterStateChanged(ctx, adapters, state)
		})
		if err != nil {
			inv.logger.Debug("ignoring adapter state notification failure",
				"interceptor", observer.Name(),
				"error", err,
			)
		}
	}
}
