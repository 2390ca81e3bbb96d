// Package interceptors provides the portable interception pipeline of the runtime.
//
// Interceptors observe and modify remote invocations at fixed points:
//   - client: SendRequest, then one of ReceiveReply, ReceiveException or ReceiveOther
//   - server: ReceiveRequestServiceContexts, ReceiveRequest, then one of SendReply,
//     SendException or SendOther
//   - IOR: EstablishComponents when an object adapter is created
//
// The runtime drives the pipeline through a Handler built by Bootstrap. Per call
// chain state lives in a Thread carried by the context.Context passed to every
// Handler method:
//
//	h := interceptors.Bootstrap(
//		interceptors.WithLogger(logger),
//		interceptors.WithInitializers(
//			interceptors.BothSides(interceptors.NewLoggingInterceptor(logger)),
//			interceptors.NewTracingInterceptor(nil, nil),
//		),
//	)
//
//	ctx, release := interceptors.Claim(ctx)
//	defer release()
//	_ = h.InitiateClientRequest(ctx, false)
//	defer h.CleanupClientRequest(ctx)
//	_ = h.SetClientRequestInfo(ctx, mediator, iterator)
//	if err := h.InvokeClientStarting(ctx); err != nil {
//		return err
//	}
//	status, err := transport.Send(ctx, mediator)
//	return h.InvokeClientEnding(ctx, status, err)
//
// Interceptors end an invocation by returning an error. A *ForwardRequest
// redirects it, a *contracts.SystemException fails it and any other error fails
// it as UNKNOWN. Ending points run only for the interceptors whose starting
// point completed, in reverse order.
//
// The Handler reports a re-send with *RemarshalError and a server redirect with
// *ForwardError.
package interceptors
