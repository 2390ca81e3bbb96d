// Package orb is the object runtime that drives the interception pipeline.
//
// An ORB owns an interceptors.Handler and calls it at the fixed points of
// every invocation. On the client side Invoke runs
//
//	initiate -> send request -> transport -> receive reply/exception/other -> cleanup
//
// once per attempt and re-sends under a reliability.RetryPolicy when the
// pipeline asks for a remarshal, following location forwards on the way. On
// the server side Dispatch runs
//
//	receive request service contexts -> servant lookup -> receive request ->
//	servant -> send reply/exception/other
//
// and rebuilds the reply when an ending interceptor replaces the outcome.
//
// Servants are activated on an ObjectAdapter, which returns the object
// reference clients invoke. The references carry the tagged components the IOR
// interceptors established when the adapter was created:
//
//	o, _ := orb.New(orb.WithInterceptors(interceptors.NewLoggingInterceptor(logger)))
//	adapter, _ := o.CreateAdapter(ctx, "echo", nil)
//	_ = adapter.Manager().Activate(ctx)
//
//	skeleton := o.NewSkeleton("IDL:demo/Echo:1.0")
//	orb.HandleFunc(skeleton, "echo", func(ctx context.Context, in string) (string, error) {
//		return in, nil
//	})
//	ref, _ := adapter.Activate(skeleton)
//
//	out, err := orb.Call[string](ctx, o, ref, "echo", "hello")
//
// Without a transport an ORB talks to itself through a Loopback network.
package orb
