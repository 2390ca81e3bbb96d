// Package reliability holds the client-side failure handling of the ORB.
//
// Retry policies decide whether an invocation attempt is re-sent. A
// *interceptors.RemarshalError (an interceptor redirect or a location forward
// reply) is always re-sent without delay while the budget lasts. System
// exceptions are re-sent only when they are TRANSIENT or COMM_FAILURE and
// completed NO, so an operation is never executed twice.
//
// Circuit breakers stop sending to an endpoint after repeated communication
// failures. Transports keep one breaker per endpoint in a Breakers group.
//
//	policy := reliability.NewExponentialBackoff(50*time.Millisecond, 2*time.Second, 2.0, 5)
//	err := reliability.Retry(ctx, "echo", policy, func(attempt int) error {
//	    return invokeOnce(ctx)
//	})
package reliability
