// Package rabbitmq is the AMQP plumbing under the broker transport.
//
// ConnectionManager owns one connection and re-dials it with exponential
// backoff after the broker closes it, notifying ConnectionStateListeners.
// ChannelPool hands out channels of that connection. Publisher publishes with
// publisher confirms and retries channel failures. Consumer runs handlers for
// subscribed queues with bounded concurrency. TopologyManager declares the
// exchanges, queues and bindings an endpoint needs.
package rabbitmq
