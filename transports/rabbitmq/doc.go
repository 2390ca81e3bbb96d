// Package rabbitmq carries ORB requests and replies over RabbitMQ.
//
// A Server consumes the request queue bound to its ORB's address on a direct
// exchange. A client Transport publishes each request with the effective
// profile address as routing key, its service contexts in a nested header
// table and a correlation id, and waits for the reply on its own reply queue.
// Both talk to RabbitMQ through a Broker; AMQPBroker is the production one.
package rabbitmq
