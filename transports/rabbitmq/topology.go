package rabbitmq

import (
	"github.com/glimte/mmate-orb/internal/rabbitmq"
)

// Topology defaults
const (
	DefaultExchange      = "orb"
	DefaultRequestPrefix = "orb.requests"
	DefaultReplyPrefix   = "orb.replies"
)

// RequestQueue returns the request queue of the endpoint at address
func RequestQueue(prefix, address string) string {
	return prefix + "." + address
}

// ReplyQueue returns the reply queue of the ORB with the given id
func ReplyQueue(prefix, orbID string) string {
	return prefix + "." + orbID
}

// EndpointTopology declares the request exchange and the request queue of an
// endpoint, bound by the endpoint address. Profiles carry that address, so a
// client routes a request by its effective profile alone.
func EndpointTopology(exchange, queue, address string) rabbitmq.Topology {
	return rabbitmq.Topology{
		Exchanges: []rabbitmq.ExchangeDeclaration{
			{Name: exchange, Type: "direct", Durable: true},
		},
		Queues: []rabbitmq.QueueDeclaration{
			{Name: queue, Durable: true},
		},
		Bindings: []rabbitmq.Binding{
			{Queue: queue, Exchange: exchange, RoutingKey: address},
		},
	}
}

// ClientTopology declares the request exchange and a client reply queue. The
// reply queue lives as long as the connection that declared it.
func ClientTopology(exchange, queue string) rabbitmq.Topology {
	return rabbitmq.Topology{
		Exchanges: []rabbitmq.ExchangeDeclaration{
			{Name: exchange, Type: "direct", Durable: true},
		},
		Queues: []rabbitmq.QueueDeclaration{
			{Name: queue, Exclusive: true, AutoDelete: true},
		},
	}
}
