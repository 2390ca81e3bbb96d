// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmateorb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/glimte/mmate-orb/orb"
	rabbitmqTransport "github.com/glimte/mmate-orb/transports/rabbitmq"
)

// Client is an ORB whose requests and replies travel over RabbitMQ
type Client struct {
	orb       *orb.ORB
	broker    *rabbitmqTransport.AMQPBroker
	transport *rabbitmqTransport.Transport
	server    *rabbitmqTransport.Server
	logger    *slog.Logger
}

// NewClient connects to RabbitMQ and builds an ORB on top of it
func NewClient(url string, options ...ClientOption) (*Client, error) {
	return NewClientContext(context.Background(), url, options...)
}

// NewClientContext is NewClient with a context bounding the connect and the
// topology declarations
func NewClientContext(ctx context.Context, url string, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:       slog.Default(),
		id:           "orb-" + uuid.NewString(),
		host:         "localhost",
		port:         2809,
		exchange:     rabbitmqTransport.DefaultExchange,
		requests:     rabbitmqTransport.DefaultRequestPrefix,
		replyTimeout: 30 * time.Second,
		server:       true,
	}
	for _, opt := range options {
		opt(cfg)
	}

	brokerOpts := append([]rabbitmqTransport.BrokerOption{rabbitmqTransport.WithBrokerLogger(cfg.logger)}, cfg.brokerOptions...)
	broker, err := rabbitmqTransport.Dial(ctx, url, brokerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect broker: %w", err)
	}

	c := &Client{broker: broker, logger: cfg.logger}
	if err := c.build(ctx, cfg); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) build(ctx context.Context, cfg *clientConfig) error {
	replyQueue := rabbitmqTransport.ReplyQueue(rabbitmqTransport.DefaultReplyPrefix, cfg.id)
	if err := c.broker.Declare(ctx, rabbitmqTransport.ClientTopology(cfg.exchange, replyQueue)); err != nil {
		return fmt.Errorf("failed to declare reply queue: %w", err)
	}

	c.transport = rabbitmqTransport.NewTransport(c.broker, replyQueue,
		rabbitmqTransport.WithExchange(cfg.exchange),
		rabbitmqTransport.WithReplyTimeout(cfg.replyTimeout),
		rabbitmqTransport.WithAppID(cfg.id),
		rabbitmqTransport.WithLogger(cfg.logger),
	)
	if err := c.transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	orbOpts := append([]orb.Option{
		orb.WithID(cfg.id),
		orb.WithEndpoint(cfg.host, cfg.port),
		orb.WithLogger(cfg.logger),
		orb.WithTransport(c.transport),
	}, cfg.orbOptions...)
	o, err := orb.New(orbOpts...)
	if err != nil {
		return fmt.Errorf("failed to create ORB: %w", err)
	}
	c.orb = o

	if !cfg.server {
		return nil
	}
	c.server = rabbitmqTransport.NewServer(o, c.broker,
		rabbitmqTransport.WithQueue(rabbitmqTransport.RequestQueue(cfg.requests, o.Address())),
		rabbitmqTransport.WithServerLogger(cfg.logger),
	)
	if err := c.broker.Declare(ctx, rabbitmqTransport.EndpointTopology(cfg.exchange, c.server.Queue(), o.Address())); err != nil {
		return fmt.Errorf("failed to declare request queue: %w", err)
	}
	if err := c.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	c.logger.Info("ORB listening", "address", o.Address(), "queue", c.server.Queue())
	return nil
}

// ORB returns the ORB. Servants activated on its adapters are reachable over
// the broker unless the client was built WithoutServer.
func (c *Client) ORB() *orb.ORB {
	return c.orb
}

// Broker returns the RabbitMQ broker the client talks through
func (c *Client) Broker() *rabbitmqTransport.AMQPBroker {
	return c.broker
}

// Queues returns the queues the client consumes: its reply queue and, unless
// built WithoutServer, its request queue
func (c *Client) Queues() []string {
	var queues []string
	if c.transport != nil {
		queues = append(queues, c.transport.ReplyQueue())
	}
	if c.server != nil {
		queues = append(queues, c.server.Queue())
	}
	return queues
}

// Close stops serving, shuts the ORB down and disconnects from the broker
func (c *Client) Close() error {
	var errs []error
	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.orb != nil {
		if err := c.orb.Shutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
	} else if c.transport != nil {
		errs = append(errs, c.transport.Close())
	}
	if c.broker != nil {
		errs = append(errs, c.broker.Close())
	}
	return errors.Join(errs...)
}

type clientConfig struct {
	logger        *slog.Logger
	id            string
	host          string
	port          int
	exchange      string
	requests      string
	replyTimeout  time.Duration
	server        bool
	orbOptions    []orb.Option
	brokerOptions []rabbitmqTransport.BrokerOption
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithID sets the ORB id. It also names the reply queue.
func WithID(id string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.id = id
	}
}

// WithEndpoint sets the address published in object references and used as
// the request routing key
func WithEndpoint(host string, port int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.host = host
		cfg.port = port
	}
}

// WithExchange sets the direct exchange requests are published to
func WithExchange(exchange string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.exchange = exchange
	}
}

// WithRequestPrefix sets the prefix of the request queue name
func WithRequestPrefix(prefix string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.requests = prefix
	}
}

// WithReplyTimeout bounds the wait for a reply when the caller sets no deadline
func WithReplyTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.replyTimeout = timeout
	}
}

// WithoutServer builds a client that only sends requests
func WithoutServer() ClientOption {
	return func(cfg *clientConfig) {
		cfg.server = false
	}
}

// WithORBOptions passes options to orb.New
func WithORBOptions(options ...orb.Option) ClientOption {
	return func(cfg *clientConfig) {
		cfg.orbOptions = append(cfg.orbOptions, options...)
	}
}

// WithBrokerOptions passes options to the RabbitMQ broker
func WithBrokerOptions(options ...rabbitmqTransport.BrokerOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.brokerOptions = append(cfg.brokerOptions, options...)
	}
}
