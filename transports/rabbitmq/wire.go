package rabbitmq

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/orb"
	"github.com/glimte/mmate-orb/serialization"
)

// Header names of request and reply messages
const (
	HeaderOperation   = "x-orb-operation"
	HeaderObjectKey   = "x-orb-object-key"
	HeaderRequestID   = "x-orb-request-id"
	HeaderOneWay      = "x-orb-oneway"
	HeaderContexts    = "x-orb-service-contexts"
	HeaderReplyStatus = "x-orb-reply-status"
	HeaderException   = "x-orb-exception-id"
)

// ContentType marks ORB messages
const ContentType = "application/x-orb-encaps"

var (
	// ErrMalformedMessage is returned for deliveries missing required headers
	ErrMalformedMessage = errors.New("rabbitmq transport: malformed message")

	iorType = reflect.TypeOf(&contracts.IOR{})
	sysType = reflect.TypeOf(wireSystemException{})
)

// wireSystemException is the reply body of a SystemExceptionReply
type wireSystemException struct {
	Name      string `json:"name"`
	Minor     uint32 `json:"minor"`
	Completed int    `json:"completed"`
	Message   string `json:"message,omitempty"`
}

// encodeContexts stores service contexts in a nested table keyed by decimal id
func encodeContexts(contexts *contracts.ServiceContexts) amqp.Table {
	table := amqp.Table{}
	if contexts == nil {
		return table
	}
	for _, sc := range contexts.All() {
		table[strconv.FormatUint(uint64(sc.ID), 10)] = append([]byte(nil), sc.Data...)
	}
	return table
}

func decodeContexts(headers amqp.Table) (*contracts.ServiceContexts, error) {
	contexts := contracts.NewServiceContexts()
	raw, ok := headers[HeaderContexts]
	if !ok || raw == nil {
		return contexts, nil
	}
	table, ok := raw.(amqp.Table)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T", ErrMalformedMessage, HeaderContexts, raw)
	}
	for key, value := range table {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: service context id %q", ErrMalformedMessage, key)
		}
		data, err := bytesOf(value)
		if err != nil {
			return nil, fmt.Errorf("%w: service context %d: %v", ErrMalformedMessage, id, err)
		}
		contexts.Put(contracts.ServiceContext{ID: contracts.ServiceContextID(id), Data: data})
	}
	return contexts, nil
}

// encodeRequest builds the publishing for a client request
func encodeRequest(req *orb.Request) amqp.Publishing {
	return amqp.Publishing{
		ContentType: ContentType,
		Type:        req.Operation(),
		Headers: amqp.Table{
			HeaderOperation: req.Operation(),
			HeaderObjectKey: append([]byte(nil), req.ObjectKey()...),
			HeaderRequestID: int64(req.RequestID()),
			HeaderOneWay:    req.IsOneWay(),
			HeaderContexts:  encodeContexts(req.RequestServiceContexts()),
		},
		Body: req.Body(),
	}
}

// decodeRequest reads an incoming request from a delivery
func decodeRequest(d amqp.Delivery) (orb.Incoming, error) {
	operation, ok := d.Headers[HeaderOperation].(string)
	if !ok || operation == "" {
		return orb.Incoming{}, fmt.Errorf("%w: missing %s", ErrMalformedMessage, HeaderOperation)
	}
	key, err := bytesOf(d.Headers[HeaderObjectKey])
	if err != nil {
		return orb.Incoming{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, HeaderObjectKey, err)
	}
	requestID, err := uint32Of(d.Headers[HeaderRequestID])
	if err != nil {
		return orb.Incoming{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, HeaderRequestID, err)
	}
	contexts, err := decodeContexts(d.Headers)
	if err != nil {
		return orb.Incoming{}, err
	}
	oneWay, _ := d.Headers[HeaderOneWay].(bool)

	remote := d.AppId
	if remote == "" {
		remote = d.ReplyTo
	}
	return orb.Incoming{
		RequestID:       requestID,
		Operation:       operation,
		ObjectKey:       key,
		Body:            d.Body,
		OneWay:          oneWay,
		ServiceContexts: contexts,
		RemoteAddress:   remote,
	}, nil
}

// encodeReply builds the publishing for a reply
func encodeReply(codec serialization.Codec, reply *contracts.ReplyMessage) (amqp.Publishing, error) {
	msg := amqp.Publishing{
		ContentType: ContentType,
		Headers: amqp.Table{
			HeaderRequestID:   int64(reply.RequestID),
			HeaderReplyStatus: int32(reply.Status),
			HeaderContexts:    encodeContexts(reply.ServiceContexts),
		},
	}

	switch reply.Status {
	case contracts.NoException:
		msg.Body = reply.Result

	case contracts.UserExceptionReply:
		msg.Headers[HeaderException] = contracts.RepositoryIDOf(reply.Exception)
		var app *contracts.ApplicationException
		if errors.As(reply.Exception, &app) {
			msg.Body = app.Data
			break
		}
		body, err := codec.EncodeValue(reply.Exception)
		if err != nil {
			return msg, err
		}
		msg.Body = body

	case contracts.SystemExceptionReply:
		sysErr := contracts.AsSystemException(reply.Exception)
		if sysErr == nil {
			sysErr = contracts.NewSystemException(contracts.Unknown, 0, contracts.CompletedMaybe)
		}
		msg.Headers[HeaderException] = sysErr.RepositoryID()
		wire := wireSystemException{Name: sysErr.Name, Minor: sysErr.Minor, Completed: int(sysErr.Completed)}
		if sysErr.Err != nil {
			wire.Message = sysErr.Err.Error()
		}
		body, err := codec.EncodeValue(wire)
		if err != nil {
			return msg, err
		}
		msg.Body = body

	case contracts.LocationForwardReply, contracts.LocationForwardPermReply:
		body, err := codec.EncodeValue(reply.IOR)
		if err != nil {
			return msg, err
		}
		msg.Body = body
	}
	return msg, nil
}

// decodeReply rebuilds a reply from a delivery. User exceptions arrive as
// *contracts.ApplicationException carrying the encoded members.
func decodeReply(codec serialization.Codec, d amqp.Delivery) (*contracts.ReplyMessage, error) {
	status, err := int32Of(d.Headers[HeaderReplyStatus])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, HeaderReplyStatus, err)
	}
	requestID, err := uint32Of(d.Headers[HeaderRequestID])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, HeaderRequestID, err)
	}
	contexts, err := decodeContexts(d.Headers)
	if err != nil {
		return nil, err
	}

	reply := &contracts.ReplyMessage{
		RequestID:       requestID,
		Status:          contracts.ReplyMessageStatus(status),
		ServiceContexts: contexts,
	}

	switch reply.Status {
	case contracts.NoException:
		reply.Result = d.Body

	case contracts.UserExceptionReply:
		id, _ := d.Headers[HeaderException].(string)
		reply.Exception = &contracts.ApplicationException{ID: id, Data: d.Body}

	case contracts.SystemExceptionReply:
		value, err := codec.DecodeValue(d.Body, sysType)
		if err != nil {
			return nil, err
		}
		wire := value.(wireSystemException)
		sysErr := contracts.NewSystemException(wire.Name, wire.Minor, contracts.CompletionStatus(wire.Completed))
		if wire.Message != "" {
			sysErr.Err = errors.New(wire.Message)
		}
		reply.Exception = sysErr

	case contracts.LocationForwardReply, contracts.LocationForwardPermReply:
		value, err := codec.DecodeValue(d.Body, iorType)
		if err != nil {
			return nil, err
		}
		reply.IOR = value.(*contracts.IOR)

	default:
		return nil, fmt.Errorf("%w: unsupported reply status %d", ErrMalformedMessage, status)
	}
	return reply, nil
}

func bytesOf(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case nil:
		return nil, errors.New("missing")
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}
}

func uint32Of(v any) (uint32, error) {
	var n int64
	switch i := v.(type) {
	case int64:
		n = i
	case int32:
		n = int64(i)
	case int:
		n = int64(i)
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	if n < 0 || n > int64(^uint32(0)) {
		return 0, fmt.Errorf("out of range: %d", n)
	}
	return uint32(n), nil
}

func int32Of(v any) (int32, error) {
	switch i := v.(type) {
	case int32:
		return i, nil
	case int64:
		return int32(i), nil
	case int:
		return int32(i), nil
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
