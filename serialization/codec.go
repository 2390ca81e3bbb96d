package serialization

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Encapsulation markers. The first byte of every encapsulation tells the decoder
// whether type information follows.
const (
	typedMarker byte = 'T'
	valueMarker byte = 'V'
)

// Codec converts values to and from self-contained byte encapsulations
type Codec interface {
	// Encode encodes a value together with its type name
	Encode(value any) ([]byte, error)

	// Decode decodes an encapsulation produced by Encode
	Decode(data []byte) (any, error)

	// EncodeValue encodes a value without type information
	EncodeValue(value any) ([]byte, error)

	// DecodeValue decodes an encapsulation into the given type
	DecodeValue(data []byte, typ reflect.Type) (any, error)
}

type typedEnvelope struct {
	Type  string          `json:"type"`
	Ptr   bool            `json:"ptr,omitempty"`
	Value json.RawMessage `json:"value"`
}

// EncapsCodec implements Codec using JSON encapsulations
type EncapsCodec struct {
	registry TypeRegistry
	encoding Encoding
}

// CodecOption configures the encapsulation codec
type CodecOption func(*EncapsCodec)

// WithTypeRegistry sets the type registry
func WithTypeRegistry(registry TypeRegistry) CodecOption {
	return func(c *EncapsCodec) {
		c.registry = registry
	}
}

// WithEncoding sets the encoding the codec reports
func WithEncoding(encoding Encoding) CodecOption {
	return func(c *EncapsCodec) {
		c.encoding = encoding
	}
}

// NewEncapsCodec creates a new encapsulation codec
func NewEncapsCodec(opts ...CodecOption) *EncapsCodec {
	c := &EncapsCodec{
		registry: NewTypeRegistry(),
		encoding: DefaultEncoding,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Encoding returns the encoding this codec implements
func (c *EncapsCodec) Encoding() Encoding {
	return c.encoding
}

// Encode encodes a value together with its type name. Unregistered types are
// registered under their derived name.
func (c *EncapsCodec) Encode(value any) ([]byte, error) {
	if value == nil {
		return nil, codecErr("encode", "", ErrInvalidEncoding, errors.New("nil value"))
	}

	typeName, err := c.registry.GetTypeName(value)
	if err != nil {
		typeName, err = c.registry.RegisterType(value)
		if err != nil {
			return nil, codecErr("encode", "", ErrInvalidEncoding, err)
		}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, codecErr("encode", typeName, ErrInvalidEncoding, err)
	}

	body, err := json.Marshal(typedEnvelope{
		Type:  typeName,
		Ptr:   reflect.TypeOf(value).Kind() == reflect.Ptr,
		Value: raw,
	})
	if err != nil {
		return nil, codecErr("encode", typeName, ErrInvalidEncoding, err)
	}

	return append([]byte{typedMarker}, body...), nil
}

// Decode decodes an encapsulation produced by Encode
func (c *EncapsCodec) Decode(data []byte) (any, error) {
	env, err := readTyped("decode", data)
	if err != nil {
		return nil, err
	}

	t, err := c.registry.Get(env.Type)
	if err != nil {
		return nil, codecErr("decode", env.Type, ErrTypeMismatch, err)
	}

	return unmarshalInto("decode", env.Type, t, env.Value, env.Ptr)
}

// EncodeValue encodes a value without type information
func (c *EncapsCodec) EncodeValue(value any) ([]byte, error) {
	if value == nil {
		return nil, codecErr("encode value", "", ErrInvalidEncoding, errors.New("nil value"))
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, codecErr("encode value", TypeNameOf(reflect.TypeOf(value)), ErrInvalidEncoding, err)
	}

	return append([]byte{valueMarker}, raw...), nil
}

// DecodeValue decodes an encapsulation into the given type. Typed encapsulations
// are accepted when their recorded type matches typ.
func (c *EncapsCodec) DecodeValue(data []byte, typ reflect.Type) (any, error) {
	if typ == nil {
		return nil, codecErr("decode value", "", ErrTypeMismatch, errors.New("nil type"))
	}
	if len(data) == 0 {
		return nil, codecErr("decode value", "", ErrFormatMismatch, errors.New("empty input"))
	}

	elem := typ
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	expected := TypeNameOf(elem)

	var raw []byte
	switch data[0] {
	case typedMarker:
		env, err := readTyped("decode value", data)
		if err != nil {
			return nil, err
		}
		if !c.matches(env.Type, elem) {
			return nil, codecErr("decode value", expected, ErrTypeMismatch,
				fmt.Errorf("encoded type is %s", env.Type))
		}
		raw = env.Value
	case valueMarker:
		raw = data[1:]
	default:
		return nil, codecErr("decode value", expected, ErrFormatMismatch,
			fmt.Errorf("unexpected marker 0x%02x", data[0]))
	}

	return unmarshalInto("decode value", expected, elem, raw, typ.Kind() == reflect.Ptr)
}

func (c *EncapsCodec) matches(typeName string, t reflect.Type) bool {
	if registered, err := c.registry.Get(typeName); err == nil {
		return registered == t
	}
	return typeName == TypeNameOf(t)
}

func readTyped(op string, data []byte) (*typedEnvelope, error) {
	if len(data) == 0 {
		return nil, codecErr(op, "", ErrFormatMismatch, errors.New("empty input"))
	}
	if data[0] != typedMarker {
		return nil, codecErr(op, "", ErrFormatMismatch, fmt.Errorf("unexpected marker 0x%02x", data[0]))
	}

	var env typedEnvelope
	if err := json.Unmarshal(data[1:], &env); err != nil {
		return nil, codecErr(op, "", ErrFormatMismatch, err)
	}
	if env.Type == "" || len(env.Value) == 0 {
		return nil, codecErr(op, "", ErrFormatMismatch, errors.New("missing type or value"))
	}

	return &env, nil
}

func unmarshalInto(op, typeName string, t reflect.Type, raw []byte, ptr bool) (any, error) {
	instance := reflect.New(t)
	if err := json.Unmarshal(raw, instance.Interface()); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, codecErr(op, typeName, ErrTypeMismatch, err)
		}
		return nil, codecErr(op, typeName, ErrFormatMismatch, err)
	}

	if ptr {
		return instance.Interface(), nil
	}
	return instance.Elem().Interface(), nil
}

// Global registry instance
var globalRegistry = NewTypeRegistry()

// GetGlobalRegistry returns the global type registry
func GetGlobalRegistry() TypeRegistry {
	return globalRegistry
}
