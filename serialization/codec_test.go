package serialization

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncapsCodec(t *testing.T) {
	t.Run("round trips typed values", func(t *testing.T) {
		codec := NewEncapsCodec()

		values := []any{
			"hello",
			true,
			3.5,
			testPayload{OrderID: "o-1", CustomerID: "c-1", Amount: 12.5},
			&testPayload{OrderID: "o-2"},
			testTrace{TraceID: "abc", Baggage: map[string]string{"k": "v"}},
			[]byte{0x01, 0x02, 0x03},
		}

		for _, v := range values {
			data, err := codec.Encode(v)
			require.NoError(t, err)

			decoded, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, v, decoded)
		}
	})

	t.Run("round trips untyped values", func(t *testing.T) {
		codec := NewEncapsCodec()

		values := []any{
			42,
			"text",
			testPayload{OrderID: "o-3", Amount: 1},
			&testTrace{TraceID: "xyz"},
		}

		for _, v := range values {
			data, err := codec.EncodeValue(v)
			require.NoError(t, err)

			decoded, err := codec.DecodeValue(data, reflect.TypeOf(v))
			require.NoError(t, err)
			assert.Equal(t, v, decoded)
		}
	})

	t.Run("decode value accepts matching typed encapsulation", func(t *testing.T) {
		codec := NewEncapsCodec()
		v := testPayload{OrderID: "o-4"}

		data, err := codec.Encode(v)
		require.NoError(t, err)

		decoded, err := codec.DecodeValue(data, reflect.TypeOf(v))
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	})

	t.Run("decode value rejects other typed encapsulation", func(t *testing.T) {
		codec := NewEncapsCodec()

		data, err := codec.Encode(testPayload{OrderID: "o-5"})
		require.NoError(t, err)

		_, err = codec.DecodeValue(data, reflect.TypeOf(testTrace{}))
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("decode value reports json type mismatch", func(t *testing.T) {
		codec := NewEncapsCodec()

		data, err := codec.EncodeValue("not a number")
		require.NoError(t, err)

		_, err = codec.DecodeValue(data, reflect.TypeOf(0))
		assert.ErrorIs(t, err, ErrTypeMismatch)

		var codecErr *CodecError
		require.True(t, errors.As(err, &codecErr))
		assert.Equal(t, "decode value", codecErr.Op)
	})

	t.Run("malformed input is a format mismatch", func(t *testing.T) {
		codec := NewEncapsCodec()

		inputs := [][]byte{
			nil,
			{},
			[]byte("X{}"),
			[]byte("T{not json"),
			[]byte(`T{"value":1}`),
		}

		for _, in := range inputs {
			_, err := codec.Decode(in)
			assert.ErrorIs(t, err, ErrFormatMismatch, "input %q", in)
		}

		_, err := codec.DecodeValue([]byte("V{broken"), reflect.TypeOf(testPayload{}))
		assert.ErrorIs(t, err, ErrFormatMismatch)
	})

	t.Run("unknown type name is a type mismatch", func(t *testing.T) {
		codec := NewEncapsCodec()

		_, err := codec.Decode([]byte(`T{"type":"nope.Missing","value":{}}`))
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("unencodable values are invalid", func(t *testing.T) {
		codec := NewEncapsCodec()

		_, err := codec.Encode(nil)
		assert.ErrorIs(t, err, ErrInvalidEncoding)

		_, err = codec.Encode(make(chan int))
		assert.ErrorIs(t, err, ErrInvalidEncoding)

		_, err = codec.EncodeValue(func() {})
		assert.ErrorIs(t, err, ErrInvalidEncoding)
	})

	t.Run("shares registry between codecs", func(t *testing.T) {
		registry := NewTypeRegistry()
		encoder := NewEncapsCodec(WithTypeRegistry(registry))
		decoder := NewEncapsCodec(WithTypeRegistry(registry))

		data, err := encoder.Encode(testTrace{TraceID: "shared"})
		require.NoError(t, err)

		decoded, err := decoder.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, testTrace{TraceID: "shared"}, decoded)
	})
}

func TestCodecFactory(t *testing.T) {
	t.Run("creates encapsulation codec", func(t *testing.T) {
		factory := NewCodecFactory(NewTypeRegistry())

		codec, err := factory.CreateCodec(DefaultEncoding)
		require.NoError(t, err)
		require.NotNil(t, codec)

		again, err := factory.CreateCodec(DefaultEncoding)
		require.NoError(t, err)
		assert.Same(t, codec, again)
	})

	t.Run("supports older minor versions", func(t *testing.T) {
		factory := NewCodecFactory(nil)

		codec, err := factory.CreateCodec(Encoding{Format: EncodingEncapsulation, MajorVersion: 1, MinorVersion: 0})
		require.NoError(t, err)
		assert.Equal(t, uint8(0), codec.(*EncapsCodec).Encoding().MinorVersion)
	})

	t.Run("rejects unknown encodings", func(t *testing.T) {
		factory := NewCodecFactory(nil)

		_, err := factory.CreateCodec(Encoding{Format: 7, MajorVersion: 1})
		assert.ErrorIs(t, err, ErrUnknownEncoding)

		_, err = factory.CreateCodec(Encoding{Format: EncodingEncapsulation, MajorVersion: 2})
		assert.ErrorIs(t, err, ErrUnknownEncoding)
	})
}
