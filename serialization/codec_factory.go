package serialization

import (
	"fmt"
	"sync"
)

// EncodingFormat identifies an encapsulation format
type EncodingFormat uint16

const (
	// EncodingEncapsulation is the only supported format
	EncodingEncapsulation EncodingFormat = 0
)

// Encoding describes a codec by format and version
type Encoding struct {
	Format       EncodingFormat
	MajorVersion uint8
	MinorVersion uint8
}

// DefaultEncoding is encapsulation version 1.2
var DefaultEncoding = Encoding{Format: EncodingEncapsulation, MajorVersion: 1, MinorVersion: 2}

func (e Encoding) String() string {
	return fmt.Sprintf("format=%d version=%d.%d", e.Format, e.MajorVersion, e.MinorVersion)
}

// CodecFactory creates codecs for a requested encoding
type CodecFactory interface {
	CreateCodec(encoding Encoding) (Codec, error)
}

// DefaultCodecFactory creates encapsulation codecs sharing one type registry
type DefaultCodecFactory struct {
	registry TypeRegistry
	codecs   map[Encoding]*EncapsCodec
	mu       sync.Mutex
}

// NewCodecFactory creates a codec factory. A nil registry uses the global one.
func NewCodecFactory(registry TypeRegistry) *DefaultCodecFactory {
	if registry == nil {
		registry = GetGlobalRegistry()
	}
	return &DefaultCodecFactory{
		registry: registry,
		codecs:   make(map[Encoding]*EncapsCodec),
	}
}

// CreateCodec returns the codec for an encoding. Encapsulation versions 1.0
// through 1.2 are supported.
func (f *DefaultCodecFactory) CreateCodec(encoding Encoding) (Codec, error) {
	if encoding.Format != EncodingEncapsulation || encoding.MajorVersion != 1 || encoding.MinorVersion > 2 {
		return nil, codecErr("create", "", ErrUnknownEncoding, fmt.Errorf("%s", encoding))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if codec, ok := f.codecs[encoding]; ok {
		return codec, nil
	}

	codec := NewEncapsCodec(WithTypeRegistry(f.registry), WithEncoding(encoding))
	f.codecs[encoding] = codec
	return codec, nil
}
