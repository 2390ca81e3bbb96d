package interceptors

import (
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/serialization"
)

// Initializer registers interceptors and policy factories while the pipeline is
// bootstrapped. Errors are logged and otherwise ignored.
type Initializer interface {
	PreInit(info *InitInfo) error
	PostInit(info *InitInfo) error
}

// PostInitFunc adapts a function to an Initializer that only runs after every
// PreInit has completed
type PostInitFunc func(info *InitInfo) error

// PreInit implements Initializer
func (f PostInitFunc) PreInit(*InitInfo) error {
	return nil
}

// PostInit implements Initializer
func (f PostInitFunc) PostInit(info *InitInfo) error {
	return f(info)
}

// PolicyFactory creates policies of the types it was registered for
type PolicyFactory interface {
	CreatePolicy(policyType contracts.PolicyType, value any) (contracts.Policy, error)
}

// PolicyFactoryFunc is a function adapter for PolicyFactory
type PolicyFactoryFunc func(policyType contracts.PolicyType, value any) (contracts.Policy, error)

// CreatePolicy implements PolicyFactory
func (f PolicyFactoryFunc) CreatePolicy(policyType contracts.PolicyType, value any) (contracts.Policy, error) {
	return f(policyType, value)
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithORBID sets the runtime id reported to initializers
func WithORBID(id string) Option {
	return func(h *Handler) {
		h.orbID = id
	}
}

// WithArguments sets the runtime arguments reported to initializers
func WithArguments(args []string) Option {
	return func(h *Handler) {
		h.arguments = args
	}
}

// WithCodecFactory sets the codec factory handed to initializers
func WithCodecFactory(factory serialization.CodecFactory) Option {
	return func(h *Handler) {
		h.codecs = factory
	}
}

// WithInitializers adds initializers to run during bootstrap
func WithInitializers(initializers ...Initializer) Option {
	return func(h *Handler) {
		h.initializers = append(h.initializers, initializers...)
	}
}

// Bootstrap builds the interception pipeline. It runs every initializer's
// PreInit, then every PostInit, freezes the registry and enables interception.
// The InitInfo handed to initializers is invalid afterwards.
func Bootstrap(opts ...Option) *Handler {
	h := &Handler{
		registry:        NewRegistry(),
		logger:          slog.Default(),
		policyFactories: make(map[contracts.PolicyType]PolicyFactory),
		initialRefs:     make(map[string]any),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.codecs == nil {
		h.codecs = serialization.NewCodecFactory(nil)
	}
	h.invoker = newInvoker(h.registry, func() int { return h.slotCount }, h.logger)
	h.current = &Current{h: h}

	info := &InitInfo{h: h}
	for _, initializer := range h.initializers {
		if err := safeCall(fmt.Sprintf("%T", initializer), func() error { return initializer.PreInit(info) }); err != nil {
			h.logger.Warn("initializer pre-init failed", "initializer", fmt.Sprintf("%T", initializer), "error", err)
		}
	}
	for _, initializer := range h.initializers {
		if err := safeCall(fmt.Sprintf("%T", initializer), func() error { return initializer.PostInit(info) }); err != nil {
			h.logger.Warn("initializer post-init failed", "initializer", fmt.Sprintf("%T", initializer), "error", err)
		}
	}
	info.closed = true
	h.initializers = nil

	h.registry.Sort()
	h.hasIOR = h.registry.HasAny(KindIOR)
	h.hasClient = h.registry.HasAny(KindClient)
	h.hasServer = h.registry.HasAny(KindServer)
	h.invoker.enabled.Store(true)

	h.logger.Debug("interception pipeline ready",
		"orbId", h.orbID,
		"clientInterceptors", h.registry.Names(KindClient),
		"serverInterceptors", h.registry.Names(KindServer),
		"iorInterceptors", h.registry.Names(KindIOR),
		"slots", h.slotCount,
	)

	return h
}

// InitInfo is handed to initializers during bootstrap
type InitInfo struct {
	h      *Handler
	closed bool
}

func (i *InitInfo) valid() error {
	if i.closed {
		return ErrObjectNotExist
	}
	return nil
}

// AddClientRequestInterceptor registers a client interceptor
func (i *InitInfo) AddClientRequestInterceptor(interceptor ClientRequestInterceptor) error {
	if err := i.valid(); err != nil {
		return err
	}
	return i.h.registry.Register(interceptor, KindClient)
}

// AddServerRequestInterceptor registers a server interceptor
func (i *InitInfo) AddServerRequestInterceptor(interceptor ServerRequestInterceptor) error {
	if err := i.valid(); err != nil {
		return err
	}
	return i.h.registry.Register(interceptor, KindServer)
}

// AddIORInterceptor registers an IOR interceptor
func (i *InitInfo) AddIORInterceptor(interceptor IORInterceptor) error {
	if err := i.valid(); err != nil {
		return err
	}
	return i.h.registry.Register(interceptor, KindIOR)
}

// AllocateSlotID reserves a slot in every slot table
func (i *InitInfo) AllocateSlotID() (int, error) {
	if err := i.valid(); err != nil {
		return 0, err
	}
	id := i.h.slotCount
	i.h.slotCount++
	return id, nil
}

// RegisterPolicyFactory registers the factory for a policy type
func (i *InitInfo) RegisterPolicyFactory(policyType contracts.PolicyType, factory PolicyFactory) error {
	if err := i.valid(); err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("%w: nil factory for policy type %d", ErrBadPolicy, policyType)
	}
	if _, exists := i.h.policyFactories[policyType]; exists {
		return &DuplicateNameError{Kind: "policy factory", Name: fmt.Sprint(policyType)}
	}
	i.h.policyFactories[policyType] = factory
	return nil
}

// RegisterInitialReference makes an object resolvable by id
func (i *InitInfo) RegisterInitialReference(id string, object any) error {
	if err := i.valid(); err != nil {
		return err
	}
	if id == "" || object == nil {
		return fmt.Errorf("%w: empty id or nil object", ErrInvalidName)
	}
	if _, exists := i.h.initialRefs[id]; exists {
		return fmt.Errorf("%w: %s already registered", ErrInvalidName, id)
	}
	i.h.initialRefs[id] = object
	return nil
}

// ResolveInitialReferences returns an object registered with RegisterInitialReference
func (i *InitInfo) ResolveInitialReferences(id string) (any, error) {
	if err := i.valid(); err != nil {
		return nil, err
	}
	return i.h.ResolveInitialReference(id)
}

// CodecFactory returns the codec factory of the runtime
func (i *InitInfo) CodecFactory() (serialization.CodecFactory, error) {
	if err := i.valid(); err != nil {
		return nil, err
	}
	return i.h.codecs, nil
}

// Arguments returns the runtime arguments
func (i *InitInfo) Arguments() ([]string, error) {
	if err := i.valid(); err != nil {
		return nil, err
	}
	return i.h.arguments, nil
}

// ORBID returns the runtime id
func (i *InitInfo) ORBID() (string, error) {
	if err := i.valid(); err != nil {
		return "", err
	}
	return i.h.orbID, nil
}
