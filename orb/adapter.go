package orb

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/glimte/mmate-orb/contracts"
)

// keySeparator splits the adapter name from the object id inside an object key
const keySeparator = 0

// AdapterManager controls the processing state of a group of adapters. A new
// manager holds requests until it is activated.
type AdapterManager struct {
	orb *ORB
	id  int

	mu       sync.RWMutex
	state    contracts.AdapterState
	adapters []*ObjectAdapter
}

// NewAdapterManager creates a manager in the holding state
func (o *ORB) NewAdapterManager() *AdapterManager {
	m := &AdapterManager{
		orb:   o,
		id:    int(o.managerIDs.Add(1)),
		state: contracts.AdapterHolding,
	}
	o.mu.Lock()
	o.managers = append(o.managers, m)
	o.mu.Unlock()
	return m
}

// ID returns the manager id
func (m *AdapterManager) ID() int {
	return m.id
}

// State returns the manager state
func (m *AdapterManager) State() contracts.AdapterState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Activate lets the adapters of the manager process requests
func (m *AdapterManager) Activate(ctx context.Context) error {
	return m.setState(ctx, contracts.AdapterActive)
}

// Hold makes the adapters reject requests as transient
func (m *AdapterManager) Hold(ctx context.Context) error {
	return m.setState(ctx, contracts.AdapterHolding)
}

// Discard makes the adapters reject requests as transient
func (m *AdapterManager) Discard(ctx context.Context) error {
	return m.setState(ctx, contracts.AdapterDiscarding)
}

// Deactivate permanently stops the adapters of the manager
func (m *AdapterManager) Deactivate(ctx context.Context) error {
	return m.setState(ctx, contracts.AdapterInactive)
}

func (m *AdapterManager) setState(ctx context.Context, state contracts.AdapterState) error {
	m.mu.Lock()
	if m.state == contracts.AdapterInactive {
		m.mu.Unlock()
		return ErrAdapterInactive
	}
	if m.state == state {
		m.mu.Unlock()
		return nil
	}
	m.state = state
	m.mu.Unlock()

	m.orb.logger.Debug("adapter manager state changed", "managerId", m.id, "state", state)
	m.orb.handler.AdapterManagerStateChanged(ctx, m.id, state)
	return nil
}

func (m *AdapterManager) add(a *ObjectAdapter) {
	m.mu.Lock()
	m.adapters = append(m.adapters, a)
	m.mu.Unlock()
}

// ObjectAdapter owns the servants activated under one adapter name
type ObjectAdapter struct {
	orb        *ORB
	name       string
	id         []byte
	manager    *AdapterManager
	policies   policySet
	components []contracts.TaggedComponent

	mu        sync.RWMutex
	servants  map[string]contracts.Servant
	destroyed bool
}

// CreateAdapter creates an object adapter. A nil manager creates a new one. The
// IOR interceptors run once and their components are attached to every
// reference the adapter creates.
func (o *ORB) CreateAdapter(ctx context.Context, name string, manager *AdapterManager, policies ...contracts.Policy) (*ObjectAdapter, error) {
	if o.closed.Load() {
		return nil, ErrShutdown
	}
	if name == "" || strings.IndexByte(name, keySeparator) >= 0 {
		return nil, fmt.Errorf("invalid adapter name %q", name)
	}
	if manager == nil {
		manager = o.NewAdapterManager()
	}

	id := uuid.New()
	adapter := &ObjectAdapter{
		orb:      o,
		name:     name,
		id:       id[:],
		manager:  manager,
		policies: newPolicySet(policies),
		servants: make(map[string]contracts.Servant),
	}

	o.mu.Lock()
	if _, exists := o.adapters[name]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAdapterExists, name)
	}
	o.adapters[name] = adapter
	o.mu.Unlock()

	components, err := o.handler.ObjectAdapterCreated(ctx, adapter)
	if err != nil {
		o.mu.Lock()
		delete(o.adapters, name)
		o.mu.Unlock()
		return nil, contracts.WrapSystemException(contracts.ObjAdapter, contracts.CompletedNo, err)
	}
	adapter.components = components
	manager.add(adapter)

	o.logger.Debug("object adapter created", "adapter", name, "managerId", manager.ID(), "components", len(components))
	return adapter, nil
}

// Adapter returns the adapter with the given name
func (o *ORB) Adapter(name string) (*ObjectAdapter, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.adapters[name]
	return a, ok
}

// Adapters returns the adapters of this ORB sorted by name
func (o *ORB) Adapters() []*ObjectAdapter {
	o.mu.RLock()
	adapters := make([]*ObjectAdapter, 0, len(o.adapters))
	for _, a := range o.adapters {
		adapters = append(adapters, a)
	}
	o.mu.RUnlock()

	sort.Slice(adapters, func(i, j int) bool { return adapters[i].name < adapters[j].name })
	return adapters
}

// ObjectKey builds the key under which adapter serves objectID
func ObjectKey(adapter string, objectID []byte) []byte {
	key := make([]byte, 0, len(adapter)+1+len(objectID))
	key = append(key, adapter...)
	key = append(key, keySeparator)
	return append(key, objectID...)
}

// findAdapter splits an object key and looks up its adapter
func (o *ORB) findAdapter(key []byte) (*ObjectAdapter, []byte, error) {
	i := bytes.IndexByte(key, keySeparator)
	if i <= 0 {
		return nil, nil, ErrMalformedKey
	}
	name, objectID := string(key[:i]), key[i+1:]

	adapter, ok := o.Adapter(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: adapter %s", ErrObjectNotActive, name)
	}
	return adapter, objectID, nil
}

// AdapterID implements contracts.ObjectAdapter
func (a *ObjectAdapter) AdapterID() []byte { return a.id }

// AdapterName implements contracts.ObjectAdapter
func (a *ObjectAdapter) AdapterName() []string { return strings.Split(a.name, "/") }

// ServerID implements contracts.ObjectAdapter
func (a *ObjectAdapter) ServerID() string { return a.orb.Address() }

// ORBID implements contracts.ObjectAdapter
func (a *ObjectAdapter) ORBID() string { return a.orb.id }

// ManagerID implements contracts.ObjectAdapter
func (a *ObjectAdapter) ManagerID() int { return a.manager.ID() }

// Manager returns the manager controlling the adapter
func (a *ObjectAdapter) Manager() *AdapterManager { return a.manager }

// State implements contracts.ObjectAdapter
func (a *ObjectAdapter) State() contracts.AdapterState {
	a.mu.RLock()
	destroyed := a.destroyed
	a.mu.RUnlock()
	if destroyed {
		return contracts.AdapterNonExistent
	}
	return a.manager.State()
}

// EffectivePolicy implements contracts.ObjectAdapter
func (a *ObjectAdapter) EffectivePolicy(policyType contracts.PolicyType) (contracts.Policy, bool) {
	p, ok := a.policies[policyType]
	return p, ok
}

// Activate activates servant under a generated object id and returns its reference
func (a *ObjectAdapter) Activate(servant contracts.Servant) (*contracts.IOR, error) {
	return a.ActivateWithID([]byte(uuid.NewString()), servant)
}

// ActivateWithID activates servant under objectID and returns its reference
func (a *ObjectAdapter) ActivateWithID(objectID []byte, servant contracts.Servant) (*contracts.IOR, error) {
	if servant == nil {
		return nil, fmt.Errorf("nil servant")
	}

	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return nil, ErrAdapterDestroyed
	}
	if _, exists := a.servants[string(objectID)]; exists {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrObjectAlreadyActive, objectID)
	}
	a.servants[string(objectID)] = servant
	a.mu.Unlock()

	return a.reference(objectID, servant), nil
}

// Deactivate removes the servant active under objectID
func (a *ObjectAdapter) Deactivate(objectID []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.servants[string(objectID)]; !exists {
		return fmt.Errorf("%w: %s", ErrObjectNotActive, objectID)
	}
	delete(a.servants, string(objectID))
	return nil
}

// Reference returns the reference of an active object
func (a *ObjectAdapter) Reference(objectID []byte) (*contracts.IOR, error) {
	a.mu.RLock()
	servant, ok := a.servants[string(objectID)]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotActive, objectID)
	}
	return a.reference(objectID, servant), nil
}

func (a *ObjectAdapter) reference(objectID []byte, servant contracts.Servant) *contracts.IOR {
	typeID := ""
	if ids := servant.RepositoryIDs(); len(ids) > 0 {
		typeID = ids[0]
	}

	ior := contracts.NewIOR(typeID, a.orb.host, a.orb.port, ObjectKey(a.name, objectID))
	ior.Profiles[0].Components = append([]contracts.TaggedComponent(nil), a.components...)
	return ior
}

// Destroy removes the adapter and its servants
func (a *ObjectAdapter) Destroy(ctx context.Context) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.destroyed = true
	a.servants = make(map[string]contracts.Servant)
	a.mu.Unlock()

	a.orb.mu.Lock()
	delete(a.orb.adapters, a.name)
	a.orb.mu.Unlock()

	a.orb.handler.AdapterStateChanged(ctx, []contracts.ObjectAdapter{a}, contracts.AdapterNonExistent)
	a.orb.logger.Debug("object adapter destroyed", "adapter", a.name)
}

// locate returns the servant for objectID, failing by adapter state first
func (a *ObjectAdapter) locate(objectID []byte) (contracts.Servant, error) {
	switch a.State() {
	case contracts.AdapterHolding, contracts.AdapterDiscarding:
		return nil, contracts.NewSystemException(contracts.Transient, 1, contracts.CompletedNo)
	case contracts.AdapterInactive:
		return nil, contracts.NewSystemException(contracts.ObjAdapter, 1, contracts.CompletedNo)
	case contracts.AdapterNonExistent:
		return nil, contracts.WrapSystemException(contracts.ObjectNotExist, contracts.CompletedNo, ErrAdapterDestroyed)
	}

	a.mu.RLock()
	servant, ok := a.servants[string(objectID)]
	a.mu.RUnlock()
	if !ok {
		return nil, contracts.WrapSystemException(contracts.ObjectNotExist, contracts.CompletedNo,
			fmt.Errorf("%w: %s", ErrObjectNotActive, objectID))
	}
	return servant, nil
}
