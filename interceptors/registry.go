package interceptors

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Kind is the interceptor kind a registration is for
type Kind int

const (
	KindIOR Kind = iota
	KindClient
	KindServer
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindIOR:
		return "ior interceptor"
	case KindClient:
		return "client request interceptor"
	case KindServer:
		return "server request interceptor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type registryEntry struct {
	interceptor Interceptor
	kind        Kind
	ordinal     int
}

// Registry holds the registered interceptors. It accepts registrations until
// Sort is called; afterwards it is read-only and safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries [3][]registryEntry
	ordinal int
	frozen  bool

	iors    []IORInterceptor
	clients []ClientRequestInterceptor
	servers []ServerRequestInterceptor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an interceptor of the given kind. Named interceptors must be
// unique per kind; anonymous ones never conflict.
func (r *Registry) Register(i Interceptor, kind Kind) error {
	if i == nil {
		return fmt.Errorf("interceptors: nil %s", kind)
	}
	if !implementsKind(i, kind) {
		return fmt.Errorf("interceptors: %T is not a %s", i, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}

	if name := i.Name(); name != "" {
		for _, e := range r.entries[kind] {
			if e.interceptor.Name() == name {
				return &DuplicateNameError{Kind: kind.String(), Name: name}
			}
		}
	}

	r.entries[kind] = append(r.entries[kind], registryEntry{interceptor: i, kind: kind, ordinal: r.ordinal})
	r.ordinal++
	return nil
}

func implementsKind(i Interceptor, kind Kind) bool {
	switch kind {
	case KindIOR:
		_, ok := i.(IORInterceptor)
		return ok
	case KindClient:
		_, ok := i.(ClientRequestInterceptor)
		return ok
	case KindServer:
		_, ok := i.(ServerRequestInterceptor)
		return ok
	}
	return false
}

func priorityOf(i Interceptor) int {
	if o, ok := i.(Ordered); ok {
		return o.Priority()
	}
	return 0
}

// Sort orders every kind by descending priority, then registration order, and
// freezes the registry. Later calls do nothing.
func (r *Registry) Sort() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return
	}

	for kind := range r.entries {
		entries := r.entries[kind]
		sort.SliceStable(entries, func(a, b int) bool {
			pa, pb := priorityOf(entries[a].interceptor), priorityOf(entries[b].interceptor)
			if pa != pb {
				return pa > pb
			}
			return entries[a].ordinal < entries[b].ordinal
		})
	}

	for _, e := range r.entries[KindIOR] {
		r.iors = append(r.iors, e.interceptor.(IORInterceptor))
	}
	for _, e := range r.entries[KindClient] {
		r.clients = append(r.clients, e.interceptor.(ClientRequestInterceptor))
	}
	for _, e := range r.entries[KindServer] {
		r.servers = append(r.servers, e.interceptor.(ServerRequestInterceptor))
	}

	r.frozen = true
}

// Frozen reports whether Sort has run
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// HasAny reports whether interceptors of the kind are registered
func (r *Registry) HasAny(kind Kind) bool {
	switch kind {
	case KindIOR:
		return len(r.iors) > 0
	case KindClient:
		return len(r.clients) > 0
	case KindServer:
		return len(r.servers) > 0
	}
	return false
}

// IORs returns the sorted IOR interceptors. The slice must not be modified.
func (r *Registry) IORs() []IORInterceptor {
	return r.iors
}

// Clients returns the sorted client interceptors. The slice must not be modified.
func (r *Registry) Clients() []ClientRequestInterceptor {
	return r.clients
}

// Servers returns the sorted server interceptors. The slice must not be modified.
func (r *Registry) Servers() []ServerRequestInterceptor {
	return r.servers
}

// Names returns the names of the registered interceptors of a kind in order
func (r *Registry) Names(kind Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries[kind]))
	for _, e := range r.entries[kind] {
		names = append(names, e.interceptor.Name())
	}
	return names
}

// DestroyAll calls Destroy on every interceptor that implements Destroyer. An
// interceptor registered for several kinds is destroyed once. Values of types
// that cannot be compared are destroyed once per registration.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[Interceptor]bool)
	for kind := range r.entries {
		for _, e := range r.entries[kind] {
			d, ok := e.interceptor.(Destroyer)
			if !ok {
				continue
			}
			if reflect.TypeOf(e.interceptor).Comparable() {
				if seen[e.interceptor] {
					continue
				}
				seen[e.interceptor] = true
			}
			d.Destroy()
		}
	}
}
