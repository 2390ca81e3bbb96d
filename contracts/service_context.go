package contracts

import (
	"sort"
	"sync"
)

// ServiceContextID identifies a service context
type ServiceContextID uint32

// Well-known service context ids
const (
	TransactionServiceID    ServiceContextID = 0
	CodeSetsServiceID       ServiceContextID = 1
	SendingContextRunTimeID ServiceContextID = 6
	ExceptionDetailMessage  ServiceContextID = 14

	// TraceContextServiceID carries W3C trace context between processes
	TraceContextServiceID ServiceContextID = 0x4D4D0001
)

// ServiceContext is a key-value annotation attached to a request or reply
type ServiceContext struct {
	ID   ServiceContextID `json:"id"`
	Data []byte           `json:"data"`
}

// ServiceContexts is the container a message carries its service contexts in
type ServiceContexts struct {
	mu       sync.RWMutex
	contexts map[ServiceContextID]ServiceContext
}

// NewServiceContexts creates an empty container
func NewServiceContexts() *ServiceContexts {
	return &ServiceContexts{
		contexts: make(map[ServiceContextID]ServiceContext),
	}
}

// Get retrieves the service context with the given id
func (s *ServiceContexts) Get(id ServiceContextID) (ServiceContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.contexts[id]
	return sc, ok
}

// Put stores a service context, replacing any previous entry with the same id
func (s *ServiceContexts) Put(sc ServiceContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[sc.ID] = sc
}

// Delete removes the service context with the given id
func (s *ServiceContexts) Delete(id ServiceContextID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, id)
}

// Len returns the number of stored contexts
func (s *ServiceContexts) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// All returns the stored contexts ordered by id
func (s *ServiceContexts) All() []ServiceContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ServiceContext, 0, len(s.contexts))
	for _, sc := range s.contexts {
		result = append(result, sc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
