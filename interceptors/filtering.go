package interceptors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-orb/contracts"
)

// RequestFilter decides whether an incoming request may reach its servant
type RequestFilter interface {
	// ShouldProcess returns true if the request should be processed
	ShouldProcess(ctx context.Context, info ServerRequestInfo) (bool, error)
}

// RequestFilterFunc is a function adapter for RequestFilter
type RequestFilterFunc func(ctx context.Context, info ServerRequestInfo) (bool, error)

// ShouldProcess implements RequestFilter
func (f RequestFilterFunc) ShouldProcess(ctx context.Context, info ServerRequestInfo) (bool, error) {
	return f(ctx, info)
}

// RejectBehavior defines what happens to a request that is filtered out
type RejectBehavior int

const (
	// RejectWithException fails the request with NO_PERMISSION
	RejectWithException RejectBehavior = iota
	// RejectWithForward redirects the request to the configured reference
	RejectWithForward
)

// FilteringInterceptor rejects requests at the receive request point
type FilteringInterceptor struct {
	filter   RequestFilter
	behavior RejectBehavior
	forward  *contracts.IOR
	logger   *slog.Logger
}

// NewFilteringInterceptor creates a filtering interceptor that fails rejected requests
func NewFilteringInterceptor(filter RequestFilter, logger *slog.Logger) *FilteringInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilteringInterceptor{filter: filter, behavior: RejectWithException, logger: logger}
}

// NewForwardingFilterInterceptor creates a filtering interceptor that redirects
// rejected requests to forward
func NewForwardingFilterInterceptor(filter RequestFilter, forward *contracts.IOR, logger *slog.Logger) *FilteringInterceptor {
	i := NewFilteringInterceptor(filter, logger)
	i.behavior = RejectWithForward
	i.forward = forward
	return i
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// ReceiveRequestServiceContexts implements ServerRequestInterceptor
func (i *FilteringInterceptor) ReceiveRequestServiceContexts(context.Context, ServerRequestInfo) error {
	return nil
}

// ReceiveRequest implements ServerRequestInterceptor
func (i *FilteringInterceptor) ReceiveRequest(ctx context.Context, info ServerRequestInfo) error {
	shouldProcess, err := i.filter.ShouldProcess(ctx, info)
	if err != nil {
		return fmt.Errorf("filter error: %w", err)
	}
	if shouldProcess {
		return nil
	}

	operation, _ := info.Operation()
	i.logger.DebugContext(ctx, "request filtered", "operation", operation, "forward", i.behavior == RejectWithForward)

	if i.behavior == RejectWithForward && i.forward != nil {
		return NewForwardRequest(i.forward)
	}
	return &contracts.SystemException{
		Name:      contracts.NoPermission,
		Completed: contracts.CompletedNo,
		Err:       fmt.Errorf("request filtered: operation=%s", operation),
	}
}

// SendReply implements ServerRequestInterceptor
func (i *FilteringInterceptor) SendReply(context.Context, ServerRequestInfo) error {
	return nil
}

// SendException implements ServerRequestInterceptor
func (i *FilteringInterceptor) SendException(context.Context, ServerRequestInfo) error {
	return nil
}

// SendOther implements ServerRequestInterceptor
func (i *FilteringInterceptor) SendOther(context.Context, ServerRequestInfo) error {
	return nil
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []RequestFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...RequestFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements RequestFilter - all filters must return true
func (f *CompositeFilter) ShouldProcess(ctx context.Context, info ServerRequestInfo) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, info)
		if err != nil {
			return false, err
		}
		if !shouldProcess {
			return false, nil
		}
	}
	return true, nil
}

// OrFilter combines multiple filters with OR logic
type OrFilter struct {
	filters []RequestFilter
}

// NewOrFilter creates a new OR filter
func NewOrFilter(filters ...RequestFilter) *OrFilter {
	return &OrFilter{filters: filters}
}

// ShouldProcess implements RequestFilter - at least one filter must return true
func (f *OrFilter) ShouldProcess(ctx context.Context, info ServerRequestInfo) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, info)
		if err != nil {
			return false, err
		}
		if shouldProcess {
			return true, nil
		}
	}
	return false, nil
}

// OperationFilter only allows the listed operations
type OperationFilter struct {
	allowed map[string]bool
}

// NewOperationFilter creates a filter that only allows specific operations
func NewOperationFilter(operations ...string) *OperationFilter {
	allowed := make(map[string]bool)
	for _, op := range operations {
		allowed[op] = true
	}
	return &OperationFilter{allowed: allowed}
}

// ShouldProcess implements RequestFilter
func (f *OperationFilter) ShouldProcess(_ context.Context, info ServerRequestInfo) (bool, error) {
	operation, err := info.Operation()
	if err != nil {
		return false, err
	}
	return f.allowed[operation], nil
}

// InterfaceFilter only allows requests whose servant supports the interface
type InterfaceFilter struct {
	repositoryID string
}

// NewInterfaceFilter creates a filter on the servant's supported interfaces
func NewInterfaceFilter(repositoryID string) *InterfaceFilter {
	return &InterfaceFilter{repositoryID: repositoryID}
}

// ShouldProcess implements RequestFilter
func (f *InterfaceFilter) ShouldProcess(_ context.Context, info ServerRequestInfo) (bool, error) {
	return info.TargetIsA(f.repositoryID)
}

// ServiceContextFilter only allows requests carrying a service context
type ServiceContextFilter struct {
	id contracts.ServiceContextID
}

// NewServiceContextFilter creates a filter that requires the service context id
func NewServiceContextFilter(id contracts.ServiceContextID) *ServiceContextFilter {
	return &ServiceContextFilter{id: id}
}

// ShouldProcess implements RequestFilter
func (f *ServiceContextFilter) ShouldProcess(_ context.Context, info ServerRequestInfo) (bool, error) {
	_, err := info.GetRequestServiceContext(f.id)
	return err == nil, nil
}
