package interceptors

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConnection struct{}

func (fakeConnection) RemoteAddress() string { return "127.0.0.1:2809" }

type fakeContactInfo struct {
	target    *contracts.IOR
	effective *contracts.IOR
}

func (c *fakeContactInfo) Target() *contracts.IOR          { return c.target }
func (c *fakeContactInfo) EffectiveTarget() *contracts.IOR { return c.effective }

func (c *fakeContactInfo) EffectiveProfile() *contracts.Profile {
	if c.effective == nil || len(c.effective.Profiles) == 0 {
		return nil
	}
	return &c.effective.Profiles[0]
}

// fakeMediator is an in-memory MessageMediator that counts metadata lookups
type fakeMediator struct {
	operation string
	requestID uint32
	oneWay    bool
	contact   *fakeContactInfo
	request   *contracts.ServiceContexts
	reply     *contracts.ServiceContexts
	forwarded *contracts.IOR
	policies  map[contracts.PolicyType]contracts.Policy

	operationCalls int
}

func newFakeMediator(operation string) *fakeMediator {
	target := contracts.NewIOR("IDL:test/Echo:1.0", "localhost", 2809, []byte("echo"))
	return &fakeMediator{
		operation: operation,
		requestID: 7,
		contact:   &fakeContactInfo{target: target, effective: target},
		request:   contracts.NewServiceContexts(),
	}
}

func (m *fakeMediator) Operation() string {
	m.operationCalls++
	return m.operation
}

func (m *fakeMediator) RequestID() uint32                                  { return m.requestID }
func (m *fakeMediator) IsOneWay() bool                                     { return m.oneWay }
func (m *fakeMediator) Connection() contracts.Connection                   { return fakeConnection{} }
func (m *fakeMediator) ContactInfo() contracts.ContactInfo                 { return m.contact }
func (m *fakeMediator) RequestServiceContexts() *contracts.ServiceContexts { return m.request }
func (m *fakeMediator) ReplyServiceContexts() *contracts.ServiceContexts   { return m.reply }
func (m *fakeMediator) ForwardedIOR() *contracts.IOR                       { return m.forwarded }

func (m *fakeMediator) RequestPolicy(policyType contracts.PolicyType) (contracts.Policy, bool) {
	p, ok := m.policies[policyType]
	return p, ok
}

type mockIterator struct {
	mock.Mock
}

func (m *mockIterator) ReportRedirect(primary contracts.ContactInfo, forward *contracts.IOR) {
	m.Called(primary, forward)
}

type testPolicy struct {
	policyType contracts.PolicyType
	value      any
}

func (p *testPolicy) PolicyType() contracts.PolicyType { return p.policyType }

type fakeAdapter struct {
	id       []byte
	name     []string
	state    contracts.AdapterState
	policies map[contracts.PolicyType]contracts.Policy
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{id: []byte("adapter-1"), name: []string{"RootPOA", "child"}, state: contracts.AdapterActive}
}

func (a *fakeAdapter) AdapterID() []byte             { return a.id }
func (a *fakeAdapter) AdapterName() []string         { return a.name }
func (a *fakeAdapter) ServerID() string              { return "server-1" }
func (a *fakeAdapter) ORBID() string                 { return "orb-test" }
func (a *fakeAdapter) ManagerID() int                { return 3 }
func (a *fakeAdapter) State() contracts.AdapterState { return a.state }

func (a *fakeAdapter) EffectivePolicy(policyType contracts.PolicyType) (contracts.Policy, bool) {
	p, ok := a.policies[policyType]
	return p, ok
}

type testServant struct {
	ids []string
}

func (s *testServant) RepositoryIDs() []string { return s.ids }

// Interception point names used by recorder logs
const (
	pSendRequest      = "send_request"
	pReceiveReply     = "receive_reply"
	pReceiveException = "receive_exception"
	pReceiveOther     = "receive_other"
	pReceiveContexts  = "receive_request_service_contexts"
	pReceiveRequest   = "receive_request"
	pSendReply        = "send_reply"
	pSendException    = "send_exception"
	pSendOther        = "send_other"
)

// recorder is a client and server interceptor that logs every call and returns
// the error configured for the point
type recorder struct {
	name     string
	priority int
	log      *[]string
	results  map[string]error
	hook     func(ctx context.Context, point string, info RequestInfo)
}

func newRecorder(name string, log *[]string) *recorder {
	return &recorder{name: name, log: log, results: make(map[string]error)}
}

func (r *recorder) returning(point string, err error) *recorder {
	r.results[point] = err
	return r
}

func (r *recorder) withHook(hook func(ctx context.Context, point string, info RequestInfo)) *recorder {
	r.hook = hook
	return r
}

func (r *recorder) record(ctx context.Context, point string, info RequestInfo) error {
	*r.log = append(*r.log, r.name+"."+point)
	if r.hook != nil {
		r.hook(ctx, point, info)
	}
	return r.results[point]
}

func (r *recorder) Name() string  { return r.name }
func (r *recorder) Priority() int { return r.priority }

func (r *recorder) SendRequest(ctx context.Context, info ClientRequestInfo) error {
	return r.record(ctx, pSendRequest, info)
}

func (r *recorder) ReceiveReply(ctx context.Context, info ClientRequestInfo) error {
	return r.record(ctx, pReceiveReply, info)
}

func (r *recorder) ReceiveException(ctx context.Context, info ClientRequestInfo) error {
	return r.record(ctx, pReceiveException, info)
}

func (r *recorder) ReceiveOther(ctx context.Context, info ClientRequestInfo) error {
	return r.record(ctx, pReceiveOther, info)
}

func (r *recorder) ReceiveRequestServiceContexts(ctx context.Context, info ServerRequestInfo) error {
	return r.record(ctx, pReceiveContexts, info)
}

func (r *recorder) ReceiveRequest(ctx context.Context, info ServerRequestInfo) error {
	return r.record(ctx, pReceiveRequest, info)
}

func (r *recorder) SendReply(ctx context.Context, info ServerRequestInfo) error {
	return r.record(ctx, pSendReply, info)
}

func (r *recorder) SendException(ctx context.Context, info ServerRequestInfo) error {
	return r.record(ctx, pSendException, info)
}

func (r *recorder) SendOther(ctx context.Context, info ServerRequestInfo) error {
	return r.record(ctx, pSendOther, info)
}

// setup describes the pipeline a test bootstraps
type setup struct {
	clients []ClientRequestInterceptor
	servers []ServerRequestInterceptor
	iors    []IORInterceptor
	slots   int
}

func bootstrapTest(t *testing.T, s setup) *Handler {
	t.Helper()
	h := Bootstrap(
		WithLogger(discardLogger()),
		WithORBID("orb-test"),
		WithInitializers(PostInitFunc(func(info *InitInfo) error {
			for n := 0; n < s.slots; n++ {
				if _, err := info.AllocateSlotID(); err != nil {
					return err
				}
			}
			for _, i := range s.clients {
				if err := info.AddClientRequestInterceptor(i); err != nil {
					return err
				}
			}
			for _, i := range s.servers {
				if err := info.AddServerRequestInterceptor(i); err != nil {
					return err
				}
			}
			for _, i := range s.iors {
				if err := info.AddIORInterceptor(i); err != nil {
					return err
				}
			}
			return nil
		})),
	)
	require.True(t, h.Registry().Frozen())
	return h
}

func threadContext() (context.Context, *Thread) {
	return EnsureThread(context.Background())
}

func systemException(name string) *contracts.SystemException {
	return contracts.NewSystemException(name, 0, contracts.CompletedNo)
}
