package interceptors

import (
	"context"
	"testing"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBoundClientContext(m *fakeMediator) *ClientRequestContext {
	c := newClientRequestContext(newSlotTable(2), discardLogger())
	c.mediator = m
	return c
}

func TestClientRequestContextAccess(t *testing.T) {
	t.Run("accessors are idempotent", func(t *testing.T) {
		m := newFakeMediator("echo")
		c := newBoundClientContext(m)

		first, err := c.Operation()
		require.NoError(t, err)
		second, err := c.Operation()
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, m.operationCalls)

		target1, err := c.EffectiveTarget()
		require.NoError(t, err)
		target2, err := c.EffectiveTarget()
		require.NoError(t, err)
		assert.Same(t, target1, target2)
	})

	t.Run("ordering violations", func(t *testing.T) {
		c := newBoundClientContext(newFakeMediator("echo"))

		_, err := c.ReplyStatus()
		var ordering *OrderingError
		require.ErrorAs(t, err, &ordering)
		assert.Equal(t, "ReplyStatus", ordering.Accessor)
		assert.Equal(t, "SendRequest", ordering.Point)

		_, err = c.ReceivedException()
		assert.ErrorIs(t, err, ErrOrderingViolation)
		_, err = c.ForwardReference()
		assert.ErrorIs(t, err, ErrOrderingViolation)
		_, err = c.Result()
		assert.ErrorIs(t, err, ErrOrderingViolation)

		c.point = PointEnding
		c.setReplyStatus(StatusSuccessful)
		err = c.AddRequestServiceContext(contracts.ServiceContext{ID: testContextA}, false)
		assert.ErrorIs(t, err, ErrOrderingViolation)
		_, err = c.ReceivedExceptionID()
		assert.ErrorIs(t, err, ErrOrderingViolation)

		status, err := c.ReplyStatus()
		require.NoError(t, err)
		assert.Equal(t, StatusSuccessful, status)
	})

	t.Run("dynamic-only accessors on a static call", func(t *testing.T) {
		c := newBoundClientContext(newFakeMediator("echo"))

		_, err := c.Arguments()
		assert.ErrorIs(t, err, ErrUnsupportedOperation)
		_, err = c.Exceptions()
		assert.ErrorIs(t, err, ErrUnsupportedOperation)
	})

	t.Run("new exception replaces the cached projection", func(t *testing.T) {
		c := newBoundClientContext(newFakeMediator("echo"))
		c.point = PointEnding

		first := systemException(contracts.Transient)
		c.fail(first)
		got, err := c.ReceivedException()
		require.NoError(t, err)
		assert.Same(t, first, got)
		id, err := c.ReceivedExceptionID()
		require.NoError(t, err)
		assert.Equal(t, "IDL:omg.org/CORBA/TRANSIENT:1.0", id)

		second := systemException(contracts.CommFailure)
		c.fail(second)
		got, err = c.ReceivedException()
		require.NoError(t, err)
		assert.Same(t, second, got)
		id, err = c.ReceivedExceptionID()
		require.NoError(t, err)
		assert.Equal(t, "IDL:omg.org/CORBA/COMM_FAILURE:1.0", id)
	})

	t.Run("request service contexts", func(t *testing.T) {
		m := newFakeMediator("echo")
		c := newBoundClientContext(m)

		sc := contracts.ServiceContext{ID: testContextA, Data: []byte("one")}
		require.NoError(t, c.AddRequestServiceContext(sc, false))

		err := c.AddRequestServiceContext(contracts.ServiceContext{ID: testContextA, Data: []byte("two")}, false)
		assert.Equal(t, contracts.BadInvOrder, contracts.AsSystemException(err).Name)

		require.NoError(t, c.AddRequestServiceContext(contracts.ServiceContext{ID: testContextA, Data: []byte("three")}, true))
		got, err := c.GetRequestServiceContext(testContextA)
		require.NoError(t, err)
		assert.Equal(t, "three", string(got.Data))

		stored, ok := m.request.Get(testContextA)
		require.True(t, ok)
		assert.Equal(t, "three", string(stored.Data))

		_, err = c.GetRequestServiceContext(testContextB)
		assert.ErrorIs(t, err, ErrInvalidServiceContext)
	})

	t.Run("effective components and policies", func(t *testing.T) {
		m := newFakeMediator("echo")
		m.contact.effective.Profiles[0].Components = []contracts.TaggedComponent{
			{ID: 1, Data: []byte("x")},
			{ID: 1, Data: []byte("y")},
		}
		m.policies = map[contracts.PolicyType]contracts.Policy{
			40: &testPolicy{policyType: 40},
		}
		c := newBoundClientContext(m)

		component, err := c.GetEffectiveComponent(1)
		require.NoError(t, err)
		assert.Equal(t, "x", string(component.Data))

		components, err := c.GetEffectiveComponents(1)
		require.NoError(t, err)
		assert.Len(t, components, 2)

		_, err = c.GetEffectiveComponent(2)
		assert.ErrorIs(t, err, ErrInvalidComponent)

		policy, err := c.GetRequestPolicy(40)
		require.NoError(t, err)
		assert.Equal(t, contracts.PolicyType(40), policy.PolicyType())

		_, err = c.GetRequestPolicy(41)
		var policyErr *PolicyError
		require.ErrorAs(t, err, &policyErr)
		assert.ErrorIs(t, err, ErrBadPolicy)
	})

	t.Run("slot range", func(t *testing.T) {
		c := newBoundClientContext(newFakeMediator("echo"))

		v, err := c.GetSlot(1)
		require.NoError(t, err)
		assert.Nil(t, v)

		_, err = c.GetSlot(2)
		var slotErr *InvalidSlotError
		require.ErrorAs(t, err, &slotErr)
		assert.Equal(t, 2, slotErr.Count)
		assert.ErrorIs(t, err, ErrInvalidSlot)
	})
}

func TestServerRequestContextAccess(t *testing.T) {
	newContext := func() *ServerRequestContext {
		adapter := newFakeAdapter()
		adapter.policies = map[contracts.PolicyType]contracts.Policy{7: &testPolicy{policyType: 7}}
		return newServerRequestContext(newFakeMediator("echo"), adapter, []byte("object-1"), newSlotTable(1), discardLogger())
	}

	t.Run("adapter data is not available while receiving contexts", func(t *testing.T) {
		c := newContext()
		c.setPoint(PointStarting)

		_, err := c.ObjectID()
		assert.ErrorIs(t, err, ErrOrderingViolation)
		_, err = c.AdapterName()
		assert.ErrorIs(t, err, ErrOrderingViolation)
		_, err = c.TargetMostDerivedInterface()
		assert.ErrorIs(t, err, ErrOrderingViolation)

		policy, err := c.GetServerPolicy(7)
		require.NoError(t, err)
		assert.Equal(t, contracts.PolicyType(7), policy.PolicyType())
	})

	t.Run("adapter data after the servant is located", func(t *testing.T) {
		c := newContext()
		c.setPoint(PointIntermediate)

		objectID, err := c.ObjectID()
		require.NoError(t, err)
		assert.Equal(t, []byte("object-1"), objectID)

		name, err := c.AdapterName()
		require.NoError(t, err)
		assert.Equal(t, []string{"RootPOA", "child"}, name)

		serverID, err := c.ServerID()
		require.NoError(t, err)
		assert.Equal(t, "server-1", serverID)

		orbID, err := c.ORBID()
		require.NoError(t, err)
		assert.Equal(t, "orb-test", orbID)

		_, err = c.TargetMostDerivedInterface()
		assert.ErrorIs(t, err, ErrResourceUnavailable)
	})

	t.Run("missing object id", func(t *testing.T) {
		c := newServerRequestContext(newFakeMediator("echo"), nil, nil, newSlotTable(0), discardLogger())
		c.setPoint(PointIntermediate)

		_, err := c.ObjectID()
		assert.ErrorIs(t, err, ErrResourceUnavailable)
		_, err = c.AdapterID()
		assert.ErrorIs(t, err, ErrResourceUnavailable)
	})

	t.Run("signature data is never available", func(t *testing.T) {
		c := newContext()
		c.setPoint(PointIntermediate)

		_, err := c.Exceptions()
		assert.ErrorIs(t, err, ErrResourceUnavailable)
		_, err = c.Contexts()
		assert.ErrorIs(t, err, ErrResourceUnavailable)
	})

	t.Run("dynamic skeleton data", func(t *testing.T) {
		c := newContext()
		c.setPoint(PointIntermediate)

		_, err := c.Arguments()
		assert.ErrorIs(t, err, ErrUnsupportedOperation)

		c.dynamic = true
		c.dsiArguments = []contracts.Parameter{{Name: "text", Value: "hi"}}
		args, err := c.Arguments()
		require.NoError(t, err)
		assert.Len(t, args, 1)

		c.setPoint(PointEnding)
		c.setReplyStatus(StatusSuccessful)
		_, err = c.Result()
		assert.ErrorIs(t, err, ErrResourceUnavailable)
		c.dsiResult, c.dsiResultSet = "ok", true
		result, err := c.Result()
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
	})

	t.Run("sending exception only while sending an exception", func(t *testing.T) {
		c := newContext()
		c.setPoint(PointEnding)
		c.setReplyStatus(StatusSuccessful)

		_, err := c.SendingException()
		var ordering *OrderingError
		require.ErrorAs(t, err, &ordering)
		assert.Equal(t, "SendReply", ordering.Point)

		c.fail(systemException(contracts.Internal))
		got, err := c.SendingException()
		require.NoError(t, err)
		assert.Equal(t, contracts.Internal, contracts.AsSystemException(got).Name)
	})
}

func TestForwardTarget(t *testing.T) {
	first := contracts.NewIOR("IDL:test/Echo:1.0", "first", 1, nil)
	second := contracts.NewIOR("IDL:test/Echo:1.0", "second", 2, nil)

	t.Run("signal derives the address", func(t *testing.T) {
		var f forwardTarget
		assert.Nil(t, f.asAddress())
		assert.Nil(t, f.asSignal())

		fr := NewForwardRequest(first)
		f.setSignal(fr)
		assert.Same(t, fr, f.asSignal())
		assert.Same(t, first, f.asAddress())
	})

	t.Run("address derives the signal", func(t *testing.T) {
		var f forwardTarget
		f.setAddress(first)
		signal := f.asSignal()
		require.NotNil(t, signal)
		assert.Same(t, first, signal.Forward)
		assert.Same(t, signal, f.asSignal(), "derived form is cached")
	})

	t.Run("last write wins", func(t *testing.T) {
		var f forwardTarget
		f.setSignal(NewForwardRequest(first))
		_ = f.asAddress()
		f.setAddress(second)
		assert.Same(t, second, f.asAddress())
		assert.Same(t, second, f.asSignal().Forward)
	})
}

func TestSlotTable(t *testing.T) {
	t.Run("get and set within range", func(t *testing.T) {
		table := newSlotTable(2)
		require.NoError(t, table.Set(1, "value"))
		v, err := table.Get(1)
		require.NoError(t, err)
		assert.Equal(t, "value", v)

		v, err = table.Get(0)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("out of range", func(t *testing.T) {
		table := newSlotTable(2)
		assert.ErrorIs(t, table.Set(2, "x"), ErrInvalidSlot)
		_, err := table.Get(-1)
		assert.ErrorIs(t, err, ErrInvalidSlot)
	})

	t.Run("clone is independent", func(t *testing.T) {
		table := newSlotTable(1)
		require.NoError(t, table.Set(0, "a"))
		c := table.clone()
		require.NoError(t, c.Set(0, "b"))

		v, _ := table.Get(0)
		assert.Equal(t, "a", v)
	})

	t.Run("current needs a thread", func(t *testing.T) {
		h := bootstrapTest(t, setup{slots: 1})
		_, err := h.Current().GetSlot(context.Background(), 0)
		assert.ErrorIs(t, err, ErrInternal)
	})
}
