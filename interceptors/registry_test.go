package interceptors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type destroyable struct {
	*recorder
	destroyed int
}

func (d *destroyable) Destroy() {
	d.destroyed++
}

// tagged is a value-type interceptor whose type cannot be a map key
type tagged struct {
	*recorder
	tags      []string
	destroyed *int
}

func (d tagged) Destroy() {
	*d.destroyed++
}

func TestRegistry(t *testing.T) {
	t.Run("duplicate names are rejected per kind", func(t *testing.T) {
		var log []string
		r := NewRegistry()

		require.NoError(t, r.Register(newRecorder("auth", &log), KindClient))
		err := r.Register(newRecorder("auth", &log), KindClient)

		var dup *DuplicateNameError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "auth", dup.Name)
		assert.ErrorIs(t, err, ErrDuplicateName)

		assert.NoError(t, r.Register(newRecorder("auth", &log), KindServer))
	})

	t.Run("anonymous interceptors never conflict", func(t *testing.T) {
		var log []string
		r := NewRegistry()

		require.NoError(t, r.Register(newRecorder("", &log), KindClient))
		require.NoError(t, r.Register(newRecorder("", &log), KindClient))
		r.Sort()
		assert.Len(t, r.Clients(), 2)
	})

	t.Run("wrong kind is rejected", func(t *testing.T) {
		r := NewRegistry()
		ior := NewIORInterceptorFunc("components", func(context.Context, IORInfo) error { return nil })

		assert.Error(t, r.Register(ior, KindClient))
		assert.Error(t, r.Register(nil, KindServer))
		assert.NoError(t, r.Register(ior, KindIOR))
	})

	t.Run("sort orders by priority then registration", func(t *testing.T) {
		var log []string
		low := newRecorder("low", &log)
		low.priority = -1
		first := newRecorder("first", &log)
		high := newRecorder("high", &log)
		high.priority = 10
		second := newRecorder("second", &log)

		r := NewRegistry()
		for _, i := range []*recorder{low, first, high, second} {
			require.NoError(t, r.Register(i, KindServer))
		}
		assert.False(t, r.HasAny(KindServer), "lists are built by Sort")

		r.Sort()
		r.Sort()

		assert.Equal(t, []string{"high", "first", "second", "low"}, r.Names(KindServer))
		require.Len(t, r.Servers(), 4)
		assert.Same(t, high, r.Servers()[0])
		assert.True(t, r.HasAny(KindServer))
		assert.False(t, r.HasAny(KindClient))
	})

	t.Run("frozen after sort", func(t *testing.T) {
		var log []string
		r := NewRegistry()
		r.Sort()

		assert.True(t, r.Frozen())
		assert.ErrorIs(t, r.Register(newRecorder("late", &log), KindClient), ErrRegistryFrozen)
	})

	t.Run("destroy runs once per interceptor", func(t *testing.T) {
		var log []string
		d := &destroyable{recorder: newRecorder("both", &log)}
		r := NewRegistry()
		require.NoError(t, r.Register(d, KindClient))
		require.NoError(t, r.Register(d, KindServer))
		r.Sort()

		r.DestroyAll()
		assert.Equal(t, 1, d.destroyed)
	})

	t.Run("destroy handles interceptors of non-comparable types", func(t *testing.T) {
		var log []string
		destroyed := 0
		i := tagged{recorder: newRecorder("tagged", &log), tags: []string{"a", "b"}, destroyed: &destroyed}
		h := bootstrapTest(t, setup{clients: []ClientRequestInterceptor{i}})

		assert.NotPanics(t, h.Destroy)
		assert.Equal(t, 1, destroyed)
	})
}
