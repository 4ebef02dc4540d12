package actions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoAction(name string) *Action {
	return &Action{
		Name:    name,
		Inputs:  []string{"value"},
		Outputs: []string{"value"},
		Handler: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
			return map[string]any{"value": inputs["value"]}, nil
		},
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(echoAction("echo"))

	t.Run("get existing", func(t *testing.T) {
		a, err := r.Get("echo")
		require.NoError(t, err)
		assert.Equal(t, []string{"value"}, a.Inputs)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := r.Get("ghost")
		require.Error(t, err)
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("has and names", func(t *testing.T) {
		assert.True(t, r.Has("echo"))
		assert.False(t, r.Has("ghost"))
		assert.Equal(t, []string{"echo"}, r.Names())
		assert.Equal(t, 1, r.Len())
	})
}

func TestRegistryFreeze(t *testing.T) {
	r := NewRegistry()
	r.Register(echoAction("echo"))
	r.Freeze()

	assert.Panics(t, func() { r.Register(echoAction("late")) })
	assert.True(t, r.Has("echo"), "reads still work after freeze")
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(echoAction("echo"))
	assert.Panics(t, func() { r.Register(echoAction("echo")) })
}

func TestRegistryConcurrentReaders(_ *testing.T) {
	r := NewRegistry()
	r.Register(echoAction("echo"))
	r.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Get("echo")
			_ = r.Has("echo")
			_ = r.Names()
		}()
	}
	wg.Wait()
}

func TestValidatorRegistry(t *testing.T) {
	r := NewValidatorRegistry()
	r.Register("nonempty", NonEmpty)

	assert.True(t, r.Has("nonempty"))
	assert.NoError(t, r.Validate("nonempty", "New York"))

	err := r.Validate("nonempty", "   ")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	// Unregistered validator names accept; startup validation catches them.
	assert.NoError(t, r.Validate("ghost", "anything"))
}

func TestNormalizerRegistry(t *testing.T) {
	r := NewNormalizerRegistry()
	r.Register("trim", TrimSpace)

	v, err := r.Normalize("trim", "  Boston  ")
	require.NoError(t, err)
	assert.Equal(t, "Boston", v)

	v, err = r.Normalize("ghost", "  Boston  ")
	require.NoError(t, err)
	assert.Equal(t, "  Boston  ", v, "unregistered normalizer passes through")
}
