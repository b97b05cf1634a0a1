package annotation

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTL_ExpiryDisposes(t *testing.T) {
	r := newRegistry(t)
	target := Value(&point{})
	d := newDoc("short lived", WithTTL(20*time.Millisecond))

	_, err := r.Bind(d, target)
	require.NoError(t, err)

	left, ok := r.TTL(d)
	require.True(t, ok)
	assert.LessOrEqual(t, left, 20*time.Millisecond)

	assert.Eventually(t, d.Disposed, time.Second, 5*time.Millisecond)
	assert.Empty(t, r.Local(target, Any))

	_, ok = r.TTL(d)
	assert.False(t, ok)
}

func TestSetTTL_DisableCancelsExpiry(t *testing.T) {
	r := newRegistry(t)
	target := Value(&point{})
	d := newDoc("x")

	_, err := r.Bind(d, target)
	require.NoError(t, err)

	require.NoError(t, r.SetTTL(d, 20*time.Millisecond))
	require.NoError(t, r.SetTTL(d, 0))

	_, ok := r.TTL(d)
	assert.False(t, ok)

	time.Sleep(60 * time.Millisecond)
	assert.False(t, d.Disposed())
	assert.Len(t, r.Local(target, Any), 1)
}

func TestSetTTL_ResetReplacesPendingTimer(t *testing.T) {
	r := newRegistry(t)
	d := newDoc("x")
	_, err := r.Bind(d, Value(&point{}))
	require.NoError(t, err)

	require.NoError(t, r.SetTTL(d, 10*time.Millisecond))
	require.NoError(t, r.SetTTL(d, time.Hour))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, d.Disposed())

	left, ok := r.TTL(d)
	require.True(t, ok)
	assert.Greater(t, left, 50*time.Minute)
}

func TestTTL_ExpiryRacesExplicitDispose(t *testing.T) {
	r := newRegistry(t)

	for i := 0; i < 20; i++ {
		target := Value(&point{})
		d := newDoc("x", WithTTL(time.Millisecond))
		_, err := r.Bind(d, target)
		require.NoError(t, err)

		time.Sleep(time.Millisecond)
		r.Dispose(d)
		_ = r.Unbind(d, target)

		assert.True(t, d.Disposed())
		assert.Empty(t, r.Local(target, Any))
	}
}

func TestMemory_IndexByConcreteType(t *testing.T) {
	r := newRegistry(t)
	d1, d2 := newDoc("a"), newDoc("b")
	tg := newTag("c")

	require.NoError(t, r.SetInMemory(d1, true))
	require.NoError(t, r.SetInMemory(d2, true))
	require.NoError(t, r.SetInMemory(tg, true))
	require.NoError(t, r.SetInMemory(d2, true))

	assert.ElementsMatch(t, []Annotation{d1, d2}, r.Memory(Of(reflect.TypeOf(d1))))
	assert.Len(t, r.Memory(Any), 3)
	assert.True(t, r.InMemory(d1))

	require.NoError(t, r.SetInMemory(d1, false))
	require.NoError(t, r.SetInMemory(d2, false))
	assert.Empty(t, r.Memory(Of(reflect.TypeOf(d1))))
	assert.ElementsMatch(t, []reflect.Type{reflect.TypeOf(tg)}, r.MemoryTypes())
}

func TestFreeMemory_RespectsExclude(t *testing.T) {
	r := newRegistry(t)
	d, tg := newDoc("a"), newTag("b")
	require.NoError(t, r.SetInMemory(d, true))
	require.NoError(t, r.SetInMemory(tg, true))

	r.FreeMemory(TypeOf[Annotation](), reflect.TypeOf(tg))

	assert.False(t, r.InMemory(d))
	assert.True(t, r.InMemory(tg))
	assert.Equal(t, []Annotation{tg}, r.Memory(Any))
	assert.False(t, d.Disposed())

	r.FreeMemory(TypeOf[Annotation]())
	assert.Empty(t, r.MemoryTypes())
}
