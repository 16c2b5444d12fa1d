package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/emunwa/internal/device"
)

func TestRegistry_AddAndLookup(t *testing.T) {
	r := NewRegistry()
	a := &Entry{Name: "snes9x - 1", client: newFakeClient()}
	b := &Entry{Name: "bsnes - 2", client: newFakeClient()}

	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"snes9x - 1", "bsnes - 2"}, r.Names())
	assert.Same(t, b, r.Lookup("bsnes - 2"))
	assert.Nil(t, r.Lookup("mesen - 3"))
}

func TestRegistry_DuplicateClientRejected(t *testing.T) {
	r := NewRegistry()
	c := newFakeClient()
	require.NoError(t, r.Add(&Entry{Name: "snes9x - 1", client: c}))

	err := r.Add(&Entry{Name: "snes9x - 2", client: c})

	require.ErrorIs(t, err, ErrDuplicateClient)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DuplicateNameKeepsFirst(t *testing.T) {
	r := NewRegistry()
	first := &Entry{Name: "snes9x - 1", client: newFakeClient()}
	second := &Entry{Name: "snes9x - 1", client: newFakeClient()}

	require.NoError(t, r.Add(first))
	require.NoError(t, r.Add(second))

	assert.Equal(t, 2, r.Len())
	assert.Same(t, first, r.Lookup("snes9x - 1"))
}

func TestRegistry_RemoveClient(t *testing.T) {
	r := NewRegistry()
	c1, c2 := newFakeClient(), newFakeClient()
	d1 := device.New("snes9x - 1")
	require.NoError(t, r.Add(&Entry{Name: "snes9x - 1", client: c1, device: d1}))
	require.NoError(t, r.Add(&Entry{Name: "bsnes - 2", client: c2}))

	removed := r.RemoveClient(c1)

	require.NotNil(t, removed)
	assert.Equal(t, "snes9x - 1", removed.Name)
	assert.True(t, c1.isClosed())
	assert.Equal(t, device.StateClosed, d1.State())
	assert.False(t, c2.isClosed())
	assert.Equal(t, []string{"bsnes - 2"}, r.Names())

	assert.Nil(t, r.RemoveClient(newFakeClient()), "unregistered client is a no-op")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RemoveDevice(t *testing.T) {
	r := NewRegistry()
	d := device.New("snes9x - 1")
	c := newFakeClient()
	require.NoError(t, r.Add(&Entry{Name: "snes9x - 1", client: c, device: d}))
	require.NoError(t, r.Add(&Entry{Name: "bsnes - 2", client: newFakeClient()}))

	assert.Nil(t, r.RemoveDevice(nil))
	assert.Nil(t, r.RemoveDevice(device.New("snes9x - 1")), "removal is by identity, not name")

	removed := r.RemoveDevice(d)
	require.NotNil(t, removed)
	assert.True(t, c.isClosed())
	assert.Equal(t, []string{"bsnes - 2"}, r.Names())
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry()
	c1, c2 := newFakeClient(), newFakeClient()
	require.NoError(t, r.Add(&Entry{Name: "a", client: c1}))
	require.NoError(t, r.Add(&Entry{Name: "b", client: c2}))

	r.Clear()

	assert.Zero(t, r.Len())
	assert.True(t, c1.isClosed())
	assert.True(t, c2.isClosed())
}
