package infrastructure

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketWs/internal/modules/realtime/domain"
)

func newAuthed(t *testing.T, h *Hub, id, user string) *domain.Connection {
	t.Helper()
	c := domain.NewConnection(id, 8)
	h.Register(c)
	_, err := h.Authenticate(c, user, "")
	require.NoError(t, err)
	return c
}

func TestHub_JoinThenLeaveExcludesConnection(t *testing.T) {
	h := NewHub()
	c := newAuthed(t, h, "c1", "alice")

	added, err := h.Join(c, "job-42")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []*domain.Connection{c}, h.Members("job-42"))

	added, err = h.Join(c, "job-42")
	require.NoError(t, err)
	assert.False(t, added, "second join is a no-op")
	assert.Len(t, h.Members("job-42"), 1)

	assert.True(t, h.Leave(c, "job-42"))
	assert.Empty(t, h.Members("job-42"))
	assert.False(t, c.InRoom("job-42"))
	assert.False(t, h.Leave(c, "job-42"))
}

func TestHub_JoinRequiresAuthentication(t *testing.T) {
	h := NewHub()
	c := domain.NewConnection("c1", 8)
	h.Register(c)

	_, err := h.Join(c, "job-42")
	assert.True(t, errors.Is(err, domain.ErrAuth))
	assert.Empty(t, h.Members("job-42"))
}

func TestHub_ReleaseRemovesAllRooms(t *testing.T) {
	h := NewHub()
	c := newAuthed(t, h, "c1", "alice")
	other := newAuthed(t, h, "c2", "bob")
	for _, room := range []string{"r1", "r2"} {
		_, err := h.Join(c, room)
		require.NoError(t, err)
		_, err = h.Join(other, room)
		require.NoError(t, err)
	}

	user, last, released := h.Release(c)
	assert.Equal(t, "alice", user)
	assert.True(t, last)
	assert.True(t, released)
	assert.Equal(t, []*domain.Connection{other}, h.Members("r1"))
	assert.Equal(t, []*domain.Connection{other}, h.Members("r2"))
	assert.Empty(t, h.Resolve("alice"))
	assert.True(t, c.Closed())

	_, _, released = h.Release(c)
	assert.False(t, released, "release is idempotent")
}

func TestHub_MultiDeviceMemberships(t *testing.T) {
	h := NewHub()
	phone := domain.NewConnection("c1", 8)
	laptop := domain.NewConnection("c2", 8)
	h.Register(phone)
	h.Register(laptop)

	first, err := h.Authenticate(phone, "alice", "")
	require.NoError(t, err)
	assert.True(t, first)
	first, err = h.Authenticate(laptop, "alice", "")
	require.NoError(t, err)
	assert.False(t, first)

	_, err = h.Join(phone, "job-1")
	require.NoError(t, err)
	_, err = h.Join(laptop, "job-1")
	require.NoError(t, err)

	assert.Len(t, h.Members("job-1"), 2)
	assert.Len(t, h.Resolve("alice"), 2)

	_, last, _ := h.Release(phone)
	assert.False(t, last)
	assert.Equal(t, []string{"alice"}, h.OnlineUsers())
}

func TestHub_UnknownRoomIsEmpty(t *testing.T) {
	h := NewHub()
	assert.Empty(t, h.Members("nope"))
	assert.Empty(t, h.Resolve("nobody"))
}

func TestHub_ConcurrentJoinRelease(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := domain.NewConnection(fmt.Sprintf("c%02d", i), 4)
			h.Register(c)
			if _, err := h.Authenticate(c, fmt.Sprintf("user-%d", i%5), ""); err != nil {
				t.Errorf("authenticate: %v", err)
				return
			}
			if _, err := h.Join(c, "lobby"); err != nil {
				t.Errorf("join: %v", err)
				return
			}
			if i%2 == 0 {
				h.Release(c)
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, h.Members("lobby"), 25)
}

func TestHub_CloseReleasesEverything(t *testing.T) {
	h := NewHub()
	c := newAuthed(t, h, "c1", "alice")
	_, err := h.Join(c, "r1")
	require.NoError(t, err)

	h.Close()
	assert.True(t, c.Closed())
	assert.Empty(t, h.Connections())

	late := domain.NewConnection("c2", 1)
	h.Register(late)
	assert.True(t, late.Closed())
}
