package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/internal/testutil"
)

// Interface compliance (compile-time assertion)
var _ core.SessionStore = (*InMemoryStore)(nil)

func TestInMemoryStore_CreateAndGet(t *testing.T) {
	s := NewInMemoryStore()

	created, err := s.Create("chat-1")
	require.NoError(t, err)
	assert.Equal(t, "chat-1", created.ID)

	_, err = s.Create("chat-1")
	require.ErrorIs(t, err, ErrSessionExists)

	got, err := s.Get("chat-2")
	require.NoError(t, err)
	assert.Empty(t, got.GetEvents())
	assert.Equal(t, 2, s.Len(), "Get creates lazily")
}

func TestInMemoryStore_AppendAndTitle(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AppendEvent("chat-1", testutil.NewEventBuilder().Turn("t1").UserText("How much did I spend?").Build()))
	require.NoError(t, s.AppendEvent("chat-1", testutil.NewEventBuilder().Turn("t1").AssistantText("About 1,400 EUR.").Build()))
	require.NoError(t, s.SetTitle("chat-1", "Monthly spending"))

	sess, err := s.Get("chat-1")
	require.NoError(t, err)
	assert.Equal(t, "Monthly spending", sess.GetTitle())
	require.Len(t, sess.GetEvents(), 2)

	// returned sessions are clones
	sess.AddEvent(core.NewUserMessageEvent("t2", "local only"))
	again, _ := s.Get("chat-1")
	assert.Len(t, again.GetEvents(), 2)
}

func TestInMemoryStore_ConcurrentAppends(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.AppendEvent("chat-1", core.NewUserMessageEvent("t", fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()
	sess, _ := s.Get("chat-1")
	assert.Len(t, sess.GetEvents(), 50)
}
