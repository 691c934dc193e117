package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darkhold/internal/chat"
	"darkhold/internal/storage"
)

func sampleLog() []chat.Message {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	bot := chat.NewBotMessage("**Thor** is the god of thunder", t0.Add(time.Second))
	bot.Reactions = map[string]int{"⚡": 2, "🔥": 1}
	return []chat.Message{
		chat.NewUserMessage("tell me about thor", t0),
		bot,
	}
}

func TestStore_LoadEmpty(t *testing.T) {
	s := NewStore(storage.NewMemoryStore(), "chat-1")
	msgs, err := s.Load()
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)

	shown, err := s.GreetingShown()
	require.NoError(t, err)
	assert.False(t, shown)
}

func TestStore_SaveLoadIsIdempotent(t *testing.T) {
	kv, err := storage.NewFileStore(filepath.Join(t.TempDir(), "kv.json"))
	require.NoError(t, err)
	s := NewStore(kv, "chat-1")
	require.NoError(t, s.Save(sampleLog()))

	before, _, err := kv.Get("chat-1/" + ConversationKey)
	require.NoError(t, err)

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Save(loaded))

	after, _, err := kv.Get("chat-1/" + ConversationKey)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, sampleLog()[1].Reactions, loaded[1].Reactions)
}

func TestStore_ClearRemovesLogAndFlag(t *testing.T) {
	kv := storage.NewMemoryStore()
	s := NewStore(kv, "chat-1")
	other := NewStore(kv, "chat-2")
	require.NoError(t, s.Save(sampleLog()))
	require.NoError(t, s.MarkGreetingShown())
	require.NoError(t, other.Save(sampleLog()))

	require.NoError(t, s.Clear())

	msgs, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, msgs)
	shown, err := s.GreetingShown()
	require.NoError(t, err)
	assert.False(t, shown)

	otherMsgs, err := other.Load()
	require.NoError(t, err)
	assert.Len(t, otherMsgs, 2)
}

func TestSessions(t *testing.T) {
	kv := storage.NewMemoryStore()
	require.NoError(t, NewStore(kv, "a").Save(nil))
	require.NoError(t, NewStore(kv, "b").Save(sampleLog()))
	require.NoError(t, NewStore(kv, "c").MarkGreetingShown())

	ids, err := Sessions(kv)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestStore_WrapsStorageErrors(t *testing.T) {
	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Close())
	s := NewStore(kv, "x")

	_, err := s.Load()
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.ErrorIs(t, s.Save(sampleLog()), ErrPersistence)
	assert.ErrorIs(t, s.Clear(), ErrPersistence)
}
