package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"darkhold/internal/chat"
	"darkhold/internal/storage"
)

const (
	ConversationKey  = "@darkhold_chat_history"
	GreetingShownKey = "@darkhold_greeting_shown"
)

var ErrPersistence = errors.New("conversation persistence failed")

// Store is the durable conversation log of one session. Save always replaces
// the whole log, so callers must pass the complete transcript.
type Store struct {
	kv      storage.Store
	session string
}

func NewStore(kv storage.Store, session string) *Store {
	return &Store{kv: kv, session: session}
}

func (s *Store) Session() string { return s.session }

func (s *Store) key(name string) string { return s.session + "/" + name }

// Load returns the persisted log, or an empty log when nothing was saved yet.
func (s *Store) Load() ([]chat.Message, error) {
	raw, ok, err := s.kv.Get(s.key(ConversationKey))
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrPersistence, s.session, err)
	}
	msgs := []chat.Message{}
	if !ok || len(raw) == 0 {
		return msgs, nil
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrPersistence, s.session, err)
	}
	return msgs, nil
}

func (s *Store) Save(msgs []chat.Message) error {
	if msgs == nil {
		msgs = []chat.Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrPersistence, s.session, err)
	}
	if err := s.kv.Set(s.key(ConversationKey), raw); err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrPersistence, s.session, err)
	}
	return nil
}

// Clear drops both the log and the greeting flag in one storage operation.
func (s *Store) Clear() error {
	if err := s.kv.Delete(s.key(ConversationKey), s.key(GreetingShownKey)); err != nil {
		return fmt.Errorf("%w: clear %s: %v", ErrPersistence, s.session, err)
	}
	return nil
}

func (s *Store) GreetingShown() (bool, error) {
	raw, ok, err := s.kv.Get(s.key(GreetingShownKey))
	if err != nil {
		return false, fmt.Errorf("%w: greeting flag %s: %v", ErrPersistence, s.session, err)
	}
	return ok && string(raw) == "true", nil
}

func (s *Store) MarkGreetingShown() error {
	if err := s.kv.Set(s.key(GreetingShownKey), []byte("true")); err != nil {
		return fmt.Errorf("%w: mark greeting %s: %v", ErrPersistence, s.session, err)
	}
	return nil
}

// Sessions lists every session that has a persisted log.
func Sessions(kv storage.Store) ([]string, error) {
	keys, err := kv.Keys("")
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrPersistence, err)
	}
	suffix := "/" + ConversationKey
	var out []string
	for _, k := range keys {
		if strings.HasSuffix(k, suffix) {
			out = append(out, strings.TrimSuffix(k, suffix))
		}
	}
	return out, nil
}
