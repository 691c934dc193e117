package auth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"darkhold/internal/storage"
)

const keyPrefix = "allowlist/"

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Service decides who may talk to the bot. Users come from ALLOWED_USERS
// and from the allowlist persisted in the store. Anyone else is denied
// unless open access was configured.
type Service struct {
	kv           storage.Store
	mu           sync.RWMutex
	allowedUsers map[int64]User
	open         bool
}

type Option func(*Service)

// WithOpenAccess admits every user regardless of the allowlist.
func WithOpenAccess(open bool) Option {
	return func(s *Service) { s.open = open }
}

// New preloads the persisted allowlist from kv, which may be nil, and merges
// the initial ids into it without persisting them.
func New(kv storage.Store, initial []int64, opts ...Option) (*Service, error) {
	s := &Service{kv: kv, allowedUsers: make(map[int64]User)}
	for _, opt := range opts {
		opt(s)
	}
	if kv != nil {
		keys, err := kv.Keys(keyPrefix)
		if err != nil {
			return nil, fmt.Errorf("load allowlist: %w", err)
		}
		for _, k := range keys {
			raw, ok, err := kv.Get(k)
			if err != nil {
				return nil, fmt.Errorf("load allowlist: %w", err)
			}
			var u User
			if !ok || json.Unmarshal(raw, &u) != nil {
				continue
			}
			s.allowedUsers[u.ID] = u
		}
	}
	for _, id := range initial {
		if _, ok := s.allowedUsers[id]; !ok {
			s.allowedUsers[id] = User{ID: id}
		}
	}
	return s, nil
}

func (s *Service) IsAllowed(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.open {
		return true
	}
	_, ok := s.allowedUsers[userID]
	return ok
}

func (s *Service) Upsert(user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedUsers[user.ID] = user
	if s.kv == nil {
		return nil
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.kv.Set(key(user.ID), raw)
}

func (s *Service) Remove(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allowedUsers, userID)
	if s.kv == nil {
		return nil
	}
	return s.kv.Delete(key(userID))
}

func (s *Service) Open() bool { return s.open }

// List returns the allowlist ordered by user id.
func (s *Service) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.allowedUsers))
	for _, u := range s.allowedUsers {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func key(id int64) string { return keyPrefix + strconv.FormatInt(id, 10) }
