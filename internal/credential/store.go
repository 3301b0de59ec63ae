// Package credential owns the single persistent bearer credential slot.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"financial-advisor/client/internal/credential/repository"
)

// DefaultSlot is the slot key used when none is configured.
const DefaultSlot = "access_token"

// ErrEmptyToken is returned by Save for an empty or whitespace-only token.
var ErrEmptyToken = errors.New("credential: token must be non-empty")

// Store wraps one named slot of a Repository. At most one credential is held at a time;
// Save replaces it and Clear removes it.
type Store struct {
	repo   repository.Repository
	slot   string
	logger *slog.Logger
}

// NewStore returns a Store over slot in repo. An empty slot uses DefaultSlot; nil logger uses slog.Default().
func NewStore(repo repository.Repository, slot string, logger *slog.Logger) *Store {
	if slot == "" {
		slot = DefaultSlot
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, slot: slot, logger: logger}
}

// Save persists token; a subsequent Load returns it.
func (s *Store) Save(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrEmptyToken
	}
	return s.repo.Put(ctx, s.slot, token)
}

// Load returns the stored token, or ok false when there is none.
// Storage failures are logged and reported as none.
func (s *Store) Load(ctx context.Context) (token string, ok bool) {
	v, ok, err := s.repo.Get(ctx, s.slot)
	if err != nil {
		s.logger.WarnContext(ctx, "credential load failed", "operation", "credential.load", "slot", s.slot, "error", err)
		return "", false
	}
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Clear removes the stored token. Clearing an empty slot succeeds.
func (s *Store) Clear(ctx context.Context) error {
	return s.repo.Delete(ctx, s.slot)
}
