package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/healthdash/backend/internal/kv"
	"github.com/healthdash/backend/internal/models"
	"go.uber.org/zap"
)

// StateKey is the persisted key of the session record.
const StateKey = "session"

// Store persists the {identity, expiresAt} record as one value.
type Store struct {
	kv  kv.Store
	log *zap.Logger
}

func NewStore(store kv.Store, log *zap.Logger) *Store {
	return &Store{kv: store, log: log}
}

func (s *Store) Save(ctx context.Context, sess models.Session) error {
	if err := kv.SetJSON(ctx, s.kv, StateKey, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the persisted session. A record that cannot be decoded, or
// decodes into something that is not a session, is purged and reported as
// absent.
func (s *Store) Load(ctx context.Context) (models.Session, bool, error) {
	var sess models.Session
	found, err := kv.GetJSON(ctx, s.kv, StateKey, &sess)
	if errors.Is(err, kv.ErrCorrupt) || (found && !wellFormed(sess)) {
		s.log.Warn("purging corrupt session record", zap.Error(err))
		if err := s.Clear(ctx); err != nil {
			return models.Session{}, false, err
		}
		return models.Session{}, false, nil
	}
	if err != nil {
		return models.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	return sess, found, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, StateKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func wellFormed(sess models.Session) bool {
	return !sess.ExpiresAt.IsZero() &&
		sess.Identity.ID != 0 &&
		models.IsValidRole(sess.Identity.Role)
}
