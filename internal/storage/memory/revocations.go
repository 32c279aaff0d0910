package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

var _ auth.Revocations = (*Revocations)(nil)

// Revocations is an in-process auth.Revocations. Entries are only visible
// to the current instance.
type Revocations struct {
	mu     sync.Mutex
	tokens map[string]time.Time // token id -> expiry
	users  map[string]userRevocation
	now    func() time.Time
}

type userRevocation struct {
	at      time.Time
	expires time.Time
}

// NewRevocations returns an empty revocation list.
func NewRevocations() *Revocations {
	return &Revocations{
		tokens: make(map[string]time.Time),
		users:  make(map[string]userRevocation),
		now:    time.Now,
	}
}

func (r *Revocations) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens[tokenID] = r.now().Add(ttl)
	return nil
}

func (r *Revocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exp, ok := r.tokens[tokenID]
	if !ok {
		return false, nil
	}
	if r.now().After(exp) {
		delete(r.tokens, tokenID)
		return false, nil
	}
	return true, nil
}

func (r *Revocations) RevokeUser(_ context.Context, userID string, at time.Time, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[userID] = userRevocation{at: at.Truncate(time.Second), expires: r.now().Add(ttl)}
	return nil
}

func (r *Revocations) IsUserRevoked(_ context.Context, userID string, issuedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rev, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	if r.now().After(rev.expires) {
		delete(r.users, userID)
		return false, nil
	}
	return issuedAt.Before(rev.at), nil
}
