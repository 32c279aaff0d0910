package memory

import (
	"context"
	"slices"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

var _ auth.UserRepository = (*Users)(nil)

// Users implements auth.UserRepository.
type Users struct {
	db *DB
}

// Create stores a user, rejecting duplicate emails.
func (r *Users) Create(_ context.Context, u *auth.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, o := range r.db.users {
		if o.Email == u.Email {
			return auth.ErrEmailTaken
		}
	}
	r.db.users[u.ID] = cloneUser(u)
	return nil
}

// GetByID returns a user by id.
func (r *Users) GetByID(_ context.Context, id string) (*auth.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	u, ok := r.db.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// GetByEmail returns a user by normalized email.
func (r *Users) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, u := range r.db.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, auth.ErrUserNotFound
}

// List returns a page of users, newest first.
func (r *Users) List(_ context.Context, page, pageSize int) ([]auth.User, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	all := make([]auth.User, 0, len(r.db.users))
	for _, u := range r.db.users {
		all = append(all, *cloneUser(u))
	}
	slices.SortFunc(all, func(a, b auth.User) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return paginate(all, page, pageSize), len(all), nil
}

// UpdatePassword replaces a user's password hash.
func (r *Users) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	u, ok := r.db.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = at
	return nil
}

// SetBanned sets a user's banned flag.
func (r *Users) SetBanned(_ context.Context, id string, banned bool, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	u, ok := r.db.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.Banned = banned
	u.UpdatedAt = at
	return nil
}
