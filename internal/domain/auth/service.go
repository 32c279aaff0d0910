package auth

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
)

// SignUpRequest holds the input for creating an account.
type SignUpRequest struct {
	Name      string
	Email     string
	PhoneNum  string
	Password  string
	Addresses []string
}

// Session is a signed-in user with their bearer token.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *User
}

// Service implements sign up, sign in and account administration.
type Service struct {
	users       UserRepository
	tokens      *Tokens
	revocations Revocations
	cost        int
	now         func() time.Time
}

// NewService creates an auth Service. cost is the bcrypt cost factor.
func NewService(users UserRepository, tokens *Tokens, revocations Revocations, cost int) *Service {
	return &Service{
		users:       users,
		tokens:      tokens,
		revocations: revocations,
		cost:        cost,
		now:         time.Now,
	}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(p string) error {
	if len(p) < minPasswordLength {
		return apperr.Validation("password must be at least 8 characters")
	}
	if len(p) > maxPasswordLength {
		return apperr.Validation("password must be at most 72 bytes")
	}
	return nil
}

// SignUp creates a USER account and signs it in.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*Session, error) {
	name := strings.TrimSpace(req.Name)
	email := NormalizeEmail(req.Email)
	phone := strings.TrimSpace(req.PhoneNum)
	switch {
	case name == "":
		return nil, apperr.Validation("name required")
	case !strings.Contains(email, "@"):
		return nil, apperr.Validation("email is invalid")
	case phone == "":
		return nil, apperr.Validation("phoneNum required")
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password, s.cost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PhoneNum:     phone,
		Addresses:    req.Addresses,
		PasswordHash: hash,
		Role:         RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create user")
	}

	zctx.From(ctx).Info("User signed up", zap.String("user_id", u.ID))
	return s.session(u)
}

// SignIn verifies credentials and issues a token.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "get user")
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if u.Banned {
		return nil, ErrBanned
	}
	return s.session(u)
}

func (s *Service) session(u *User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}

// Authenticate verifies a bearer token and returns its principal. Revoked
// tokens and tokens of banned users are rejected.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Principal{}, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Principal{}, errors.Wrap(err, "check token revocation")
	}
	if revoked {
		return Principal{}, ErrUnauthorized
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	revoked, err = s.revocations.IsUserRevoked(ctx, claims.Subject, issuedAt)
	if err != nil {
		return Principal{}, errors.Wrap(err, "check user revocation")
	}
	if revoked {
		return Principal{}, ErrUnauthorized
	}

	return Principal{
		UserID:    claims.Subject,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Me returns the caller's account.
func (s *Service) Me(ctx context.Context, p Principal) (*User, error) {
	return s.users.GetByID(ctx, p.UserID)
}

// SignOut revokes the caller's token until it expires.
func (s *Service) SignOut(ctx context.Context, p Principal) error {
	ttl := p.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.revocations.Revoke(ctx, p.TokenID, ttl); err != nil {
		return errors.Wrap(err, "revoke token")
	}
	return nil
}

// ChangePassword replaces the caller's password, revokes every token issued
// before the change and returns a fresh session.
func (s *Service) ChangePassword(ctx context.Context, p Principal, oldPassword, newPassword string) (*Session, error) {
	if err := validatePassword(newPassword); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if !CheckPassword(u.PasswordHash, oldPassword) {
		return nil, ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword, s.cost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.users.UpdatePassword(ctx, u.ID, hash, now); err != nil {
		return nil, errors.Wrap(err, "update password")
	}
	if err := s.revocations.RevokeUser(ctx, u.ID, now, s.tokens.TTL()); err != nil {
		return nil, errors.Wrap(err, "revoke user tokens")
	}
	u.PasswordHash = hash
	u.UpdatedAt = now

	zctx.From(ctx).Info("Password changed", zap.String("user_id", u.ID))
	return s.session(u)
}

// ListUsers returns a page of users and the total count.
func (s *Service) ListUsers(ctx context.Context, page, pageSize int) ([]User, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return s.users.List(ctx, page, min(pageSize, 100))
}

// ToggleBan flips the banned flag of a user. Banning revokes the user's
// outstanding tokens. Admins cannot ban themselves.
func (s *Service) ToggleBan(ctx context.Context, actor Principal, userID string) (*User, error) {
	if actor.UserID == userID {
		return nil, apperr.Validation("cannot ban yourself")
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	banned := !u.Banned
	if err := s.users.SetBanned(ctx, u.ID, banned, now); err != nil {
		return nil, errors.Wrap(err, "set banned")
	}
	if banned {
		if err := s.revocations.RevokeUser(ctx, u.ID, now, s.tokens.TTL()); err != nil {
			return nil, errors.Wrap(err, "revoke user tokens")
		}
	}
	u.Banned = banned
	u.UpdatedAt = now

	zctx.From(ctx).Info("User ban toggled",
		zap.String("user_id", u.ID),
		zap.Bool("banned", banned),
		zap.String("actor_id", actor.UserID),
	)
	return u, nil
}
