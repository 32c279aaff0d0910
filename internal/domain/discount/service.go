package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
)

// maxGenerateAttempts bounds retries when a generated code collides.
const maxGenerateAttempts = 5

// CreateRequest holds the admin input for a new code. An empty Code asks
// the service to generate one.
type CreateRequest struct {
	Code       string
	Value      int64
	UsageLimit int
}

// Service manages discount codes for administrators.
type Service struct {
	repo     Repository
	now      func() time.Time
	generate func() (string, error)
}

// NewService creates a discount Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now, generate: GenerateCode}
}

// Create validates and stores a new discount with zero usage.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Discount, error) {
	if req.Value <= 0 {
		return nil, apperr.Validation("discountValue must be greater than 0")
	}
	if req.UsageLimit < 1 {
		return nil, apperr.Validation("usageLimit must be at least 1")
	}

	explicit := req.Code != ""
	attempts := 1
	if !explicit {
		attempts = maxGenerateAttempts
	}

	for range attempts {
		code := req.Code
		if explicit {
			var err error
			if code, err = NormalizeCode(code); err != nil {
				return nil, err
			}
		} else {
			var err error
			if code, err = s.generate(); err != nil {
				return nil, errors.Wrap(err, "generate code")
			}
		}

		d := &Discount{
			ID:         uuid.New().String(),
			Code:       code,
			Value:      req.Value,
			UsageLimit: req.UsageLimit,
			CreatedAt:  s.now().UTC(),
		}
		err := s.repo.Create(ctx, d)
		switch {
		case err == nil:
			return d, nil
		case errors.Is(err, ErrDuplicateCode) && !explicit:
			continue
		case errors.Is(err, ErrDuplicateCode):
			return nil, err
		default:
			return nil, errors.Wrap(err, "create discount")
		}
	}
	return nil, ErrDuplicateCode
}

// List returns all discount codes, newest first.
func (s *Service) List(ctx context.Context) ([]Discount, error) {
	return s.repo.List(ctx)
}

// Delete removes a discount by id. Orders keep their code snapshot.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
