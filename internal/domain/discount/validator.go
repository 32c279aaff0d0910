package discount

import (
	"context"

	"github.com/go-faster/errors"
)

// Validator checks a discount code without redeeming it.
type Validator interface {
	Check(ctx context.Context, code string) (*Discount, Status, error)
}

// RepoValidator implements Validator by looking codes up in a Repository.
type RepoValidator struct {
	repo Repository
}

var _ Validator = (*RepoValidator)(nil)

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo}
}

// Check normalizes the code, looks it up and classifies it. Only lookup
// failures are returned as errors; not-found and exhausted are statuses.
func (v *RepoValidator) Check(ctx context.Context, code string) (*Discount, Status, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, StatusNotFound, nil
	}

	d, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, StatusNotFound, nil
		}
		return nil, StatusNotFound, errors.Wrap(err, "lookup discount")
	}

	return d, Evaluate(d), nil
}
