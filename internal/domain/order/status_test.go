package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
)

func TestStatus_TransitionMatrix(t *testing.T) {
	all := []Status{StatusPending, StatusShipping, StatusCompleted, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusShipping}:   true,
		{StatusPending, StatusCancelled}:  true,
		{StatusShipping, StatusCompleted}: true,
		{StatusShipping, StatusCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)

			err := Transition(from, to)
			if want {
				assert.NoError(t, err)
				continue
			}
			var trErr *InvalidStatusTransitionError
			require.ErrorAs(t, err, &trErr)
			assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusShipping.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("SHIPPING")
	require.NoError(t, err)
	assert.Equal(t, StatusShipping, s)

	_, err = ParseStatus("shipping")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestLine_Total(t *testing.T) {
	assert.Equal(t, int64(300), Line{Quantity: 3, UnitPrice: 100}.Total())
}
