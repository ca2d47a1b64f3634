package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelWrappingPreservesIdentity(t *testing.T) {
	err := Wrap(ErrReadinessTimeout, "tab 42 unreachable")
	err = WithDetail(err, "Attempt: 3")

	assert.True(t, IsReadinessTimeout(err))
	assert.False(t, IsCaptureFailed(err))
	assert.Contains(t, err.Error(), "tab 42 unreachable")
}

func TestDetailsSurviveWrapping(t *testing.T) {
	err := New("remote rejected upload")
	err = WithDetail(err, "Chat ID: -1001")
	err = Wrap(err, "delivery attempt 2")

	details := GetAllDetails(err)
	require.Len(t, details, 1)
	assert.Equal(t, "Chat ID: -1001", details[0])
}

func TestIsDeliveryFailed(t *testing.T) {
	inner := Newf("http %d", 502)
	err := Wrap(WithSecondaryError(ErrDeliveryFailed, inner), "giving up")

	assert.True(t, IsDeliveryFailed(err))
	assert.False(t, IsDeliveryFailed(inner))
	assert.False(t, IsDeliveryFailed(nil))
}

func TestNotFoundHelpers(t *testing.T) {
	err := NewNotFoundError("alarm for tab", "42")
	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "alarm for tab 42")

	assert.False(t, IsNotFoundError(New("something else")))
}
