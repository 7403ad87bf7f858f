package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	base := errors.New("connection refused")

	transient := fmt.Errorf("accept event: %w", Transient("dedup.accept", base))
	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))
	assert.ErrorIs(t, transient, base)
	assert.Contains(t, transient.Error(), "dedup.accept: connection refused")

	permanent := fmt.Errorf("handle: %w", Permanent(errors.New("unknown entry type")))
	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsTransient(permanent))

	auth := Auth("signature mismatch")
	assert.True(t, IsAuth(auth))
	assert.ErrorIs(t, auth, ErrAuthentication)
	assert.Equal(t, "signature mismatch", auth.Error())

	assert.False(t, IsTransient(nil))
	assert.Nil(t, Transient("op", nil))
	assert.Nil(t, Permanent(nil))

	// Sentinel wrapping works without the classified type
	assert.True(t, IsPermanent(fmt.Errorf("%w: bad payload", ErrPermanent)))
	assert.Equal(t, "transient", ClassTransient.String())
}
