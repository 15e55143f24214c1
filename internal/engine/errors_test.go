package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncError_Format(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := newError(ErrCodePartialAttribution, "attribute_rescue", "sos-1", "counter not credited", cause)

	assert.Equal(t, "PARTIAL_ATTRIBUTION: counter not credited (op=attribute_rescue, id=sos-1): dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "NOT_FOUND: gone (op=delete_sos)", newError(ErrCodeNotFound, "delete_sos", "", "gone", nil).Error())
	assert.Equal(t, "FORBIDDEN: no", newError(ErrCodeForbidden, "", "", "no", nil).Error())
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("cli: %w", newError(ErrCodeUnknownRescuer, "attribute_rescue", "sos-1", "x", nil))
	assert.Equal(t, ErrCodeUnknownRescuer, CodeOf(wrapped))
	assert.True(t, IsUnknownRescuer(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestClock_Monotonic(t *testing.T) {
	now := fixedNow
	c := NewClock(func() time.Time { return now })

	a := c.Millis()
	b := c.Millis()
	assert.Equal(t, fixedNow.UnixMilli(), a)
	assert.Equal(t, a+1, b, "stalled clock still advances")

	now = fixedNow.Add(-time.Hour)
	assert.Equal(t, b+1, c.Millis(), "clock stepping back never goes backwards")

	now = fixedNow.Add(time.Second)
	assert.Equal(t, now.UnixMilli(), c.Millis())
}
