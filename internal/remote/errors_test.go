package remote

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryHint(t *testing.T) {
	d, ok := RetryHint(Retry("query", 5*time.Second, errors.New("busy")))
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)
}

func TestRetryHint_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", Retry("query", time.Second, errors.New("busy")))
	d, ok := RetryHint(err)
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)
}

func TestRetryHint_NoHint(t *testing.T) {
	_, ok := RetryHint(Fatal("query", errors.New("denied")))
	assert.False(t, ok)

	_, ok = RetryHint(errors.New("plain"))
	assert.False(t, ok)
}

func TestTransportError_Message(t *testing.T) {
	err := Retry("create-subscription", 2*time.Second, errors.New("throttled"))
	assert.Equal(t, "create-subscription: throttled (retry after 2s)", err.Error())
	assert.Equal(t, "fetch: gone", Fatal("fetch", errors.New("gone")).Error())
}

func TestCursor_Done(t *testing.T) {
	assert.True(t, Cursor("").Done())
	assert.False(t, Cursor("abc").Done())
}
