package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewErrorMessageHasNoCauseSuffix(t *testing.T) {
	err := New(KindPlanning, "layout", "empty cue sheet")
	assert.Equal(t, "planning[layout]: empty cue sheet", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrapErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindCache, "chunkcache", "write failed", cause)
	assert.Equal(t, "cache[chunkcache]: write failed: disk full", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestIsMatchesWrappedKind(t *testing.T) {
	err := New(KindStorageTransient, "objectstore", "timeout")
	wrapped := fmt.Errorf("upload chunk 3: %w", err)

	assert.True(t, Is(wrapped, KindStorageTransient))
	assert.False(t, Is(wrapped, KindStoragePermanent))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindDB))
}

func TestIsRetryableOnlyForStorageTransient(t *testing.T) {
	assert.True(t, IsRetryable(New(KindStorageTransient, "objectstore", "timeout")))
	assert.False(t, IsRetryable(New(KindStoragePermanent, "objectstore", "forbidden")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsFatalToCallerExceptCache(t *testing.T) {
	assert.True(t, IsFatalToCaller(New(KindDB, "catalog", "constraint violation")))
	assert.True(t, IsFatalToCaller(New(KindDecoder, "streamingsource", "malformed audio")))
	assert.False(t, IsFatalToCaller(New(KindCache, "chunkcache", "permission denied")))
	assert.False(t, IsFatalToCaller(nil))
}
