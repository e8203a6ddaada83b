package objectstore

import (
	"errors"
	"testing"

	"github.com/kenneth/bae-engine/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestClassifyFallsBackToTransientWithoutHTTPStatus(t *testing.T) {
	// Network-level failures (DNS, dropped connections, timeouts) never
	// carry an HTTP status, and must still be retryable.
	err := classify("objectstore", "put test-key", errors.New("connection reset by peer"))

	assert.True(t, errs.Is(err, errs.KindStorageTransient))
	assert.True(t, errs.IsRetryable(err))
}
