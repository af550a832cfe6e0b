package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("a", func(ctx context.Context) error { return nil }, time.Second)
	h.AddCheck("b", func(ctx context.Context) error { return nil }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["a"])
	assert.Equal(t, "healthy", status.Checks["b"])
}

func TestHealthChecker_ReportsFailure(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(ctx context.Context) error { return nil }, time.Second)
	h.AddCheck("bad", func(ctx context.Context) error { return errors.New("down") }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "down", status.Checks["bad"])
	assert.Equal(t, "healthy", status.Checks["ok"])
}

func TestHealthChecker_CheckTimeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
}
