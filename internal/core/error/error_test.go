package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := New(base, http.StatusBadRequest, "bad input")

	assert.Equal(t, "bad input: boom", err.Error())
	assert.ErrorIs(t, err, base)

	var appErr *AppError
	require.True(t, errors.As(fmt.Errorf("outer: %w", err), &appErr))
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
}

func TestWrapRedis(t *testing.T) {
	assert.NoError(t, WrapRedis(nil))
	assert.Equal(t, http.StatusNotFound, StatusOf(WrapRedis(redis.Nil)))
	assert.Equal(t, http.StatusBadGateway, StatusOf(WrapRedis(errors.New("conn reset"))))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusOf(nil))
	assert.Equal(t, http.StatusTooManyRequests, StatusOf(fmt.Errorf("turn: %w", ErrQuotaExhausted)))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(ErrIterationLimit))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(WrapStore(errors.New("disk full"))))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("anything")))
}
