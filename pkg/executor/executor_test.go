package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Guards(t *testing.T) {
	// Guard checks run before the store is touched, so a nil handle is fine.
	e := New(nil, 30*time.Second, 100)

	t.Run("write statements are refused", func(t *testing.T) {
		_, err := e.Run(context.Background(), "DELETE FROM sales")
		assert.ErrorIs(t, err, ErrNotReadOnly)
	})

	t.Run("stacked statements are refused", func(t *testing.T) {
		_, err := e.Run(context.Background(), "SELECT 1; SELECT 2")
		require.Error(t, err)

		var engineErr *EngineError
		require.True(t, errors.As(err, &engineErr))
		assert.Contains(t, engineErr.Message, "one SQL statement")
	})

	t.Run("empty input is refused", func(t *testing.T) {
		_, err := e.Run(context.Background(), "   ")
		assert.Error(t, err)
	})
}

func TestEngineError(t *testing.T) {
	t.Run("pg errors carry their sqlstate", func(t *testing.T) {
		err := engineError(&pgconn.PgError{
			Message: `syntax error at or near "SELEC"`,
			Code:    "42601",
		})
		assert.Equal(t, "42601", err.Code)
		assert.Contains(t, err.Error(), "SQLSTATE 42601")
	})

	t.Run("deadline maps to the time cap message", func(t *testing.T) {
		err := engineError(context.DeadlineExceeded)
		assert.Contains(t, err.Message, "time cap")
		assert.Empty(t, err.Code)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		err := engineError(errors.New("connection refused"))
		assert.Equal(t, "connection refused", err.Message)
	})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "text", normalize([]byte("text")))
	assert.Equal(t, int64(7), normalize(int64(7)))
	assert.Nil(t, normalize(nil))
}

func TestDefaults(t *testing.T) {
	e := New(nil, 0, 0)
	assert.Equal(t, 30*time.Second, e.queryTimeout)
	assert.Equal(t, 10_000, e.rowCap)
}
