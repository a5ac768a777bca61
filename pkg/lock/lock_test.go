package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"
)

func TestLockAcquired(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "sweeper", "worker-1")

	mock.ExpectSetNX("lock:sweeper", "worker-1", 5*time.Second).SetVal(true)

	require.NoError(t, locker.Lock(context.Background(), 5*time.Second))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockHeldElsewhere(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "sweeper", "worker-1")

	mock.ExpectSetNX("lock:sweeper", "worker-1", 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	require.True(t, errors.Is(err, ErrLockHeld))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "sweeper", "worker-1")

	mock.ExpectEval(unlockScript, []string{"lock:sweeper"}, "worker-1").SetVal(int64(1))
	require.NoError(t, locker.Unlock(context.Background()))

	mock.ExpectEval(unlockScript, []string{"lock:sweeper"}, "worker-1").SetVal(int64(0))
	require.Error(t, locker.Unlock(context.Background()))

	require.NoError(t, mock.ExpectationsWereMet())
}
