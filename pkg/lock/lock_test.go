package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPIDAndToken(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "skillgate.lock")

	l, err := Acquire(context.Background(), lockPath, time.Second)
	require.NoError(t, err)
	assert.Equal(t, lockPath, l.Path())

	pid, token, err := readLockFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, l.token, token)

	require.NoError(t, l.Release())
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "skillgate.lock")

	held, err := Acquire(context.Background(), lockPath, time.Second)
	require.NoError(t, err)
	defer held.Release()

	_, err = Acquire(context.Background(), lockPath, 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "skillgate.lock")

	// PIDs this large are never allocated on Linux or macOS
	require.NoError(t, os.WriteFile(lockPath, []byte(fmt.Sprintf("%d\nstale-token\n", 1<<30)), 0o644))

	l, err := Acquire(context.Background(), lockPath, 2*time.Second)
	require.NoError(t, err)
	defer l.Release()

	pid, _, err := readLockFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireReclaimsIncompleteLock(t *testing.T) {
	for name, content := range map[string]string{
		"empty":       "",
		"partial pid": "12",
		"garbage":     "not-a-pid\n",
	} {
		t.Run(name, func(t *testing.T) {
			lockPath := filepath.Join(t.TempDir(), "skillgate.lock")
			require.NoError(t, os.WriteFile(lockPath, []byte(content), 0o644))
			old := time.Now().Add(-time.Minute)
			require.NoError(t, os.Chtimes(lockPath, old, old))

			l, err := Acquire(context.Background(), lockPath, 2*time.Second)
			require.NoError(t, err)
			defer l.Release()

			pid, token, err := readLockFile(lockPath)
			require.NoError(t, err)
			assert.Equal(t, os.Getpid(), pid)
			assert.Equal(t, l.token, token)
		})
	}
}

func TestAcquireWaitsOnFreshIncompleteLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "skillgate.lock")
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))

	_, err := Acquire(context.Background(), lockPath, 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))

	_, err = os.Stat(lockPath)
	assert.NoError(t, err, "a lock file still being written is left alone")
}

func TestReleaseDoesNotRemoveForeignLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "skillgate.lock")

	l, err := Acquire(context.Background(), lockPath, time.Second)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(lockPath, []byte(fmt.Sprintf("%d\nsomeone-else\n", os.Getpid())), 0o644))

	assert.Error(t, l.Release())
	_, err = os.Stat(lockPath)
	assert.NoError(t, err)
}

func TestWithReleasesOnError(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "skillgate.lock")
	boom := errors.New("boom")

	var executed bool
	err := With(context.Background(), lockPath, time.Second, func(context.Context) error {
		executed = true
		_, statErr := os.Stat(lockPath)
		assert.NoError(t, statErr, "lock file must exist while fn runs")
		return boom
	})

	assert.True(t, executed)
	assert.ErrorIs(t, err, boom)
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireCancelled(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "skillgate.lock")

	held, err := Acquire(context.Background(), lockPath, time.Second)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Acquire(ctx, lockPath, time.Second)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
}
