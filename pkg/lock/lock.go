// Package lock provides the single-writer run lock that keeps overlapping
// ingestion cycles from mutating the ledger and the skill store at once.
package lock

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/osutil"
)

const (
	// DefaultTimeout is the maximum time to wait for the lock
	DefaultTimeout  = 30 * time.Second
	lockRetryDelay  = 50 * time.Millisecond
	lockRetryJitter = 50 * time.Millisecond // Add up to 50ms of jitter

	// incompleteLockGrace is how long a lock file without a PID and token is
	// assumed to be mid-write by its creator
	incompleteLockGrace = 10 * time.Second
)

var (
	// ErrTimeout is returned when another run holds the lock past the timeout
	ErrTimeout = errors.New("timeout waiting for lock")

	errHeld = errors.New("lock is held")
)

// Lock is a held file lock. The lock file carries the holder PID and an owner
// token so that a crashed holder can be detected and release never removes a
// lock taken over by someone else.
type Lock struct {
	path  string
	file  *os.File
	token string
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the lock at path, retrying with jitter until timeout elapses
// or ctx is cancelled. A lock file left behind by a dead process is reclaimed.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token := uuid.New().String()
	var held *Lock

	err := retry.Do(
		func() error {
			l, err := tryAcquire(ctx, path, token)
			if err != nil {
				return err
			}
			held = l
			return nil
		},
		retry.Context(waitCtx),
		retry.Attempts(0),
		retry.Delay(lockRetryDelay),
		retry.MaxJitter(lockRetryJitter),
		retry.DelayType(retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errHeld) }),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return held, nil
	}

	if ctx.Err() != nil {
		return nil, errors.Wrap(ctx.Err(), "lock acquisition cancelled")
	}
	if waitCtx.Err() != nil || errors.Is(err, errHeld) {
		return nil, errors.Wrapf(ErrTimeout, "lock %s still held after %s", path, timeout)
	}
	return nil, err
}

func tryAcquire(ctx context.Context, path, token string) (*Lock, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		if _, err := fmt.Fprintf(lockFile, "%d\n%s\n", os.Getpid(), token); err != nil {
			lockFile.Close()
			os.Remove(path)
			return nil, errors.Wrap(err, "failed to write lock file")
		}
		return &Lock{path: path, file: lockFile, token: token}, nil
	}

	if !os.IsExist(err) {
		return nil, retry.Unrecoverable(errors.Wrap(err, "failed to create lock file"))
	}

	log := logger.G(ctx).WithField("lock", path)
	pid, token, readErr := readLockFile(path)
	switch {
	case readErr != nil && os.IsNotExist(readErr):
		// released between our create and read
	case readErr != nil || token == "":
		if !incompleteExpired(path) {
			break
		}
		log.Warn("removing incomplete lock left by a crashed process")
		if err := removeStale(path); err != nil {
			return nil, err
		}
	case pid > 0 && !osutil.IsProcessAlive(pid):
		log.WithField("pid", pid).Warn("removing stale lock left by a dead process")
		if err := removeStale(path); err != nil {
			return nil, err
		}
	}

	return nil, errHeld
}

// incompleteExpired reports whether an unparsable lock file is older than the
// grace period its creator needs to write it
func incompleteExpired(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > incompleteLockGrace
}

func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return retry.Unrecoverable(errors.Wrap(err, "failed to remove stale lock"))
	}
	return nil
}

func readLockFile(path string) (int, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, "", err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, "", err
	}
	token := ""
	if len(lines) > 1 {
		token = strings.TrimSpace(lines[1])
	}
	return pid, token, nil
}

// Release removes the lock file if it is still owned by this holder
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""

	_, token, err := readLockFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read lock file")
	}
	if token != l.token {
		return errors.Errorf("lock %s is owned by another holder", path)
	}
	return os.Remove(path)
}

// With executes fn while holding the lock at path. The lock is released on
// every exit path, including a panic in fn.
func With(ctx context.Context, path string, timeout time.Duration, fn func(context.Context) error) error {
	l, err := Acquire(ctx, path, timeout)
	if err != nil {
		return errors.Wrap(err, "failed to acquire lock")
	}

	defer func() {
		if releaseErr := l.Release(); releaseErr != nil {
			logger.G(ctx).WithError(releaseErr).Warn("failed to release lock")
		}
	}()

	return fn(ctx)
}
