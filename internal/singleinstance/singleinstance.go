// Package singleinstance lets the first process started under an application
// name become the holder of that name, while every later process forwards
// its arguments to the holder and exits.
//
// Ownership is an exclusive non-blocking lock on a file in the application
// directory. Arguments travel over a named pipe in that directory using the
// frame protocol of package wire.
package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"libsingleinstance/internal/wire"
)

const (
	lockName = "lock"
	pipeName = "singleinstance_pipe"
	pidName  = "pid"

	forwardRetries    = 100
	forwardRetryDelay = 20 * time.Millisecond
)

// Message is one argument list forwarded by another invocation.
type Message = wire.Message

// Slot locates the files backing an application's instance slot.
type Slot struct {
	App      string
	Dir      string
	LockPath string
	PipePath string
	PIDPath  string
}

// ResolveSlot computes the slot paths for appName without touching the
// filesystem.
func ResolveSlot(appName string, opts ...Option) (Slot, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return Slot{}, err
	}
	return resolveSlot(appName, cfg.baseDir)
}

func resolveSlot(appName, baseDir string) (Slot, error) {
	if appName == "" || strings.ContainsAny(appName, `/\`) || appName == "." || appName == ".." {
		return Slot{}, ErrInvalidAppName
	}
	if baseDir == "" {
		var err error
		if baseDir, err = homeDir(); err != nil {
			return Slot{}, err
		}
	}

	dir := filepath.Join(baseDir, "."+appName)
	return Slot{
		App:      appName,
		Dir:      dir,
		LockPath: filepath.Join(dir, lockName),
		PipePath: filepath.Join(dir, pipeName),
		PIDPath:  filepath.Join(dir, pidName),
	}, nil
}

func homeDir() (string, error) {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home, nil
	}
	if user := os.Getenv("USER"); user != "" {
		return filepath.Join("/home", user), nil
	}
	return "", ErrNoBaseDir
}

// Acquire claims the instance slot of appName. The first caller gets an
// Instance that receives the arguments of later callers. Later callers
// forward args to it and get ErrAlreadyRunning with a nil Instance.
//
// By convention args[0] is the program name.
func Acquire(appName string, args []string, opts ...Option) (*Instance, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	slot, err := resolveSlot(appName, cfg.baseDir)
	if err != nil {
		return nil, err
	}
	if err := ensureSlot(slot); err != nil {
		return nil, err
	}

	lock := flock.New(slot.LockPath, flock.SetFlag(os.O_CREATE|os.O_WRONLY))
	for attempt := 0; ; attempt++ {
		locked, err := lock.TryLock()
		if err != nil {
			return nil, &ResourceError{Op: "lock", Path: slot.LockPath, Err: err}
		}
		if locked {
			break
		}

		// The holder may hold the lock without having opened the channel
		// yet, or may have just exited. Retry both the lock and the send.
		err = forward(slot, cfg, args)
		if err == nil {
			cfg.incr(MetricForwardCount, 1, appName)
			cfg.logger.Debug().Str("app", appName).Uint32("sender", cfg.senderID).Int("args", len(args)).Msg("Arguments forwarded to running instance")
			return nil, ErrAlreadyRunning
		}
		if !isNoReader(err) || attempt >= forwardRetries {
			return nil, err
		}
		time.Sleep(forwardRetryDelay)
	}

	ep, err := openEndpoint(slot.PipePath)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	// Record the holder so other tools can find it
	if err := os.WriteFile(slot.PIDPath, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		cfg.logger.Warn().Err(err).Str("path", slot.PIDPath).Msg("Failed to record holder pid")
	}

	cfg.logger.Info().Str("app", appName).Str("dir", slot.Dir).Msg("Instance slot acquired")
	return newInstance(slot, cfg, lock, ep), nil
}

func forward(slot Slot, cfg *config, args []string) error {
	payload, err := wire.Encode(args)
	if err != nil {
		return fmt.Errorf("singleinstance: encode arguments: %w", err)
	}

	f, err := openForward(slot.PipePath)
	if err != nil {
		return &ResourceError{Op: "open", Path: slot.PipePath, Err: err}
	}
	defer f.Close()

	if err := wire.WriteFrames(f, cfg.senderID, payload); err != nil {
		return &ResourceError{Op: "write", Path: slot.PipePath, Err: err}
	}
	return nil
}

// HolderPID returns the pid recorded by the current holder of appName, or
// ErrNotRunning if the slot is free.
func HolderPID(appName string, opts ...Option) (int, error) {
	slot, err := ResolveSlot(appName, opts...)
	if err != nil {
		return 0, err
	}

	if _, err := os.Stat(slot.Dir); errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotRunning
	}
	lock := flock.New(slot.LockPath, flock.SetFlag(os.O_CREATE|os.O_WRONLY))
	locked, err := lock.TryLock()
	if err != nil {
		return 0, &ResourceError{Op: "lock", Path: slot.LockPath, Err: err}
	}
	if locked {
		lock.Unlock()
		return 0, ErrNotRunning
	}

	data, err := os.ReadFile(slot.PIDPath)
	if err != nil {
		return 0, fmt.Errorf("cannot read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in pid file: %w", err)
	}
	return pid, nil
}
