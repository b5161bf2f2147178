package ports

import (
	"errors"
	"fmt"
)

// Sentinels returned by adapters. Domain failures such as a locked score or
// a stale version live in the domain package; these describe the plumbing.
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrCacheCorrupted   = errors.New("cache corrupted")
	ErrConfigNotFound   = errors.New("configuration not found")

	// ErrNotifierClosed is returned by Notify after Close.
	ErrNotifierClosed = errors.New("notifier closed")

	// ErrQueueFull means the event was dropped, not delayed.
	ErrQueueFull = errors.New("notification queue full")
)

// StoreError ties a backend failure to the store method and record key
// that produced it.
type StoreError struct {
	Operation string
	Key       string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Operation, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err for operation on key.
func NewStoreError(operation, key string, err error) *StoreError {
	return &StoreError{Operation: operation, Key: key, Err: err}
}

// CacheError reports a cache read or write that failed, including an entry
// whose stored value had an unexpected type.
type CacheError struct {
	Key       string
	Operation string
	Err       error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Operation, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

func NewCacheError(key, operation string, err error) *CacheError {
	return &CacheError{Key: key, Operation: operation, Err: err}
}

// ConfigError names the configuration key, file path or environment
// variable that could not be resolved.
type ConfigError struct {
	ConfigKey string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.ConfigKey, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{ConfigKey: key, Err: err}
}

// NotifyError is a failure to hand an event to its transport. Subject is
// the destination it was published to.
type NotifyError struct {
	Subject string
	Err     error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Subject, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

func NewNotifyError(subject string, err error) *NotifyError {
	return &NotifyError{Subject: subject, Err: err}
}
