package redis

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// KeyPrefixSourceLock is the prefix for per-source harvest locks
	KeyPrefixSourceLock = "urnh:lock:source:"
	// KeyLastRun is the hash of source id -> last finished run summary
	KeyLastRun = "urnh:runs:last"
)

// SourceLockKey returns the Redis key guarding harvests of a source
func SourceLockKey(sourceID int64) string {
	return KeyPrefixSourceLock + strconv.FormatInt(sourceID, 10)
}

// ExtractSourceID extracts the source ID from a lock key
func ExtractSourceID(key string) (int64, error) {
	if !strings.HasPrefix(key, KeyPrefixSourceLock) || len(key) == len(KeyPrefixSourceLock) {
		return 0, fmt.Errorf("invalid source lock key: %s", key)
	}
	id, err := strconv.ParseInt(key[len(KeyPrefixSourceLock):], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid source lock key %s: %w", key, err)
	}
	return id, nil
}
