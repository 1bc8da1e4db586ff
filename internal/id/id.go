// Package id produces identifiers for jobs and log entries.
package id

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

const shortAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewJobID returns a UUID string for a new scrape job.
func NewJobID() (string, error) {
	v, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return v.String(), nil
}

// NewRecordID returns a UUID string for database rows where id generation
// cannot fail mid-transaction.
func NewRecordID() string {
	return uuid.NewString()
}

// NewShortID returns a random lowercase alphanumeric string of the given
// length, used for log-entry ids and synthesized SKUs.
func NewShortID(length int) string {
	if length <= 0 {
		length = 12
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read on supported platforms never fails; fall back to uuid
		// bytes if it somehow does.
		copy(buf, uuid.NewString())
	}
	for i, b := range buf {
		buf[i] = shortAlphabet[int(b)%len(shortAlphabet)]
	}
	return string(buf)
}
