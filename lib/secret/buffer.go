// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds one credential in locked, non-dumpable memory. A Buffer
// must not be copied. After Close every accessor except Len and Close
// panics.
type Buffer struct {
	mu     sync.Mutex
	region []byte
	length int
	closed bool
}

// FromString copies value into a new Buffer. Go strings are immutable,
// so the caller's copy cannot be scrubbed; callers should drop their
// reference promptly.
func FromString(value string) (*Buffer, error) {
	if value == "" {
		return nil, fmt.Errorf("secret: empty credential")
	}
	buffer, err := allocate(len(value))
	if err != nil {
		return nil, err
	}
	copy(buffer.region, value)
	return buffer, nil
}

// FromBytes copies source into a new Buffer and zeroes source.
func FromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: empty credential")
	}
	buffer, err := allocate(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.region, source)
	clear(source)
	return buffer, nil
}

func allocate(size int) (*Buffer, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}
	return &Buffer{region: region, length: size}, nil
}

// Bytes returns the credential. The slice aliases the locked region and
// is invalid after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustBeOpen()
	return b.region[:b.length]
}

// String returns a heap copy of the credential, for HTTP headers and
// cookies that only accept strings.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustBeOpen()
	return string(b.region[:b.length])
}

// Equal reports whether value matches the credential, in constant time.
func (b *Buffer) Equal(value string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustBeOpen()
	return subtle.ConstantTimeCompare(b.region[:b.length], []byte(value)) == 1
}

// Fingerprint returns the credential's log-safe fingerprint.
func (b *Buffer) Fingerprint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustBeOpen()
	return Fingerprint(b.region[:b.length])
}

// Len returns the credential length in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

func (b *Buffer) mustBeOpen() {
	if b.closed {
		panic("secret: use of closed buffer")
	}
}

// Close zeroes the credential and releases its memory. It is safe to
// call more than once.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	clear(b.region)

	var firstError error
	if err := unix.Munlock(b.region); err != nil {
		firstError = fmt.Errorf("secret: munlock: %w", err)
	}
	if err := unix.Munmap(b.region); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap: %w", err)
	}
	b.region = nil
	return firstError
}
