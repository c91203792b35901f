// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides HTTP request handlers for the orchestrator service.
//
// This file implements secure accumulation of streamed responses.
// Conversations with a companion carry intimate personal content, so the
// partial response is held in mlocked memory to prevent swapping to disk
// and is incrementally hashed for integrity verification.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// SecureBufferSize is the size of the mlocked buffer for response
	// accumulation. 512 KB holds roughly 131,000 tokens at 4 bytes per
	// token, ample for one companion response.
	//
	// The system must be configured with adequate mlock limits.
	SecureBufferSize = 512 * 1024

	// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
	MinMlockLimitKB = 512
)

// =============================================================================
// Package Variables
// =============================================================================

var (
	// memguardInitOnce ensures memguard initialization happens only once.
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization to indicate if secure memory is available.
	mlockSufficient bool

	// currentMlockLimitKB stores the current mlock limit for logging.
	currentMlockLimitKB int64
)

// =============================================================================
// Interfaces
// =============================================================================

// ResponseAccumulator defines the contract for accumulating a streamed
// response.
//
// # Description
//
// ResponseAccumulator abstracts storage of the partial response during
// generation, allowing secure and insecure implementations based on
// system capabilities. Fragments are hashed incrementally as they
// arrive for integrity verification.
//
// On cancellation the partial response must be discarded via Destroy,
// never persisted.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Examples
//
//	acc, err := NewSecureResponseAccumulator()
//	if err != nil {
//	    return err
//	}
//	defer acc.Destroy()
//
//	acc.Write("Hello ")
//	acc.Write("there.")
//	answer, hash, _ := acc.Finalize()
//
// # Limitations
//
//   - Buffer size is fixed (cannot grow dynamically)
//   - Accumulator cannot be reused after Finalize() or Destroy()
type ResponseAccumulator interface {
	// Write appends a response fragment.
	//
	// Copies fragment bytes into the buffer and updates the incremental
	// hash. Returns an error on overflow or after Destroy/Finalize.
	Write(fragment string) error

	// Finalize returns the accumulated response and its SHA-256 hash
	// (hex encoded), then wipes memory. Can only be called once.
	Finalize() (answer string, hash string, err error)

	// Destroy wipes memory without returning data. Use on error and
	// cancellation paths. Idempotent.
	Destroy()

	// ID returns a unique identifier for this accumulator instance,
	// used for logging.
	ID() string

	// CreatedAt returns when this accumulator was created.
	CreatedAt() time.Time
}

// =============================================================================
// Structs: Secure Implementation
// =============================================================================

// secureResponseAccumulator stores fragments in mlocked memory with
// incremental hashing.
//
// # Description
//
// Uses a memguard LockedBuffer for in-memory storage of the partial
// response. Memory protections include:
//   - Locked (mlock) to prevent swapping to disk
//   - Guard pages to detect buffer overflows
//   - Canary values to detect buffer underflows
//   - Explicit zeroing on Destroy() to prevent memory forensics
//   - Incremental SHA-256 hashing as fragments arrive
//
// # Thread Safety
//
// Safe for concurrent use. Uses mutex to protect internal state.
//
// # System Requirements
//
// Requires mlock limit >= SecureBufferSize (512 KB).
type secureResponseAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// =============================================================================
// Structs: Insecure Fallback Implementation
// =============================================================================

// insecureResponseAccumulator is a fallback for systems without
// sufficient mlock.
//
// # Description
//
// Provides the same interface as secureResponseAccumulator but uses
// standard Go memory. This is used when:
//   - mlock limits are insufficient
//   - MINDWELL_INSECURE_MEMORY=true is set
//
// # Security Warning
//
// This implementation does NOT provide the guarantees of the secure
// version. Data may be swapped to disk and is not protected by guard
// pages.
type insecureResponseAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// =============================================================================
// Constructor Functions
// =============================================================================

// NewSecureResponseAccumulator creates a new secure response accumulator.
//
// # Description
//
// Allocates a mlocked buffer of SecureBufferSize bytes. If the mlock
// limit is insufficient and MINDWELL_INSECURE_MEMORY is not set,
// returns an error. If MINDWELL_INSECURE_MEMORY=true, falls back to
// the insecure accumulator with a warning.
//
// # Outputs
//
//   - ResponseAccumulator: Ready for use (secure or insecure based on system)
//   - error: Non-nil if allocation failed and no fallback available
func NewSecureResponseAccumulator() (ResponseAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		return handleInsufficientMlock()
	}

	return allocateSecureBuffer()
}

// newInsecureResponseAccumulator creates an insecure fallback accumulator.
func newInsecureResponseAccumulator() ResponseAccumulator {
	accID := uuid.New().String()

	slog.Warn("Created INSECURE response accumulator - data may be swapped to disk",
		"accumulator_id", accID,
	)

	return &insecureResponseAccumulator{
		id:        accID,
		createdAt: time.Now(),
		data:      make([]byte, 0, SecureBufferSize),
		hasher:    sha256.New(),
	}
}

// =============================================================================
// secureResponseAccumulator Methods
// =============================================================================

// Write appends a fragment to the secure buffer.
//
// Fragments are hashed immediately as they arrive, never sitting
// unhashed. On overflow the accumulator is poisoned and all later
// writes fail.
func (a *secureResponseAccumulator) Write(fragment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.validateWriteState(); err != nil {
		return err
	}

	fragmentBytes := []byte(fragment)

	if err := a.checkBufferCapacity(len(fragmentBytes)); err != nil {
		return err
	}

	a.copyToBuffer(fragmentBytes)
	a.hasher.Write(fragmentBytes)

	return nil
}

// Finalize returns the accumulated response and its hash, then wipes
// the buffer.
func (a *secureResponseAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.validateFinalizeState(); err != nil {
		return "", "", err
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipeBuffer()

	slog.Debug("Finalized secure response accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
		"hash", hashStr[:16]+"...",
	)

	return answer, hashStr, nil
}

// Destroy wipes the buffer without returning data.
func (a *secureResponseAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}

	a.wipeBuffer()
	slog.Debug("Destroyed secure response accumulator",
		"accumulator_id", a.id,
	)
}

// ID returns the unique identifier for this accumulator instance.
func (a *secureResponseAccumulator) ID() string {
	return a.id
}

// CreatedAt returns when this accumulator was created.
func (a *secureResponseAccumulator) CreatedAt() time.Time {
	return a.createdAt
}

// =============================================================================
// secureResponseAccumulator Private Methods
// =============================================================================

// validateWriteState checks if the accumulator is in a valid state for writing.
func (a *secureResponseAccumulator) validateWriteState() error {
	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow - response too large")
	}
	return nil
}

// checkBufferCapacity verifies there is room for the fragment.
func (a *secureResponseAccumulator) checkBufferCapacity(fragmentLen int) error {
	if a.offset+fragmentLen > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			fragmentLen, SecureBufferSize-a.offset)
	}
	return nil
}

// copyToBuffer copies fragment bytes into the secure buffer.
func (a *secureResponseAccumulator) copyToBuffer(fragmentBytes []byte) {
	copy(a.buffer.Bytes()[a.offset:], fragmentBytes)
	a.offset += len(fragmentBytes)
}

// validateFinalizeState checks if the accumulator can be finalized.
func (a *secureResponseAccumulator) validateFinalizeState() error {
	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipeBuffer()
		return fmt.Errorf("buffer overflowed during accumulation")
	}
	return nil
}

// wipeBuffer destroys the secure buffer and marks as destroyed.
func (a *secureResponseAccumulator) wipeBuffer() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// insecureResponseAccumulator Methods
// =============================================================================

// Write appends a fragment to the insecure buffer.
func (a *insecureResponseAccumulator) Write(fragment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow - response too large")
	}

	fragmentBytes := []byte(fragment)

	if len(a.data)+len(fragmentBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(fragmentBytes), SecureBufferSize-len(a.data))
	}

	a.data = append(a.data, fragmentBytes...)
	a.hasher.Write(fragmentBytes)

	return nil
}

// Finalize returns the accumulated response and hash, attempting to
// zero memory. Due to Go's garbage collector, copies of the data may
// remain in memory; wiping is best-effort only.
func (a *insecureResponseAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipeData()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipeData()

	slog.Debug("Finalized insecure response accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
	)

	return answer, hashStr, nil
}

// Destroy attempts to wipe memory (best effort).
func (a *insecureResponseAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}

	a.wipeData()
	slog.Debug("Destroyed insecure response accumulator",
		"accumulator_id", a.id,
	)
}

// ID returns the unique identifier for this accumulator instance.
func (a *insecureResponseAccumulator) ID() string {
	return a.id
}

// CreatedAt returns when this accumulator was created.
func (a *insecureResponseAccumulator) CreatedAt() time.Time {
	return a.createdAt
}

// wipeData zeros the data slice (best effort).
func (a *insecureResponseAccumulator) wipeData() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// Package Initialization Functions
// =============================================================================

// initMemguard initializes the memguard library and checks mlock limits.
//
// Performs one-time initialization of memguard and validates that the
// system has sufficient mlock limits for secure memory operations.
// Called automatically when creating the first accumulator.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		logMlockStatus()
	})
}

// checkMlockLimit checks if the system has sufficient mlock limits.
//
// # Outputs
//
//   - bool: True if limit is sufficient (>= MinMlockLimitKB)
//   - int64: Current limit in kilobytes (-1 if unlimited)
//
// # Limitations
//
//   - Only works on Unix-like systems (Linux, macOS, BSD)
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// logMlockStatus logs the current mlock status.
func logMlockStatus() {
	if mlockSufficient {
		slog.Info("Secure memory initialized",
			"mlock_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"status", "sufficient",
		)
		return
	}

	if os.Getenv("MINDWELL_INSECURE_MEMORY") == "true" {
		slog.Warn("SECURITY: Running with insecure memory - mlock limit insufficient",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"env_override", "MINDWELL_INSECURE_MEMORY=true",
		)
	} else {
		slog.Error("mlock limit insufficient for secure memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"help", "Raise RLIMIT_MEMLOCK or set MINDWELL_INSECURE_MEMORY=true",
		)
	}
}

// handleInsufficientMlock handles the case when mlock limits are insufficient.
func handleInsufficientMlock() (ResponseAccumulator, error) {
	if os.Getenv("MINDWELL_INSECURE_MEMORY") == "true" {
		slog.Warn("Using insecure memory accumulator due to mlock limits",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
		)
		return newInsecureResponseAccumulator(), nil
	}
	return nil, fmt.Errorf(
		"mlock limit insufficient: have %d KB, need %d KB. "+
			"Configure system limits or set MINDWELL_INSECURE_MEMORY=true",
		currentMlockLimitKB, MinMlockLimitKB,
	)
}

// allocateSecureBuffer allocates a new secure buffer.
func allocateSecureBuffer() (ResponseAccumulator, error) {
	buf := memguard.NewBuffer(SecureBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", SecureBufferSize)
	}
	buf.Melt()

	accID := uuid.New().String()

	slog.Debug("Created secure response accumulator",
		"accumulator_id", accID,
		"buffer_size", SecureBufferSize,
	)

	return &secureResponseAccumulator{
		id:        accID,
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

// =============================================================================
// Utility Functions
// =============================================================================

// IsMlockAvailable returns whether secure memory is available on this
// system, along with the current mlock limit in KB (-1 if unlimited).
func IsMlockAvailable() (bool, int64) {
	initMemguard()
	return mlockSufficient, currentMlockLimitKB
}

// PurgeAllSecureMemory wipes all memguard-allocated memory.
//
// Should be called during graceful shutdown so sensitive conversation
// data is wiped from memory. After calling this all existing
// LockedBuffers are invalid.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
