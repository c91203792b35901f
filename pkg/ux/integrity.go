// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Mindwell CLI.
//
// This file defines integrity verification types for hash chain
// validation. The hash chain provides tamper-evident records of
// streaming conversations.
//
// Hash Chain Design:
//
//	Each StreamEvent has a Hash computed from its content and a PrevHash
//	linking to the previous event:
//
//	Event[0] → Event[1] → Event[2] → ... → Event[N]
//	  Hash₀     Hash₁     Hash₂           HashN
//	    ↑         ↑         ↑               ↑
//	    └─────────┴─────────┴───────────────┘
//	           Each PrevHash links to previous Hash
//
// If any event is modified, its hash changes, breaking the chain.
package ux

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// secureHashEqual performs constant-time comparison of two hash strings.
// This prevents timing attacks where an attacker could determine how many
// leading characters of a hash are correct by measuring response times.
func secureHashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// =============================================================================
// Interfaces
// =============================================================================

// ChainVerifier verifies the integrity of a hash chain.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ChainVerifier interface {
	// Verify checks the integrity of a sequence of stream events.
	//
	// # Inputs
	//
	//   - events: Ordered list of stream events from one stream
	//
	// # Outputs
	//
	//   - *ChainVerificationResult: Detailed verification results
	//
	// # Assumptions
	//
	//   - Events are in arrival order
	//   - First event has empty PrevHash
	Verify(events []StreamEvent) *ChainVerificationResult
}

// HashComputer computes cryptographic hashes.
//
// Abstracts hash computation for testability. The event hash formula
// must match the server's writer exactly or verification always fails.
type HashComputer interface {
	// ComputeEventHash computes the hash for a stream event from its
	// metadata and content fields. The event's own Hash field is not
	// part of the input.
	ComputeEventHash(event StreamEvent) string

	// ComputeContentHash computes a SHA-256 hash of arbitrary content.
	ComputeContentHash(content string) string
}

// =============================================================================
// Structs
// =============================================================================

// IntegrityInfo surfaces hash chain verification results to users.
//
// # Description
//
// Shows that a conversation stream is protected by a hash chain and
// whether verification passed. Hashes are safe to display; they cannot
// be reversed to reveal content.
//
// # Thread Safety
//
// IntegrityInfo is NOT thread-safe. Use external synchronization if
// modifying from multiple goroutines.
type IntegrityInfo struct {
	ChainHash         string `json:"chain_hash"`
	ContentHash       string `json:"content_hash"`
	ChainLength       int    `json:"chain_length"`
	IntegrityVerified bool   `json:"integrity_verified"`
	VerificationError string `json:"verification_error,omitempty"`
	VerifiedAt        int64  `json:"verified_at,omitempty"`
}

// ChainVerificationResult contains detailed results from chain verification.
//
// # Fields
//
//   - Valid: Whether the entire chain is valid
//   - ChainLength: Number of events verified
//   - FinalHash: The hash of the last event in the chain
//   - InvalidEventIndex: Index of first invalid event (-1 if all valid)
//   - ExpectedHash: What the hash should have been (if invalid)
//   - ActualHash: What the hash actually was (if invalid)
//   - ErrorMessage: Human-readable error description
//
// # Thread Safety
//
// Immutable after creation. Safe for concurrent read access.
type ChainVerificationResult struct {
	Valid             bool   `json:"valid"`
	ChainLength       int    `json:"chain_length"`
	FinalHash         string `json:"final_hash,omitempty"`
	InvalidEventIndex int    `json:"invalid_event_index"`
	ExpectedHash      string `json:"expected_hash,omitempty"`
	ActualHash        string `json:"actual_hash,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// fullChainVerifier verifies chains by recomputing all hashes.
type fullChainVerifier struct {
	hashComputer HashComputer
}

// sha256HashComputer computes hashes using SHA-256. Stateless and
// thread-safe.
type sha256HashComputer struct{}

// =============================================================================
// Constructor Functions
// =============================================================================

// NewIntegrityInfoFromVerification creates IntegrityInfo from a
// verification result. Use after calling Verify on a ChainVerifier.
func NewIntegrityInfoFromVerification(verification *ChainVerificationResult) *IntegrityInfo {
	return &IntegrityInfo{
		ChainHash:         verification.FinalHash,
		ChainLength:       verification.ChainLength,
		IntegrityVerified: verification.Valid,
		VerificationError: verification.ErrorMessage,
		VerifiedAt:        time.Now().UnixMilli(),
	}
}

// NewFullChainVerifier creates a verifier that recomputes all hashes.
//
// The returned verifier checks both hash correctness (recomputing each
// event's hash from its content) and chain links (each PrevHash matches
// the previous event's Hash).
func NewFullChainVerifier() ChainVerifier {
	return &fullChainVerifier{
		hashComputer: NewSHA256HashComputer(),
	}
}

// NewSHA256HashComputer creates the production hash computer.
func NewSHA256HashComputer() HashComputer {
	return &sha256HashComputer{}
}

// =============================================================================
// IntegrityInfo Methods
// =============================================================================

// FormatForDisplay returns a formatted string for UI display.
//
// # Examples
//
//	info := &IntegrityInfo{ChainLength: 47, IntegrityVerified: true}
//	fmt.Println(info.FormatForDisplay())
//	// "✓ Verified | Chain: 47 events | Hash: a3f2c8d9...a9b0"
func (i *IntegrityInfo) FormatForDisplay() string {
	status := "✓ Verified"
	if !i.IntegrityVerified {
		status = "✗ FAILED"
	}

	hashDisplay := truncateHash(i.ChainHash)
	if i.ChainHash == "" {
		hashDisplay = "N/A"
	}

	return fmt.Sprintf("%s | Chain: %d events | Hash: %s",
		status, i.ChainLength, hashDisplay)
}

// =============================================================================
// fullChainVerifier Methods
// =============================================================================

// Verify fully verifies the chain by recomputing all hashes.
//
// # Description
//
// Performs complete verification by:
//  1. Checking the first event has empty PrevHash
//  2. Verifying each event's PrevHash matches the previous event's Hash
//  3. Recomputing each event's hash from content
//  4. Verifying the computed hash matches the stored Hash
//
// # Limitations
//
//   - Computationally expensive for large event chains
//   - Requires access to the original event content
func (v *fullChainVerifier) Verify(events []StreamEvent) *ChainVerificationResult {
	result := &ChainVerificationResult{
		Valid:             true,
		ChainLength:       len(events),
		InvalidEventIndex: -1,
	}

	if len(events) == 0 {
		return result
	}

	if events[0].PrevHash != "" {
		result.Valid = false
		result.InvalidEventIndex = 0
		result.ActualHash = events[0].PrevHash
		result.ErrorMessage = "first event should have empty PrevHash"
		return result
	}

	prevHash := ""
	for i, event := range events {
		if !secureHashEqual(event.PrevHash, prevHash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = prevHash
			result.ActualHash = event.PrevHash
			result.ErrorMessage = fmt.Sprintf(
				"chain broken at event %d: expected PrevHash %s, got %s",
				i, truncateHash(prevHash), truncateHash(event.PrevHash),
			)
			return result
		}

		computedHash := v.hashComputer.ComputeEventHash(event)
		if !secureHashEqual(computedHash, event.Hash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = computedHash
			result.ActualHash = event.Hash
			result.ErrorMessage = fmt.Sprintf(
				"hash mismatch at event %d: computed %s, stored %s (content may have been modified)",
				i, truncateHash(computedHash), truncateHash(event.Hash),
			)
			return result
		}

		prevHash = event.Hash
	}

	result.FinalHash = events[len(events)-1].Hash
	return result
}

// =============================================================================
// sha256HashComputer Methods
// =============================================================================

// ComputeEventHash computes the SHA-256 hash for a stream event.
//
// The input is the pipe-joined event metadata and content fields, with
// sources serialized as JSON. This must match the server's writer
// byte for byte.
func (c *sha256HashComputer) ComputeEventHash(event StreamEvent) string {
	sourcesJSON := ""
	if len(event.Sources) > 0 {
		if data, err := json.Marshal(event.Sources); err == nil {
			sourcesJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.ConversationID,
		event.Emotion,
		sourcesJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// ComputeContentHash computes the SHA-256 hash of content.
func (c *sha256HashComputer) ComputeContentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// =============================================================================
// Helper Functions
// =============================================================================

// truncateHash returns a truncated hash for display in error messages.
// Shows first 8 and last 4 characters with "..." in between.
func truncateHash(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:8] + "..." + hash[len(hash)-4:]
}
