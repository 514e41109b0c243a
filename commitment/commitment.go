// Copyright 2026 OpenElect Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package commitment derives deterministic commitment hashes from
// encrypted ballot payloads and produces voter-facing receipts. Everything
// here is purely computational: same inputs always yield the same outputs,
// and nothing is persisted.
package commitment

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// SaltSize is the per-ballot commitment salt length in bytes
	SaltSize = 32

	// DefaultMaxPayloadSize bounds the encrypted ballot payload (1 MiB)
	DefaultMaxPayloadSize = 1 << 20

	// receiptCodeLength is the number of hex characters in the
	// human-friendly receipt code
	receiptCodeLength = 16
)

// Hash is a hex-encoded SHA-256 commitment hash
type Hash string

func (h Hash) String() string {
	return string(h)
}

// Receipt is the voter-facing proof of submission. It carries no ballot
// contents and no voter identity.
type Receipt struct {
	CommitmentHash   Hash
	Code             string
	VerificationPath string
}

type InvalidPayloadError struct {
	Size int
	Max  int
}

func (e *InvalidPayloadError) Error() string {
	if e.Size == 0 {
		return "invalid payload: empty"
	}
	return fmt.Sprintf(
		"invalid payload: size %d exceeds maximum %d",
		e.Size,
		e.Max,
	)
}

// Engine computes ballot commitments. The zero value is not usable; use
// NewEngine.
type Engine struct {
	maxPayloadSize int
}

func NewEngine(maxPayloadSize int) *Engine {
	if maxPayloadSize <= 0 {
		maxPayloadSize = DefaultMaxPayloadSize
	}
	return &Engine{maxPayloadSize: maxPayloadSize}
}

// Commit computes SHA-256(payload || salt). The salt must never appear on
// any plaintext output surface; callers keep it inside the encrypted
// ballot record so the commitment cannot be brute-forced without ballot
// contents.
func (e *Engine) Commit(payload []byte, salt [SaltSize]byte) (Hash, error) {
	if len(payload) == 0 || len(payload) > e.maxPayloadSize {
		return "", &InvalidPayloadError{
			Size: len(payload),
			Max:  e.maxPayloadSize,
		}
	}
	h := sha256.New()
	h.Write(payload)
	h.Write(salt[:])
	return Hash(hex.EncodeToString(h.Sum(nil))), nil
}

// DigestHex returns the hex-encoded SHA-256 digest of data
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GenerateSalt returns a cryptographically random commitment salt
func GenerateSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// GenerateReceipt derives the voter receipt for a ballot. Pure and
// side-effect-free: the receipt code is the first 16 hex characters of
// SHA-256(commitmentHash || ballotId), uppercased for readability.
func GenerateReceipt(
	electionID string,
	ballotID string,
	commitmentHash Hash,
) Receipt {
	h := sha256.Sum256([]byte(string(commitmentHash) + ballotID))
	code := strings.ToUpper(hex.EncodeToString(h[:])[:receiptCodeLength])
	return Receipt{
		CommitmentHash: commitmentHash,
		Code:           code,
		VerificationPath: fmt.Sprintf(
			"/api/v1/receipts/%s/%s",
			electionID,
			commitmentHash,
		),
	}
}
