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

package commitment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitDeterministic(t *testing.T) {
	engine := NewEngine(0)
	payload := []byte("encrypted-ballot-payload")
	var salt [SaltSize]byte
	copy(salt[:], "0123456789abcdef0123456789abcdef")

	hash1, err := engine.Commit(payload, salt)
	require.NoError(t, err)
	hash2, err := engine.Commit(payload, salt)
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)
	assert.Len(t, string(hash1), 64)
}

func TestCommitSaltChangesHash(t *testing.T) {
	engine := NewEngine(0)
	payload := []byte("encrypted-ballot-payload")
	var salt1, salt2 [SaltSize]byte
	salt2[0] = 0x01

	hash1, err := engine.Commit(payload, salt1)
	require.NoError(t, err)
	hash2, err := engine.Commit(payload, salt2)
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash2)
}

func TestCommitPayloadChangesHash(t *testing.T) {
	engine := NewEngine(0)
	var salt [SaltSize]byte

	hash1, err := engine.Commit([]byte("payload-a"), salt)
	require.NoError(t, err)
	hash2, err := engine.Commit([]byte("payload-b"), salt)
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash2)
}

func TestCommitInvalidPayload(t *testing.T) {
	engine := NewEngine(16)
	var salt [SaltSize]byte

	_, err := engine.Commit(nil, salt)
	var invalidErr *InvalidPayloadError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, 0, invalidErr.Size)

	_, err = engine.Commit(make([]byte, 17), salt)
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, 17, invalidErr.Size)
	assert.Equal(t, 16, invalidErr.Max)

	_, err = engine.Commit(make([]byte, 16), salt)
	assert.NoError(t, err)
}

func TestGenerateSaltUnique(t *testing.T) {
	salt1, err := GenerateSalt()
	require.NoError(t, err)
	salt2, err := GenerateSalt()
	require.NoError(t, err)
	assert.NotEqual(t, salt1, salt2)
}

func TestGenerateReceipt(t *testing.T) {
	hash := Hash(strings.Repeat("ab", 32))
	receipt1 := GenerateReceipt("election-1", "bal_1", hash)
	receipt2 := GenerateReceipt("election-1", "bal_1", hash)
	assert.Equal(t, receipt1, receipt2)

	assert.Len(t, receipt1.Code, 16)
	assert.Equal(t, strings.ToUpper(receipt1.Code), receipt1.Code)
	assert.Equal(t, hash, receipt1.CommitmentHash)
	assert.Equal(
		t,
		"/api/v1/receipts/election-1/"+string(hash),
		receipt1.VerificationPath,
	)

	// Different ballot, same hash, different code
	receipt3 := GenerateReceipt("election-1", "bal_2", hash)
	assert.NotEqual(t, receipt1.Code, receipt3.Code)
}

func TestDigestHex(t *testing.T) {
	assert.Equal(
		t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		DigestHex(nil),
	)
	assert.Len(t, DigestHex([]byte("data")), 64)
}
