package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// genesisHash is the PrevHash of the first greeting.
const genesisHash = "0"

// Greeting is a single record of the ledger. Nonce is the request id the
// author signed, empty for greetings written without a signature.
type Greeting struct {
	ID        uint64    `json:"id" msgpack:"id"`
	Text      string    `json:"text" msgpack:"text"`
	Author    string    `json:"author" msgpack:"author"`
	Nonce     string    `json:"nonce,omitempty" msgpack:"nonce,omitempty"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	PrevHash  string    `json:"prev_hash" msgpack:"prev_hash"`
	Hash      string    `json:"hash" msgpack:"hash"`
}

// newGreeting builds the record that follows previous. A nil previous means
// the ledger is empty.
func newGreeting(previous *Greeting, author, nonce, text string, now time.Time) Greeting {
	g := Greeting{
		ID:        1,
		Text:      text,
		Author:    author,
		Nonce:     nonce,
		Timestamp: now,
		PrevHash:  genesisHash,
	}
	if previous != nil {
		g.ID = previous.ID + 1
		g.PrevHash = previous.Hash
	}
	g.Hash = calculateHash(g)
	return g
}

// calculateHash computes the SHA256 hash of a greeting based on its id,
// timestamp, previous hash, author, nonce and text. Nonce and text are length
// prefixed so that no two distinct records share the same preimage.
func calculateHash(g Greeting) string {
	data := fmt.Sprintf("%d|%d|%s|%s|%d:%s|%d:%s",
		g.ID,
		g.Timestamp.Unix(),
		g.PrevHash,
		g.Author,
		len(g.Nonce),
		g.Nonce,
		len(g.Text),
		g.Text,
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// validateGreeting verifies that a greeting is valid relative to the previous
// one. It checks id continuity, previous hash linkage and the hash itself.
func validateGreeting(current Greeting, previous *Greeting) error {
	expectedID, expectedPrev := uint64(1), genesisHash
	if previous != nil {
		expectedID, expectedPrev = previous.ID+1, previous.Hash
	}

	if current.ID != expectedID {
		return fmt.Errorf("invalid id: expected %d, got %d", expectedID, current.ID)
	}

	if current.PrevHash != expectedPrev {
		return fmt.Errorf("invalid prev hash: expected %s, got %s", expectedPrev, current.PrevHash)
	}

	expectedHash := calculateHash(current)
	if current.Hash != expectedHash {
		return fmt.Errorf("invalid hash: expected %s, got %s", expectedHash, current.Hash)
	}

	return nil
}

// VerifyChain validates the integrity of a sequence of greetings stored in
// id order, starting from the first greeting ever written.
func VerifyChain(records []Greeting) error {
	var previous *Greeting
	for i := range records {
		if err := validateGreeting(records[i], previous); err != nil {
			return fmt.Errorf("greeting %d invalid: %w", i+1, err)
		}
		previous = &records[i]
	}
	return nil
}
