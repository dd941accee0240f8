package ledger

import (
	"testing"
	"time"
)

func buildChain(n int) []Greeting {
	records := make([]Greeting, 0, n)
	now := time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		var prev *Greeting
		if len(records) > 0 {
			prev = &records[len(records)-1]
		}
		records = append(records, newGreeting(prev, "0x01", "", "gm", now.Add(time.Duration(i)*time.Second)))
	}
	return records
}

// TestNewGreetingLinksToPrevious verifies id and hash linkage of new records.
func TestNewGreetingLinksToPrevious(t *testing.T) {
	records := buildChain(2)
	if records[0].ID != 1 || records[0].PrevHash != genesisHash {
		t.Fatalf("first greeting should follow genesis, got %+v", records[0])
	}
	if records[1].ID != 2 || records[1].PrevHash != records[0].Hash {
		t.Fatalf("second greeting should link to the first, got %+v", records[1])
	}
	if records[0].Hash == records[1].Hash {
		t.Fatal("distinct greetings share a hash")
	}
}

// TestVerifyChainValid verifies that an untouched chain passes.
func TestVerifyChainValid(t *testing.T) {
	if err := VerifyChain(buildChain(5)); err != nil {
		t.Fatalf("expected valid chain, got %v", err)
	}
	if err := VerifyChain(nil); err != nil {
		t.Fatalf("empty chain should be valid, got %v", err)
	}
}

// TestVerifyChainTamperedText verifies that rewriting a stored text is caught.
func TestVerifyChainTamperedText(t *testing.T) {
	records := buildChain(3)
	records[1].Text = "gn"
	if err := VerifyChain(records); err == nil {
		t.Fatal("expected tampered text to be detected")
	}
}

// TestVerifyChainBrokenLink verifies that a rehashed record still breaks the
// link with its successor.
func TestVerifyChainBrokenLink(t *testing.T) {
	records := buildChain(3)
	records[1].Author = "0x02"
	records[1].Hash = calculateHash(records[1])
	if err := VerifyChain(records); err == nil {
		t.Fatal("expected broken link to be detected")
	}
}

// TestVerifyChainIDGap verifies that a missing record is caught.
func TestVerifyChainIDGap(t *testing.T) {
	records := buildChain(4)
	records = append(records[:1], records[2:]...)
	if err := VerifyChain(records); err == nil {
		t.Fatal("expected id gap to be detected")
	}
}

// TestHashTextBoundary verifies that moving bytes between author and text
// changes the hash.
func TestHashTextBoundary(t *testing.T) {
	now := time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newGreeting(nil, "0xab", "", "c|d", now)
	b := newGreeting(nil, "0xab|c", "", "d", now)
	if a.Hash == b.Hash {
		t.Fatal("hash must separate author from text")
	}
}
