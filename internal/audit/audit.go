// Package audit keeps a hash-chained, in-memory trail of vault operations.
// Entries record what was attempted and whether it succeeded, never payload
// contents.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

type Entry struct {
	TS      int64  `json:"ts"`
	Op      string `json:"op"`
	Success bool   `json:"success"`
	Hash    string `json:"hash"`
}

type Trail struct {
	mu       sync.Mutex
	lastHash []byte
	entries  []Entry
}

func New() *Trail { return &Trail{} }

// Record appends one operation outcome, chaining its hash to the previous
// entry.
func (t *Trail) Record(op string, success bool) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := sha256.New()
	h.Write(t.lastHash)
	h.Write([]byte(chainInput(op, success)))
	sum := h.Sum(nil)
	t.lastHash = sum

	e := Entry{
		TS:      time.Now().Unix(),
		Op:      op,
		Success: success,
		Hash:    hex.EncodeToString(sum),
	}
	t.entries = append(t.entries, e)
	return e
}

// Verify recomputes the chain and reports the first broken link.
func (t *Trail) Verify() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var prev []byte
	for i, e := range t.entries {
		h := sha256.New()
		h.Write(prev)
		h.Write([]byte(chainInput(e.Op, e.Success)))
		sum := h.Sum(nil)
		if hex.EncodeToString(sum) != e.Hash {
			return fmt.Errorf("audit: chain broken at entry %d (%s)", i, e.Op)
		}
		prev = sum
	}
	return nil
}

// Entries returns a copy of the trail.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

func chainInput(op string, success bool) string {
	return fmt.Sprintf("%s|%t", op, success)
}
