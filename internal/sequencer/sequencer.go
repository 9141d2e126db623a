// Package sequencer merges hearing messages from any transport into one
// deduplicated transcript ordered by sequence number.
package sequencer

import (
	"sort"
	"time"
)

type Role string

const (
	RoleJudge     Role = "judge"
	RolePlaintiff Role = "plaintiff"
	RoleDefendant Role = "defendant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleJudge, RolePlaintiff, RoleDefendant:
		return true
	}
	return false
}

// IsParty reports whether r may author messages from the client side.
func (r Role) IsParty() bool {
	return r == RolePlaintiff || r == RoleDefendant
}

// Message is one hearing utterance. Pending marks a client-authored entry
// whose sequence is provisional until the backend confirms it.
type Message struct {
	ID        string    `json:"id,omitempty"`
	HearingID string    `json:"hearing_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
	Pending   bool      `json:"pending,omitempty"`
}

// Transcript is always sorted ascending by Sequence with no duplicates.
type Transcript []Message

// Merge returns a new transcript with in merged. A sequence already present is
// left alone, except when an authoritative message lands on a pending one. If
// both are the same utterance the authoritative copy replaces it; otherwise
// the pending entries from that point on move up to the next free sequences,
// keeping their order. The input transcript is not modified.
func Merge(t Transcript, in Message) Transcript {
	if in.Sequence < 1 {
		return t
	}
	i := search(t, in.Sequence)
	if i < len(t) && t[i].Sequence == in.Sequence {
		if !t[i].Pending || in.Pending {
			return t
		}
		if !sameUtterance(t[i], in) {
			return displace(t, i, in)
		}
		out := clone(t)
		out[i] = in
		return out
	}

	out := make(Transcript, 0, len(t)+1)
	out = append(out, t[:i]...)
	out = append(out, in)
	out = append(out, t[i:]...)
	return out
}

// MergeAll merges each message in arrival order.
func MergeAll(t Transcript, in ...Message) Transcript {
	for _, m := range in {
		t = Merge(t, m)
	}
	return t
}

// NextSequence is the provisional sequence for a locally authored message.
func NextSequence(t Transcript) int {
	if len(t) == 0 {
		return 1
	}
	return t[len(t)-1].Sequence + 1
}

// ConfirmBelow clears the pending flag on every entry with a sequence lower
// than seq. The backend persists party messages before answering, so an
// authoritative reply at seq implies everything before it was stored.
func ConfirmBelow(t Transcript, seq int) Transcript {
	var out Transcript
	for i, m := range t {
		if m.Sequence >= seq {
			break
		}
		if !m.Pending {
			continue
		}
		if out == nil {
			out = clone(t)
		}
		out[i].Pending = false
	}
	if out == nil {
		return t
	}
	return out
}

// Remove drops the pending entry with the given id.
func Remove(t Transcript, id string) Transcript {
	for i, m := range t {
		if m.ID == id && m.Pending {
			out := make(Transcript, 0, len(t)-1)
			out = append(out, t[:i]...)
			return append(out, t[i+1:]...)
		}
	}
	return t
}

// Has reports whether seq is already present.
func (t Transcript) Has(seq int) bool {
	i := search(t, seq)
	return i < len(t) && t[i].Sequence == seq
}

// Last returns the highest-sequence message.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

func sameUtterance(a, b Message) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return a.Role == b.Role && a.Content == b.Content
}

// displace inserts in at index i, where a pending entry currently sits, and
// renumbers the pending entries at or after i past in.Sequence.
func displace(t Transcript, i int, in Message) Transcript {
	out := make(Transcript, 0, len(t)+1)
	out = append(out, t[:i]...)
	out = append(out, in)

	taken := map[int]bool{in.Sequence: true}
	var moved []Message
	for _, m := range t[i:] {
		if m.Pending {
			moved = append(moved, m)
			continue
		}
		taken[m.Sequence] = true
		out = append(out, m)
	}

	next := in.Sequence + 1
	for _, m := range moved {
		if m.Sequence > next {
			next = m.Sequence
		}
		for taken[next] {
			next++
		}
		m.Sequence = next
		taken[next] = true
		out = append(out, m)
		next++
	}

	rest := out[i:]
	sort.SliceStable(rest, func(a, b int) bool { return rest[a].Sequence < rest[b].Sequence })
	return out
}

func search(t Transcript, seq int) int {
	return sort.Search(len(t), func(i int) bool { return t[i].Sequence >= seq })
}

func clone(t Transcript) Transcript {
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}
