package memory

import "fmt"

// Kind is what happened to the resident when an entry was written.
type Kind string

const (
	KindObserved Kind = "observed"
	KindThought  Kind = "thought"
	KindSpoke    Kind = "spoke"
	KindHeard    Kind = "heard"
	KindMoved    Kind = "moved"
	KindNoticed  Kind = "noticed"
	KindDreamed  Kind = "dreamed"
)

// Entry is one line of a resident's memory stream.
type Entry struct {
	Seq       int    `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	Kind      Kind   `json:"kind"`
	Content   string `json:"content"`
}

// Line renders the entry the way it is shown back to the resident.
func (e Entry) Line() string {
	return fmt.Sprintf("At T=%d, I %s: '%s'", e.Timestamp, e.Kind, e.Content)
}

// Recorded is the result of a Record call. Raw holds the text as given,
// which differs from Entry.Content when the content was summarized.
type Recorded struct {
	Entry      Entry  `json:"entry"`
	Raw        string `json:"raw"`
	Summarized bool   `json:"summarized"`
}
