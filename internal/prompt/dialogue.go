package prompt

import (
	"fmt"
	"strings"
)

// Status values the strategist may report.
const (
	StatusOngoing         = "ongoing"
	StatusTargetConfirmed = "target_confirmed"
	StatusTargetCleared   = "target_cleared"
)

// DialogueInput feeds the three dialogue stages.
type DialogueInput struct {
	Self        Resident `json:"self"`
	Counterpart string   `json:"counterpart"`
	Belief      string   `json:"belief"`
	Timestamp   int64    `json:"timestamp"`
	Observation string   `json:"observation"`
	Knowledge   []string `json:"knowledge"`
	Recent      []string `json:"recent"`
	Relevant    []string `json:"relevant"`
	// Judge asks the strategist for a verdict on the counterpart.
	Judge bool `json:"judge"`
}

// Strategist plans the next line without writing it.
func Strategist(in DialogueInput) Prompt {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are the inner strategist of %s. You do not speak; you decide what %s wants from the next line of the conversation with %s.\n",
		in.Self.Name, in.Self.Name, in.Counterpart)
	sys.WriteString("Reply with one JSON object with the keys \"thought\" and \"status\", and optionally \"belief\" (your updated one-line opinion of them) and \"note\" (one new fact you noticed).\n")
	if in.Judge {
		fmt.Fprintf(&sys, "\"status\" is %q while you are unsure, %q once you are certain %s is what you suspect, or %q once you are certain they are not.\n",
			StatusOngoing, StatusTargetConfirmed, in.Counterpart, StatusTargetCleared)
	} else {
		fmt.Fprintf(&sys, "Always set \"status\" to %q.\n", StatusOngoing)
	}

	var u strings.Builder
	writeConcept(&u, in.Self)
	section(&u, "What you know", in.Knowledge, "(nothing in particular)")
	section(&u, "Recent memories", in.Recent, "(none yet)")
	section(&u, "Memories this brings to mind", in.Relevant, "")
	fmt.Fprintf(&u, "## What you believe about %s\n%s\n\n", in.Counterpart, orNone(in.Belief))
	fmt.Fprintf(&u, "## Now (T=%d)\n%s\n\n", in.Timestamp, in.Observation)
	u.WriteString("What is your strategy for the next line?")
	return Prompt{System: sys.String(), User: u.String()}
}

// Actor turns the strategist's plan into a raw spoken line.
func Actor(in DialogueInput, thought string) Prompt {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s. Speak one short line, in character, to %s. ", in.Self.Name, in.Counterpart)
	sys.WriteString("Never state your secret identity or your plan outright.\n")
	sys.WriteString("Reply with one JSON object with the key \"raw_dialogue\".")

	var u strings.Builder
	if in.Self.Identity != "" {
		fmt.Fprintf(&u, "You are: %s\n", in.Self.Identity)
	}
	fmt.Fprintf(&u, "Your plan: %s\n", thought)
	fmt.Fprintf(&u, "They just said or did: %s\n", in.Observation)
	u.WriteString("Your line:")
	return Prompt{System: sys.String(), User: u.String()}
}

// Formatter cleans a raw line without changing its meaning.
func Formatter(self Resident, raw string) Prompt {
	sys := "You are an editor. Tidy the line below: remove stage directions, narration and quotes around the whole line. Keep the meaning and the voice. " +
		"Reply with one JSON object with the key \"polished_dialogue\"."
	u := fmt.Sprintf("Speaker: %s\nLine: %s", self.Name, raw)
	return Prompt{System: sys, User: u}
}

// Summary compresses text to at most maxChars characters.
func Summary(text string, maxChars int) Prompt {
	sys := fmt.Sprintf("Summarize the text in at most %d characters, keeping who did what. Reply with one JSON object with the key \"summary\".", maxChars)
	return Prompt{System: sys, User: text}
}

// Reflection asks a resident to dream over recent memories.
func Reflection(self Resident, memories []string) Prompt {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s, asleep and dreaming over your day. ", self.Name)
	sys.WriteString("Reply with one JSON object with the keys \"summary\" (what happened, one sentence) and \"reflection\" (how it changes the way you see your past, one or two sentences, first person).")

	var u strings.Builder
	writeConcept(&u, self)
	section(&u, "Today", memories, "(a quiet day)")
	u.WriteString("Dream.")
	return Prompt{System: sys.String(), User: u.String()}
}
