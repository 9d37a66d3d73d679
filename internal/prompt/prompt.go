// Package prompt renders model prompts. Every function is pure: the same
// input always yields the same text.
package prompt

import (
	"fmt"
	"strings"

	"github.com/nidhogg/alice/internal/agent"
)

// Prompt is a system/user pair sent to the gateway.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Resident is the slice of an agent a prompt needs.
type Resident struct {
	Name     string        `json:"name"`
	Kind     agent.Kind    `json:"kind"`
	Age      int           `json:"age"`
	Sex      string        `json:"sex"`
	Identity string        `json:"identity"`
	Concept  agent.Concept `json:"concept"`
}

// ResidentOf snapshots a for prompt building.
func ResidentOf(a *agent.Agent) Resident {
	r := Resident{Name: a.Name, Kind: a.Kind, Age: a.Age, Sex: a.Sex}
	if h := a.Human(); h != nil {
		r.Identity = h.Identity
		r.Concept = h.Concept
	}
	return r
}

// DecisionInput is everything a single-call decision prompt shows.
type DecisionInput struct {
	Self        Resident   `json:"self"`
	Timestamp   int64      `json:"timestamp"`
	Observation string     `json:"observation"`
	Mode        agent.Mode `json:"mode"`
	Location    string     `json:"location,omitempty"`
	Knowledge   []string   `json:"knowledge"`
	Recent      []string   `json:"recent"`
	Relevant    []string   `json:"relevant"`
	Beliefs     []string   `json:"beliefs"`
	Others      []string   `json:"others"`
}

var toolHelp = map[string]string{
	agent.ToolSpeak:         `"speak": say something to someone. parameters: "target_name", "content"`,
	agent.ToolMove:          `"move": go somewhere else. parameters: "destination"`,
	agent.ToolObserveDetail: `"observe_detail": look closely at someone. parameters: "target"`,
	agent.ToolDoNothing:     `"do_nothing": let the moment pass. parameters: {}`,
}

// Decision builds the thought+action prompt. The system part depends on
// the resident's kind.
func Decision(in DecisionInput) Prompt {
	var sys strings.Builder
	switch in.Self.Kind {
	case agent.KindCreature:
		fmt.Fprintf(&sys, "You are %s, a creature living in a small town. You act on instinct: hunger, fear, curiosity. You cannot speak in words, but you may make sounds.\n", in.Self.Name)
	case agent.KindMonster:
		fmt.Fprintf(&sys, "You are %s, a monster hiding among the townsfolk. You must never reveal what you are. You act with patience and cunning.\n", in.Self.Name)
	default:
		fmt.Fprintf(&sys, "You are %s, a resident of a small town, playing your role in a story that unfolds turn by turn.\n", in.Self.Name)
	}
	sys.WriteString("Reply with exactly one JSON object with the keys \"thought\" and \"action\". ")
	sys.WriteString("\"action\" is an object with \"tool_name\" and \"parameters\". Write nothing outside the object.\n\n")
	sys.WriteString("Tools:\n")
	for _, t := range in.Mode.Tools() {
		sys.WriteString("- " + toolHelp[t] + "\n")
	}
	if in.Mode == agent.ModeForcedSpeak {
		sys.WriteString("\nYou just looked closely at something. This turn you MUST use \"speak\" and say something about what you noticed.\n")
	}
	sys.WriteString(`
Example:
{"thought": "She seems nervous. I should greet her first.", "action": {"tool_name": "speak", "parameters": {"target_name": "Lily", "content": "Good morning."}}}`)

	var u strings.Builder
	if in.Self.Kind == agent.KindHuman {
		writeConcept(&u, in.Self)
	}
	section(&u, "What you know", in.Knowledge, "(nothing in particular)")
	section(&u, "Recent memories", in.Recent, "(none yet)")
	section(&u, "Memories this brings to mind", in.Relevant, "")
	section(&u, "What you believe about the others", in.Beliefs, "")
	if len(in.Others) > 0 {
		fmt.Fprintf(&u, "## Also here\n%s\n\n", strings.Join(in.Others, ", "))
	}
	fmt.Fprintf(&u, "## Now (T=%d)\n", in.Timestamp)
	if in.Location != "" {
		fmt.Fprintf(&u, "You are at: %s\n", in.Location)
	}
	fmt.Fprintf(&u, "You observe: %s\n\n", in.Observation)
	u.WriteString("Decide your inner thought and your next action.")

	return Prompt{System: sys.String(), User: u.String()}
}

func writeConcept(b *strings.Builder, r Resident) {
	b.WriteString("# Who you are (keep this secret, never say it aloud)\n")
	if r.Identity != "" {
		fmt.Fprintf(b, "Identity: %s\n", r.Identity)
	}
	if r.Age > 0 {
		fmt.Fprintf(b, "Age: %d\n", r.Age)
	}
	if r.Sex != "" {
		fmt.Fprintf(b, "Sex: %s\n", r.Sex)
	}
	fmt.Fprintf(b, "Ego: %s\n", orNone(r.Concept.Ego))
	fmt.Fprintf(b, "Goal: %s\n", orNone(r.Concept.Goal))
	fmt.Fprintf(b, "How you see your past: %s\n\n", orNone(r.Concept.MemoryAbstraction))
}

// section writes a titled list. An empty list with no placeholder is skipped.
func section(b *strings.Builder, title string, lines []string, empty string) {
	if len(lines) == 0 && empty == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n", title)
	if len(lines) == 0 {
		b.WriteString(empty + "\n\n")
		return
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "- ") {
			b.WriteString(l + "\n")
		} else {
			b.WriteString("- " + l + "\n")
		}
	}
	b.WriteString("\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
