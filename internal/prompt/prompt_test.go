package prompt

import (
	"strings"
	"testing"

	"github.com/nidhogg/alice/internal/agent"
)

func adam() Resident {
	return Resident{
		Name:     "Adam",
		Kind:     agent.KindHuman,
		Age:      52,
		Identity: "priest",
		Concept:  agent.Concept{Ego: "a shepherd of souls", Goal: "find the witch"},
	}
}

func TestDecisionIncludesContext(t *testing.T) {
	p := Decision(DecisionInput{
		Self:        adam(),
		Timestamp:   4,
		Observation: "Lily enters the chapel.",
		Mode:        agent.ModeNormal,
		Knowledge:   []string{"Witches fear silver."},
		Recent:      []string{"At T=3, I observed: 'rain'"},
		Beliefs:     []string{"- Lily: identity unknown, needs observation"},
		Others:      []string{"Lily"},
	})

	for _, want := range []string{"find the witch", "Witches fear silver.", "At T=3", "T=4", "Lily enters the chapel.", "keep this secret"} {
		if !strings.Contains(p.User, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	for _, tool := range agent.ModeNormal.Tools() {
		if !strings.Contains(p.System, `"`+tool+`"`) {
			t.Errorf("system prompt missing tool %s", tool)
		}
	}
	if strings.Contains(p.User, "Memories this brings to mind") {
		t.Error("empty optional section rendered")
	}
}

func TestDecisionForcedSpeakListsOnlySpeak(t *testing.T) {
	p := Decision(DecisionInput{Self: adam(), Mode: agent.ModeForcedSpeak})
	if strings.Contains(p.System, `"move"`) || strings.Contains(p.System, `"observe_detail"`) {
		t.Error("forced-speak prompt offers other tools")
	}
	if !strings.Contains(p.System, "MUST") {
		t.Error("forced-speak rule missing")
	}
}

func TestDecisionDispatchesOnKind(t *testing.T) {
	wolf := Resident{Name: "Wolf", Kind: agent.KindMonster}
	p := Decision(DecisionInput{Self: wolf, Mode: agent.ModeNormal})
	if !strings.Contains(p.System, "monster") {
		t.Error("monster template not used")
	}
	if strings.Contains(p.User, "keep this secret") {
		t.Error("non-human got a concept block")
	}
}

func TestDecisionIsPure(t *testing.T) {
	in := DecisionInput{Self: adam(), Mode: agent.ModeNormal, Observation: "x"}
	if Decision(in) != Decision(in) {
		t.Error("same input produced different prompts")
	}
}

func TestStrategistJudge(t *testing.T) {
	in := DialogueInput{Self: adam(), Counterpart: "Lily", Judge: true}
	if !strings.Contains(Strategist(in).System, StatusTargetConfirmed) {
		t.Error("judge prompt lacks verdict values")
	}
	in.Judge = false
	if strings.Contains(Strategist(in).System, StatusTargetConfirmed) {
		t.Error("non-judge prompt offers a verdict")
	}
}

func TestStageShapesNamed(t *testing.T) {
	in := DialogueInput{Self: adam(), Counterpart: "Lily"}
	if !strings.Contains(Actor(in, "press her").System, "raw_dialogue") {
		t.Error("actor key missing")
	}
	if !strings.Contains(Formatter(adam(), "hi").System, "polished_dialogue") {
		t.Error("formatter key missing")
	}
	if !strings.Contains(Summary("long text", 50).System, "50") {
		t.Error("summary limit missing")
	}
	if !strings.Contains(Reflection(adam(), nil).System, "reflection") {
		t.Error("reflection key missing")
	}
}
