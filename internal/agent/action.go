package agent

import (
	"fmt"
	"sort"
)

// Tool names understood by the dispatcher.
const (
	ToolSpeak         = "speak"
	ToolMove          = "move"
	ToolObserveDetail = "observe_detail"
	ToolDoNothing     = "do_nothing"
)

// Parameter keys.
const (
	ParamTargetName  = "target_name"
	ParamContent     = "content"
	ParamDestination = "destination"
	ParamTarget      = "target"
)

// Mode is the scheduler sub-state a decision is made in.
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeForcedSpeak Mode = "forced_speak"
)

// Tools lists the tools allowed in a mode.
func (m Mode) Tools() []string {
	if m == ModeForcedSpeak {
		return []string{ToolSpeak}
	}
	return []string{ToolSpeak, ToolMove, ToolObserveDetail, ToolDoNothing}
}

// Action is a resident's chosen tool call.
type Action struct {
	ToolName   string            `json:"tool_name"`
	Parameters map[string]string `json:"parameters"`
}

// DoNothing is the neutral action.
func DoNothing() Action {
	return Action{ToolName: ToolDoNothing, Parameters: map[string]string{}}
}

// Speak builds a speak action.
func Speak(target, content string) Action {
	return Action{ToolName: ToolSpeak, Parameters: map[string]string{
		ParamTargetName: target,
		ParamContent:    content,
	}}
}

// Param returns a parameter or def when it is absent or empty.
func (a Action) Param(key, def string) string {
	if v, ok := a.Parameters[key]; ok && v != "" {
		return v
	}
	return def
}

// IsKnownTool reports whether name is one of the four built-in tools.
func IsKnownTool(name string) bool {
	switch name {
	case ToolSpeak, ToolMove, ToolObserveDetail, ToolDoNothing:
		return true
	}
	return false
}

// ActionFromPayload converts a decoded {"tool_name", "parameters"} object.
// Anything unusable becomes do_nothing; parameter values are stringified.
func ActionFromPayload(v any) Action {
	m, ok := v.(map[string]any)
	if !ok {
		return DoNothing()
	}
	name, _ := m["tool_name"].(string)
	if name == "" {
		// some models answer with "tool" or "name"
		if alt, ok := m["tool"].(string); ok {
			name = alt
		} else if alt, ok := m["name"].(string); ok {
			name = alt
		}
	}
	if name == "" {
		return DoNothing()
	}

	params := map[string]string{}
	if raw, ok := m["parameters"].(map[string]any); ok {
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch t := raw[k].(type) {
			case nil:
			case string:
				params[k] = t
			default:
				params[k] = fmt.Sprint(t)
			}
		}
	}
	return Action{ToolName: name, Parameters: params}
}
