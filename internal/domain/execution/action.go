package execution

// ActionType discriminates what a process actually ran.
type ActionType string

const (
	ActionCodingAgentInitial  ActionType = "coding_agent_initial"
	ActionCodingAgentFollowUp ActionType = "coding_agent_follow_up"
	ActionScript              ActionType = "script"
)

// Profile names the agent executor and an optional configuration variant.
type Profile struct {
	Executor string `json:"executor"`
	Variant  string `json:"variant,omitempty"`
}

// InitialRequest starts a coding agent fresh, with no prior session.
type InitialRequest struct {
	Prompt  string  `json:"prompt"`
	Profile Profile `json:"profile"`
}

// FollowUpRequest resumes a coding agent against an existing session.
type FollowUpRequest struct {
	Prompt    string  `json:"prompt"`
	SessionID string  `json:"session_id"`
	Profile   Profile `json:"profile"`
}

// ScriptRequest runs a project lifecycle script (setup, cleanup, dev server).
// Language selects the interpreter; empty means bash.
type ScriptRequest struct {
	Script   string `json:"script"`
	Language string `json:"language,omitempty"`
	Context  string `json:"context"`
}

// Action is the tagged request a process executed. Exactly one payload
// pointer is set, matching Type.
type Action struct {
	Type     ActionType       `json:"type"`
	Initial  *InitialRequest  `json:"initial,omitempty"`
	FollowUp *FollowUpRequest `json:"follow_up,omitempty"`
	Script   *ScriptRequest   `json:"script,omitempty"`
}

// NewInitialAction builds an initial coding-agent action.
func NewInitialAction(prompt string, profile Profile) Action {
	return Action{
		Type:    ActionCodingAgentInitial,
		Initial: &InitialRequest{Prompt: prompt, Profile: profile},
	}
}

// NewFollowUpAction builds a follow-up coding-agent action bound to a session.
func NewFollowUpAction(prompt, sessionID string, profile Profile) Action {
	return Action{
		Type:     ActionCodingAgentFollowUp,
		FollowUp: &FollowUpRequest{Prompt: prompt, SessionID: sessionID, Profile: profile},
	}
}

// NewScriptAction builds a script action; context labels the script's role.
func NewScriptAction(script, language, context string) Action {
	return Action{
		Type:   ActionScript,
		Script: &ScriptRequest{Script: script, Language: language, Context: context},
	}
}

// Profile returns the agent profile for agent actions, false for scripts.
func (a Action) Profile() (Profile, bool) {
	switch a.Type {
	case ActionCodingAgentInitial:
		if a.Initial != nil {
			return a.Initial.Profile, true
		}
	case ActionCodingAgentFollowUp:
		if a.FollowUp != nil {
			return a.FollowUp.Profile, true
		}
	}
	return Profile{}, false
}

// Prompt returns the agent prompt for agent actions, false for scripts.
func (a Action) Prompt() (string, bool) {
	switch a.Type {
	case ActionCodingAgentInitial:
		if a.Initial != nil {
			return a.Initial.Prompt, true
		}
	case ActionCodingAgentFollowUp:
		if a.FollowUp != nil {
			return a.FollowUp.Prompt, true
		}
	}
	return "", false
}
