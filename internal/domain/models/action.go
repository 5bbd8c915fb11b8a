package models

// Action is a sensitive user operation guarded by an abuse policy.
// The set is closed: every member must have an entry in the policy table.
type Action string

const (
	ActionSignup          Action = "signup"
	ActionLogin           Action = "login"
	ActionPasswordReset   Action = "password_reset"
	ActionPostCreate      Action = "post_create"
	ActionPostEdit        Action = "post_edit"
	ActionCommentCreate   Action = "comment_create"
	ActionVote            Action = "vote"
	ActionMessageSend     Action = "message_send"
	ActionImageUpload     Action = "image_upload"
	ActionFollowToggle    Action = "follow_toggle"
	ActionReportCreate    Action = "report_create"
	ActionCommunityCreate Action = "community_create"
	ActionProfileUpdate   Action = "profile_update"
	ActionSocketTyping    Action = "socket_typing"
	ActionSocketPresence  Action = "socket_presence"
)

var allActions = []Action{
	ActionSignup,
	ActionLogin,
	ActionPasswordReset,
	ActionPostCreate,
	ActionPostEdit,
	ActionCommentCreate,
	ActionVote,
	ActionMessageSend,
	ActionImageUpload,
	ActionFollowToggle,
	ActionReportCreate,
	ActionCommunityCreate,
	ActionProfileUpdate,
	ActionSocketTyping,
	ActionSocketPresence,
}

// AllActions returns every member of the enumeration.
func AllActions() []Action {
	out := make([]Action, len(allActions))
	copy(out, allActions)
	return out
}

// ParseAction returns the Action named s and whether it is a known member.
func ParseAction(s string) (Action, bool) {
	for _, a := range allActions {
		if string(a) == s {
			return a, true
		}
	}
	return Action(s), false
}

func (a Action) String() string { return string(a) }
