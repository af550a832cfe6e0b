package domain

type Role string

const (
	RoleHost      Role = "host"
	RoleModerator Role = "moderator"
	RoleSpeaker   Role = "speaker"
	RoleListener  Role = "listener"
)

type Action string

const (
	ActionSendAudio    Action = "send_audio"
	ActionSelfMute     Action = "self_mute"
	ActionMuteOthers   Action = "mute_others"
	ActionChangeRole   Action = "change_role"
	ActionCloseSession Action = "close_session"
)

// permissions is the full grant table. Anything not listed here is denied,
// so adding a role or an action is a data change, not a logic change.
var permissions = map[Role]map[Action]bool{
	RoleHost: {
		ActionSendAudio:    true,
		ActionSelfMute:     true,
		ActionMuteOthers:   true,
		ActionChangeRole:   true,
		ActionCloseSession: true,
	},
	RoleModerator: {
		ActionSendAudio:  true,
		ActionSelfMute:   true,
		ActionMuteOthers: true,
	},
	RoleSpeaker: {
		ActionSendAudio: true,
		ActionSelfMute:  true,
	},
	RoleListener: {
		ActionSelfMute: true,
	},
}

// Can reports whether role is allowed to perform action. Deny by default.
func Can(role Role, action Action) bool {
	return permissions[role][action]
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	_, ok := permissions[r]
	return ok
}
