// Package access models what a caller may do with a poem: owners manage it,
// collaborators hold a readonly or editable mode granted through share links.
package access

type Mode string
type Action string

const (
	ModeNone     Mode = ""
	ModeReadonly Mode = "readonly"
	ModeEditable Mode = "editable"
	ModeOwner    Mode = "owner"
)

const (
	ActionRead     Action = "read"
	ActionAnnotate Action = "annotate"
	ActionManage   Action = "manage"
)

func Can(mode Mode, action Action) bool {
	switch mode {
	case ModeOwner:
		return true
	case ModeEditable:
		return action == ActionRead || action == ActionAnnotate
	case ModeReadonly:
		return action == ActionRead
	default:
		return false
	}
}

// ParseShareMode accepts only the modes a share link may carry.
func ParseShareMode(value string) (Mode, bool) {
	switch Mode(value) {
	case ModeReadonly, ModeEditable:
		return Mode(value), true
	default:
		return ModeNone, false
	}
}

// Upgrade merges an offered mode into the current one. The result is never
// less privileged than current.
func Upgrade(current, offered Mode) Mode {
	if rank(offered) > rank(current) {
		return offered
	}
	return current
}

func rank(mode Mode) int {
	switch mode {
	case ModeReadonly:
		return 1
	case ModeEditable:
		return 2
	case ModeOwner:
		return 3
	default:
		return 0
	}
}
