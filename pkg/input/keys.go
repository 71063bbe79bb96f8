// Package input maps keyboard events to player actions.
package input

import "github.com/veandco/go-sdl2/sdl"

// Action is something the host loop does in response to a key.
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionReportStats
	ActionToggleFullscreen
)

func (a Action) String() string {
	switch a {
	case ActionQuit:
		return "quit"
	case ActionReportStats:
		return "report-stats"
	case ActionToggleFullscreen:
		return "toggle-fullscreen"
	default:
		return "none"
	}
}

// DefaultBindings is the player's key map.
var DefaultBindings = map[sdl.Keycode]Action{
	sdl.K_ESCAPE: ActionQuit,
	sdl.K_q:      ActionQuit,
	sdl.K_s:      ActionReportStats,
	sdl.K_f:      ActionToggleFullscreen,
}

// KeyPressTracker turns key events into actions, once per physical press.
// Auto-repeat and a KEYDOWN without a KEYUP in between do not fire again.
type KeyPressTracker struct {
	bindings map[sdl.Keycode]Action
	pressed  map[sdl.Keycode]bool
}

// NewKeyPressTracker creates a tracker for bindings.
func NewKeyPressTracker(bindings map[sdl.Keycode]Action) *KeyPressTracker {
	return &KeyPressTracker{
		bindings: bindings,
		pressed:  make(map[sdl.Keycode]bool),
	}
}

// Handle returns the action ev triggers, or ActionNone.
func (t *KeyPressTracker) Handle(ev *sdl.KeyboardEvent) Action {
	key := ev.Keysym.Sym
	switch ev.Type {
	case sdl.KEYUP:
		delete(t.pressed, key)
		return ActionNone
	case sdl.KEYDOWN:
		if ev.Repeat != 0 || t.pressed[key] {
			return ActionNone
		}
		t.pressed[key] = true
		return t.bindings[key]
	}
	return ActionNone
}
