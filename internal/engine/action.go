package engine

import (
	"fmt"
	"strings"
)

// Action is a GATT operation routed to a characteristic.
type Action int

const (
	ActionRead Action = iota
	ActionWrite
	ActionWriteWithoutResponse
	ActionNotify
	ActionIndicate
)

var actionNames = []string{"read", "write", "writeWithoutResponse", "notify", "indicate"}

func (a Action) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction accepts the action names case-insensitively.
func ParseAction(s string) (Action, error) {
	for i, name := range actionNames {
		if strings.EqualFold(s, name) {
			return Action(i), nil
		}
	}
	if strings.EqualFold(s, "write-without-response") {
		return ActionWriteWithoutResponse, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedAction, s)
}
