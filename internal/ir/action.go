package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// ActionKind discriminates the ActionRef variant.
type ActionKind uint8

const (
	// ActionNone marks an ignored or disabled slot.
	ActionNone ActionKind = iota
	// ActionProcessorReset requests a guarded processor reset.
	ActionProcessorReset
	// ActionSendMessage dispatches a message-action slot.
	ActionSendMessage
)

const messagePrefix = "message:"

// ActionRef is the corrective action attached to a monitor row.
// Slot is only meaningful for ActionSendMessage.
type ActionRef struct {
	Kind ActionKind
	Slot int
}

// NoAction returns the ignored action.
func NoAction() ActionRef { return ActionRef{Kind: ActionNone} }

// ProcessorReset returns the processor reset action.
func ProcessorReset() ActionRef { return ActionRef{Kind: ActionProcessorReset} }

// SendMessage returns the action dispatching message-action slot i.
func SendMessage(slot int) ActionRef { return ActionRef{Kind: ActionSendMessage, Slot: slot} }

// IsNone reports whether a is the ignored action.
func (a ActionRef) IsNone() bool { return a.Kind == ActionNone }

// String returns the text form: "none", "processor-reset" or "message:<slot>".
func (a ActionRef) String() string {
	switch a.Kind {
	case ActionNone:
		return "none"
	case ActionProcessorReset:
		return "processor-reset"
	case ActionSendMessage:
		return messagePrefix + strconv.Itoa(a.Slot)
	default:
		return fmt.Sprintf("unknown(%d)", a.Kind)
	}
}

// ParseActionRef parses the text form produced by String.
func ParseActionRef(s string) (ActionRef, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "none":
		return NoAction(), nil
	case "processor-reset":
		return ProcessorReset(), nil
	}

	if rest, ok := strings.CutPrefix(s, messagePrefix); ok {
		slot, err := strconv.Atoi(rest)
		if err != nil || slot < 0 {
			return ActionRef{}, fmt.Errorf("invalid message slot %q", rest)
		}
		return SendMessage(slot), nil
	}

	return ActionRef{}, fmt.Errorf("unknown action %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (a ActionRef) MarshalText() ([]byte, error) {
	if a.Kind > ActionSendMessage {
		return nil, fmt.Errorf("unknown action kind %d", a.Kind)
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *ActionRef) UnmarshalText(text []byte) error {
	ref, err := ParseActionRef(string(text))
	if err != nil {
		return err
	}
	*a = ref
	return nil
}
