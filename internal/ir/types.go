package ir

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// AppMonEntry is one Application Monitor table row.
type AppMonEntry struct {
	Name       string    `json:"name" yaml:"name"`
	CycleLimit uint16    `json:"cycle_limit" yaml:"cycle_limit"`
	Action     ActionRef `json:"action" yaml:"action"`
}

// Enabled reports whether the row takes part in monitoring.
// A zero cycle limit or an ignored action disables the slot.
func (e AppMonEntry) Enabled() bool {
	return e.CycleLimit != 0 && !e.Action.IsNone()
}

// EventRule is one Event Monitor table row.
type EventRule struct {
	AppName string    `json:"app_name" yaml:"app_name"`
	EventID uint16    `json:"event_id" yaml:"event_id"`
	Action  ActionRef `json:"action" yaml:"action"`
}

// Ignored reports whether the row never fires.
func (r EventRule) Ignored() bool { return r.Action.IsNone() }

// Matches reports whether the rule applies to the event.
func (r EventRule) Matches(appName string, eventID uint16) bool {
	return r.EventID == eventID && r.AppName == appName
}

// ResourceKind selects how an execution counter is resolved.
type ResourceKind uint8

const (
	KindNone ResourceKind = iota
	KindAppMain
	KindAppChild
	KindDevice
	KindISR
)

var resourceKindNames = [...]string{
	KindNone:     "none",
	KindAppMain:  "app-main",
	KindAppChild: "app-child",
	KindDevice:   "device",
	KindISR:      "isr",
}

func (k ResourceKind) String() string {
	if int(k) < len(resourceKindNames) {
		return resourceKindNames[k]
	}
	return fmt.Sprintf("unknown(%d)", k)
}

// MarshalText implements encoding.TextMarshaler.
func (k ResourceKind) MarshalText() ([]byte, error) {
	if int(k) >= len(resourceKindNames) {
		return nil, fmt.Errorf("unknown resource kind %d", k)
	}
	return []byte(resourceKindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ResourceKind) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*k = KindNone
		return nil
	}
	for i, name := range resourceKindNames {
		if name == s {
			*k = ResourceKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown resource kind %q", s)
}

// ExecCounterEntry is one Execution Counter table row.
type ExecCounterEntry struct {
	Name string       `json:"name" yaml:"name"`
	Kind ResourceKind `json:"kind" yaml:"kind"`
}

// Payload is a message-action body. Its text form is lowercase hex.
type Payload []byte

// MarshalText implements encoding.TextMarshaler.
func (p Payload) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(p)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Payload) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	*p = b
	return nil
}

// MessageAction is one Message Action table row.
//
// Quiet suppresses the informational report on dispatch; the message is
// still sent and still counted.
type MessageAction struct {
	Enabled  bool    `json:"enabled" yaml:"enabled"`
	Quiet    bool    `json:"quiet,omitempty" yaml:"quiet,omitempty"`
	Cooldown uint16  `json:"cooldown" yaml:"cooldown"`
	Payload  Payload `json:"payload" yaml:"payload"`
}

// FaultEvent is one incoming fault-event notification.
type FaultEvent struct {
	AppName string `json:"app_name"`
	EventID uint16 `json:"event_id"`
}

// NormalizeName returns the NFC form of an application or resource name.
func NormalizeName(s string) string {
	return norm.NFC.String(s)
}
