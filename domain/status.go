package domain

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// SessionStatus is the lifecycle state of an authentication session.
type SessionStatus int

const (
	StatusUnknown SessionStatus = iota
	StatusPrepared
	StatusInProgress
	StatusFinishing
	StatusNeedToAuth
	StatusRedirect
	StatusReserved
	StatusReady
	StatusAuthed
	StatusAuthedAndNotify
	StatusAuthedAndReported
	StatusVisitor
	StatusFailed
)

var statusNames = map[SessionStatus]string{
	StatusPrepared:          "prepared",
	StatusInProgress:        "in progress",
	StatusFinishing:         "finishing",
	StatusNeedToAuth:        "needToAuth",
	StatusRedirect:          "redirect",
	StatusReserved:          "reserved",
	StatusReady:             "ready",
	StatusAuthed:            "authed",
	StatusAuthedAndNotify:   "authed and notify",
	StatusAuthedAndReported: "authed and reported",
	StatusVisitor:           "visitor",
	StatusFailed:            "failed",
}

// String returns the wire name of the status.
func (s SessionStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SessionStatus(%d)", int(s))
}

// ParseSessionStatus converts a wire name back into a SessionStatus.
func ParseSessionStatus(name string) (SessionStatus, error) {
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return StatusUnknown, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s SessionStatus) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SessionStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseSessionStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalBSONValue stores the status by name.
func (s SessionStatus) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(s.String())
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (s *SessionStatus) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var name string
	if err := bson.UnmarshalValue(t, data, &name); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(name))
}

// IsFlowAnswer reports whether the status is only ever returned to callers of
// SubmitAuthorizeFlow and never stored on a session.
func (s SessionStatus) IsFlowAnswer() bool {
	switch s {
	case StatusNeedToAuth, StatusReady:
		return true
	case StatusUnknown, StatusPrepared, StatusInProgress, StatusFinishing, StatusRedirect,
		StatusReserved, StatusAuthed, StatusAuthedAndNotify, StatusAuthedAndReported,
		StatusVisitor, StatusFailed:
		return false
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusAuthed, StatusAuthedAndNotify, StatusAuthedAndReported, StatusVisitor, StatusFailed:
		return true
	case StatusUnknown, StatusPrepared, StatusInProgress, StatusFinishing, StatusNeedToAuth,
		StatusRedirect, StatusReserved, StatusReady:
		return false
	}
	return false
}

// IsResolved reports whether the session finished the authentication flow
// with an identity attached.
func (s SessionStatus) IsResolved() bool {
	switch s {
	case StatusAuthed, StatusAuthedAndNotify, StatusAuthedAndReported, StatusVisitor, StatusReserved:
		return true
	case StatusUnknown, StatusPrepared, StatusInProgress, StatusFinishing, StatusNeedToAuth,
		StatusRedirect, StatusReady, StatusFailed:
		return false
	}
	return false
}

var transitions = map[SessionStatus][]SessionStatus{
	StatusPrepared:   {StatusInProgress, StatusFinishing, StatusFailed},
	StatusInProgress: {StatusFinishing, StatusFailed},
	StatusFinishing: {
		StatusAuthed, StatusAuthedAndNotify, StatusAuthedAndReported, StatusVisitor,
		StatusRedirect, StatusReserved, StatusFailed,
	},
	StatusRedirect: {
		StatusAuthed, StatusAuthedAndNotify, StatusAuthedAndReported, StatusVisitor, StatusFailed,
	},
	StatusReserved: {StatusFailed},
}

// CanTransitionTo reports whether a stored session may move from s to next.
// Rewriting the same status is always allowed.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
