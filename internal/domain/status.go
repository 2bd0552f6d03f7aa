package domain

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Status is the lifecycle state of a VideoRequest.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusGenerated  Status = "generated"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
)

// transitions lists the forward edges of the request state machine.
// generated -> generated is the notification-retry update.
var transitions = map[Status][]Status{
	StatusPending:    {StatusGenerating, StatusFailed},
	StatusGenerating: {StatusGenerated, StatusTimeout, StatusFailed},
	StatusGenerated:  {StatusGenerated, StatusSent},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusGenerating, StatusGenerated, StatusSent, StatusFailed, StatusTimeout}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, v := range AllStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automatic transition leaves s.
// generated is not terminal: it still accepts a delivery update.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusTimeout, StatusSent:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts user input into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", errors.Newf("unknown status %q", s)
	}
	return st, nil
}
