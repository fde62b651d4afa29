package model

import (
	"regexp"
	"strings"
)

// Status is a visitor request's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusEntered  Status = "entered"
	StatusExited   Status = "exited"
)

// NoticeKind is a guard-triggered sub-notification that informs residents
// without moving the request out of its current state.
type NoticeKind string

const (
	NoticeArrived         NoticeKind = "arrived"
	NoticeWaitingApproval NoticeKind = "waiting_approval"
)

// transitions maps each state to the set of states it may move to.
// rejected and exited are terminal.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusEntered},
	StatusEntered:  {StatusExited},
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusEntered, StatusExited:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to next is permitted.
// Transitions are monotonic; a terminal state never permits one.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

var blockPrefix = regexp.MustCompile(`^(BLOCK|TOWER|WING)\s+`)

// NormalizeBlockLabel reduces a block label to a comparable form: upper-case,
// leading BLOCK/TOWER/WING token stripped, surrounding whitespace trimmed.
// "Block A", "block a" and "A" all normalize to "A".
func NormalizeBlockLabel(label string) string {
	n := strings.ToUpper(strings.TrimSpace(label))
	return strings.TrimSpace(blockPrefix.ReplaceAllString(n, ""))
}

// ResidentMatchesFlat reports whether a resident is associated with the given
// flat, either directly by flat id or through the legacy block-label +
// flat-number pair. Legacy bulk-imported residents only carry the pair, so
// both checks are always attempted.
func ResidentMatchesFlat(res Resident, flat Flat, blockName string) bool {
	if res.FlatID != "" && res.FlatID == flat.ID {
		return true
	}
	if res.FlatNumber == "" {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(res.FlatNumber), strings.TrimSpace(flat.Number)) {
		return false
	}
	return NormalizeBlockLabel(res.BlockLabel) == NormalizeBlockLabel(blockName)
}
