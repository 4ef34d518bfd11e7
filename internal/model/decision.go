package model

import "strings"

// Action is a validation verdict for one candidate fact.
type Action string

const (
	ActionKeep   Action = "keep"
	ActionReject Action = "reject"
	ActionUpdate Action = "update"
	ActionMerge  Action = "merge"
)

// ParseAction maps a validator action string to an Action. Anything
// unrecognized fails closed to reject; an ambiguous validator must never
// produce a kept fact.
func ParseAction(s string) Action {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionKeep:
		return ActionKeep
	case ActionUpdate:
		return ActionUpdate
	case ActionMerge:
		return ActionMerge
	default:
		return ActionReject
	}
}

// Decision is one entry of the validation service's response. Candidate and
// the optional index fields refer to positions in the indexed lists sent in
// the validation prompt.
type Decision struct {
	Candidate          int    `json:"candidate"`
	Action             string `json:"action"`
	EvidenceStrength   int    `json:"evidence_strength"`
	UpdatesExisting    *int   `json:"updates_existing,omitempty"`
	MergeIntoCandidate *int   `json:"merge_into_candidate,omitempty"`
	Reason             string `json:"reason,omitempty"`
}
