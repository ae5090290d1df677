package model

import (
	"time"
)

// Stage is a coarse bucket of conversation progress derived from message
// count. It steers the tone of AI reply suggestions.
type Stage string

const (
	StageInitial       Stage = "initial"
	StageGettingToKnow Stage = "getting_to_know"
	StagePlanningDate  Stage = "planning_date"
)

// StageForCount derives the conversation stage from the number of messages
// exchanged so far.
func StageForCount(messageCount int) Stage {
	switch {
	case messageCount < 5:
		return StageInitial
	case messageCount < 20:
		return StageGettingToKnow
	default:
		return StagePlanningDate
	}
}

// Profile holds the subset of a user profile the suggestion prompt needs.
type Profile struct {
	Name      string   `json:"name"`
	Age       int      `json:"age"`
	Bio       string   `json:"bio"`
	Interests []string `json:"interests,omitempty"`
}

// ConversationContext is the derived snapshot handed to the suggestion
// client. It is recomputed from the current message list on every
// suggestion request, never persisted.
type ConversationContext struct {
	Self                 Profile    `json:"self"`
	Peer                 Profile    `json:"peer"`
	MessageCount         int        `json:"message_count"`
	LastMessageAt        *time.Time `json:"last_message_at,omitempty"`
	HasSharedContactInfo bool       `json:"has_shared_contact_info"`
	Stage                Stage      `json:"stage"`
}
