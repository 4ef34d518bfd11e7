package model

import "time"

// SourceType identifies the channel an interaction came from.
type SourceType string

const (
	SourceIMessage SourceType = "imessage"
	SourceWhatsApp SourceType = "whatsapp"
	SourceSlack    SourceType = "slack"
	SourcePhone    SourceType = "phone"
	SourceGmail    SourceType = "gmail"
	SourceCalendar SourceType = "calendar"
	SourceVault    SourceType = "vault"
	SourceGranola  SourceType = "granola"
	SourceOther    SourceType = "other"
)

// IsMessage reports whether the source is a message-style channel
// eligible for conversation-context enrichment.
func (s SourceType) IsMessage() bool {
	switch s {
	case SourceIMessage, SourceWhatsApp, SourceSlack, SourcePhone:
		return true
	}
	return false
}

// IsPriority reports whether the source is a high-signal channel that
// receives a bonus share of the sampling budget.
func (s SourceType) IsPriority() bool {
	switch s {
	case SourceCalendar, SourceVault, SourceGranola:
		return true
	}
	return false
}

// Interaction is a single immutable touchpoint with a person from any
// source channel. Produced by the connectors; read-only to this pipeline
// except for Context, which the enricher annotates.
type Interaction struct {
	ID         string     `json:"id" yaml:"id"`
	PersonID   string     `json:"person_id" yaml:"person_id"`
	SourceType SourceType `json:"source_type" yaml:"source_type"`
	Timestamp  time.Time  `json:"timestamp" yaml:"timestamp"`
	Title      string     `json:"title" yaml:"title"`
	Snippet    string     `json:"snippet,omitempty" yaml:"snippet,omitempty"`
	SourceLink string     `json:"source_link,omitempty" yaml:"source_link,omitempty"`

	// Context holds surrounding-conversation text attached by the enricher.
	Context string `json:"context,omitempty" yaml:"context,omitempty"`
}
