package model

import (
	"strings"
	"time"
)

// JID domain suffixes used by the gateway.
const (
	IndividualSuffix = "@s.whatsapp.net"
	GroupSuffix      = "@g.us"
)

// Identity is a canonical JID: "<digits>@s.whatsapp.net" for individuals or
// "<id>@g.us" for groups. Two raw inputs that normalize to the same Identity
// are the same contact or group.
type Identity string

// IsGroup reports whether the identity refers to a group chat.
func (id Identity) IsGroup() bool { return strings.HasSuffix(string(id), GroupSuffix) }

// LocalPart returns the portion before the domain separator (the bare digits
// for individuals, the group id for groups).
func (id Identity) LocalPart() string {
	if i := strings.IndexByte(string(id), '@'); i >= 0 {
		return string(id)[:i]
	}
	return string(id)
}

// Empty reports whether the identity carries no digits at all. Normalization
// is total, so empty or non-numeric input yields an empty-digit identity that
// callers must reject before acting on it.
func (id Identity) Empty() bool { return id.LocalPart() == "" }

func (id Identity) String() string { return string(id) }

// ReactionEvent is an inbound emoji reaction (or plain message, for
// non-reaction rule kinds) after the transport adapter has mapped it.
// DeliveryID is the transport-supplied dedup key: the same logical event may
// arrive more than once with the same DeliveryID.
type ReactionEvent struct {
	MessageID  string    `json:"messageId"`
	ChatJID    Identity  `json:"chatJid"`
	ReactorJID Identity  `json:"reactorJid"`
	Emoji      string    `json:"emoji"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instanceId,omitempty"`
	DeliveryID string    `json:"deliveryId"`
}

// ActionKind is the closed set of side effects a rule can trigger.
type ActionKind string

const (
	ActionCreateTask          ActionKind = "create_task"
	ActionCreateCalendarEvent ActionKind = "create_calendar_event"
	ActionCreateNote          ActionKind = "create_note"
)

// NeedsTemporal reports whether the action kind consumes a resolved
// date/time from the temporal extractor.
func (k ActionKind) NeedsTemporal() bool { return k == ActionCreateCalendarEvent }

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionCreateTask, ActionCreateCalendarEvent, ActionCreateNote:
		return true
	}
	return false
}

// RuleScope restricts a rule to a chat and/or sender. "*" (or empty)
// matches anything; otherwise the value must equal the event's canonical JID.
type RuleScope struct {
	ChatJID   string `json:"chatJid" yaml:"chatJid"`
	SenderJID string `json:"senderJid" yaml:"senderJid"`
}

// Accepts reports whether the scope admits the given chat and sender.
func (s RuleScope) Accepts(chat, sender Identity) bool {
	if s.ChatJID != "" && s.ChatJID != "*" && s.ChatJID != chat.String() {
		return false
	}
	if s.SenderJID != "" && s.SenderJID != "*" && s.SenderJID != sender.String() {
		return false
	}
	return true
}

// Rule maps an emoji (+ scope) to an action kind and template. Rules are
// statically configured and read-only at evaluation time.
type Rule struct {
	ID       string     `json:"id" yaml:"id"`
	Emoji    string     `json:"emoji" yaml:"emoji"`
	Scope    RuleScope  `json:"scope" yaml:"scope"`
	Kind     ActionKind `json:"kind" yaml:"kind"`
	Template string     `json:"template" yaml:"template"`
	Priority int        `json:"priority" yaml:"priority"`
}

// TemporalExpression is a recognized date/time (or range) phrase. It lives
// for a single extraction attempt and is not persisted independently.
type TemporalExpression struct {
	Anchor        time.Time  `json:"anchor"`
	RawSpan       string     `json:"rawSpan"`
	ResolvedStart time.Time  `json:"resolvedStart"`
	ResolvedEnd   *time.Time `json:"resolvedEnd,omitempty"`
	Confidence    float64    `json:"confidence"`
	Corrected     bool       `json:"corrected"`
}

// ActionStatus is the lifecycle state of an ActionRecord.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionExecuted ActionStatus = "executed"
	ActionFailed   ActionStatus = "failed"
)

// ActionRecord is the ledger row reserving a delivery. DeliveryID is the
// idempotency key: at most one record exists per delivery, created in
// pending status before any external side effect.
type ActionRecord struct {
	ID             string            `json:"id"`
	DeliveryID     string            `json:"deliveryId"`
	RuleID         string            `json:"ruleId"`
	Kind           ActionKind        `json:"kind"`
	RenderedParams map[string]string `json:"renderedParams"`
	Status         ActionStatus      `json:"status"`
	Attempts       int               `json:"attempts"`
	SinkRef        string            `json:"sinkRef,omitempty"`
	FailureCause   string            `json:"failureCause,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Outcome classifies one processing attempt in the audit log.
type Outcome string

const (
	OutcomeExecuted  Outcome = "executed"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNoRule    Outcome = "no_rule"
	OutcomeMalformed Outcome = "malformed"
)

// AuditEntry is an immutable record of one processing attempt. Entries are
// appended once per attempt and never mutated or deleted.
type AuditEntry struct {
	ID            string     `json:"id"`
	DeliveryID    string     `json:"deliveryId"`
	RuleID        string     `json:"ruleId,omitempty"`
	Outcome       Outcome    `json:"outcome"`
	ResolvedStart *time.Time `json:"resolvedStart,omitempty"`
	ResolvedEnd   *time.Time `json:"resolvedEnd,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
	Detail        string     `json:"detail,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}
