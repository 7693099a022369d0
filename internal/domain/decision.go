package domain

import "time"

// Action is the outcome of a single lifecycle tick.
type Action string

const (
	ActionHold     Action = "HOLD"
	ActionEnter    Action = "ENTER"
	ActionExit     Action = "EXIT"
	ActionScale    Action = "SCALE"
	ActionNoEntry  Action = "NO_ENTRY" // Technical entry without fusion confirmation
	ActionRejected Action = "REJECTED" // Risk admission denied
	ActionError    Action = "ERROR"
)

// Decision describes what a tick decided and, where applicable, executed.
type Decision struct {
	Symbol   string
	Action   Action
	Price    float64
	Quantity float64
	Reason   string
	PnL      float64
	Signal   *FusionSignal
	At       time.Time
}

// AuditKind classifies a trade audit record.
type AuditKind string

const (
	AuditEntry     AuditKind = "ENTRY"
	AuditExit      AuditKind = "EXIT"
	AuditScale     AuditKind = "SCALE"
	AuditNoEntry   AuditKind = "NO_ENTRY"
	AuditRejection AuditKind = "REJECTION"
	AuditWarning   AuditKind = "WARNING"
	AuditError     AuditKind = "ERROR"
	AuditFatal     AuditKind = "FATAL"
)

// TradeAuditRecord is an immutable log entry for one lifecycle decision.
type TradeAuditRecord struct {
	ID        string
	Symbol    string
	Kind      AuditKind
	Action    Action
	Price     float64
	Quantity  float64
	PnL       float64
	Reason    string
	Timestamp time.Time
}
