// Package persistence is the adapter between the session and durable
// storage: GORM-backed order/snapshot tables and an append-only sqlx
// audit log, fronted by a short-TTL config cache (spec.md §4.5, §6).
package persistence

import (
	"time"
)

// OandaOrder is the persisted record of a submitted broker order
// (spec.md §6 persisted fields). The table name mirrors the broker's
// own vocabulary rather than a generic "orders" table, since this
// engine only ever talks to one broker.
type OandaOrder struct {
	ID                     string `gorm:"primaryKey;type:uuid"`
	ClientOrderID          string `gorm:"uniqueIndex"`
	TradeID                string `gorm:"index"`
	UserID                 string `gorm:"index"`
	Instrument             string `gorm:"index"`
	Direction              string
	OrderType              string
	Units                  int
	Environment            string
	DirectionEngine        string
	SovereignOverrideTag   string
	ConfidenceScore        float64
	GovernancePayload      string `gorm:"type:jsonb"`
	RequestedPrice         float64
	LimitPrice             float64
	FillPrice              float64
	CurrentStopPrice       float64
	StopLossPips           float64
	TakeProfitPips         float64
	SlippagePips           float64
	SpreadAtEntry          float64
	ExitPrice              *float64
	HealthGovernanceAction string
	ResponseKind           string `gorm:"index"`
	RejectReason           string
	SignalID               string `gorm:"index"`
	CreatedAt              time.Time
	ClosedAt               *time.Time
}

// TableName pins the GORM table name (spec.md §6).
func (OandaOrder) TableName() string { return "oanda_orders" }

// InstrumentSnapshot is the upserted per-instrument state snapshot taken
// at session end (spec.md §4.5 step 8).
type InstrumentSnapshot struct {
	ID           uint   `gorm:"primaryKey"`
	MemoryType   string `gorm:"uniqueIndex:idx_snapshot_key"`
	MemoryKey    string `gorm:"uniqueIndex:idx_snapshot_key"`
	Instrument   string
	D1           float64
	D2           float64
	Hurst        float64
	VPIN         float64
	ZOFI         float64
	Efficiency   float64
	MarketState  string
	TickCount    int64
	RunningBuys  int64
	RunningSells int64
	LevelCount   int
	UpdatedAt    time.Time
}

func (InstrumentSnapshot) TableName() string { return "instrument_snapshots" }

// GateBypassAudit is one append-only row per fill, keyed
// "PREDATOR_FIRE:<instrument>" and carrying the full gate packet as its
// reason payload, written via raw SQL rather than GORM since this table
// is insert-only and never updated (spec.md §4.3, §6 audit trail).
type GateBypassAudit struct {
	ID        string    `db:"id"`
	GateID    string    `db:"gate_id"`
	Reason    string    `db:"reason"`
	ExpiresAt time.Time `db:"expires_at"`
	Revoked   bool      `db:"revoked"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
}
