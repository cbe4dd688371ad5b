package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jmoiron/sqlx"

	"github.com/predatorfx/hunter/internal/config"
	hunterrors "github.com/predatorfx/hunter/pkg/errors"
	"github.com/predatorfx/hunter/pkg/types"
)

const configCacheKey = "hunter:config:active"

// Store is the persistence adapter for one session: GORM for orders and
// snapshots, raw sqlx for the append-only audit log, and a short-TTL
// in-process cache in front of config reads.
type Store struct {
	db     *gorm.DB
	rawDB  *sqlx.DB
	cache  *gocache.Cache
	logger *zap.Logger
}

// Open connects to Postgres via GORM and wraps the same *sql.DB for raw
// sqlx access, mirroring the split between ORM repositories
// (internal/db/repositories/order_repository.go) and raw-SQL repositories
// (internal/db/repositories/user_repository.go).
func Open(cfg *config.Config, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, hunterrors.Wrap(hunterrors.ErrPersistWrite, hunterrors.SeverityCritical, "opening database", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, hunterrors.Wrap(hunterrors.ErrPersistWrite, hunterrors.SeverityCritical, "extracting sql.DB", err)
	}
	rawDB := sqlx.NewDb(sqlDB, "postgres")

	if err := db.AutoMigrate(&OandaOrder{}, &InstrumentSnapshot{}); err != nil {
		return nil, hunterrors.Wrap(hunterrors.ErrPersistWrite, hunterrors.SeverityCritical, "running migrations", err)
	}

	return &Store{
		db:     db,
		rawDB:  rawDB,
		cache:  gocache.New(5*time.Minute, 10*time.Minute),
		logger: logger,
	}, nil
}

// CachedConfig returns the cached config snapshot if present, along with
// whether it was a cache hit, so the orchestrator can skip re-reading
// disk/env on every session start within the TTL window.
func (s *Store) CachedConfig() (*config.Config, bool) {
	v, found := s.cache.Get(configCacheKey)
	if !found {
		return nil, false
	}
	cfg, ok := v.(*config.Config)
	return cfg, ok
}

// CacheConfig stores the loaded config for the TTL window.
func (s *Store) CacheConfig(cfg *config.Config) {
	s.cache.Set(configCacheKey, cfg, gocache.DefaultExpiration)
}

// WriteOrder upserts an order record keyed on ClientOrderID, making the
// write idempotent under session-level retries (spec.md §6).
func (s *Store) WriteOrder(ctx context.Context, order *OandaOrder) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	result := s.db.WithContext(ctx).
		Where("client_order_id = ?", order.ClientOrderID).
		Assign(order).
		FirstOrCreate(order)
	if result.Error != nil {
		s.logger.Error("failed to write order", zap.Error(result.Error), zap.String("client_order_id", order.ClientOrderID))
		return hunterrors.Wrap(hunterrors.ErrPersistWrite, hunterrors.SeverityHigh, "writing order", result.Error)
	}
	return nil
}

// UpsertSnapshot writes or updates a per-instrument snapshot, keyed on
// (memory_type, memory_key) so repeated session-end writes are idempotent.
func (s *Store) UpsertSnapshot(ctx context.Context, snap *InstrumentSnapshot) error {
	snap.UpdatedAt = time.Now()
	result := s.db.WithContext(ctx).
		Where("memory_type = ? AND memory_key = ?", snap.MemoryType, snap.MemoryKey).
		Assign(snap).
		FirstOrCreate(snap)
	if result.Error != nil {
		s.logger.Error("failed to upsert snapshot", zap.Error(result.Error), zap.String("memory_key", snap.MemoryKey))
		return hunterrors.Wrap(hunterrors.ErrPersistUpsert, hunterrors.SeverityHigh, "upserting snapshot", result.Error)
	}
	return nil
}

// WriteGateAudit inserts one append-only audit row via raw SQL. Called
// once per fill, never per evaluated tick (spec.md §4.3).
func (s *Store) WriteGateAudit(ctx context.Context, row *GateBypassAudit) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	const query = `
		INSERT INTO gate_bypasses (
			id, gate_id, reason, expires_at, revoked, created_by, created_at
		) VALUES (
			:id, :gate_id, :reason, :expires_at, :revoked, :created_by, :created_at
		)
	`
	if _, err := s.rawDB.NamedExecContext(ctx, query, row); err != nil {
		return hunterrors.Wrap(hunterrors.ErrPersistWrite, hunterrors.SeverityMedium, "writing gate audit row", err)
	}
	return nil
}

// LoadOpenPositions returns every filled order that has not been closed,
// for the session orchestrator's startup open-positions snapshot
// (spec.md §4.5 step 3).
func (s *Store) LoadOpenPositions(ctx context.Context) ([]types.Position, error) {
	var rows []OandaOrder
	err := s.db.WithContext(ctx).
		Where("response_kind = ? AND closed_at IS NULL", "FILLED").
		Find(&rows).Error
	if err != nil {
		return nil, hunterrors.Wrap(hunterrors.ErrPersistWrite, hunterrors.SeverityHigh, "loading open positions", err)
	}

	positions := make([]types.Position, 0, len(rows))
	for _, r := range rows {
		positions = append(positions, types.Position{
			TradeID:          r.TradeID,
			Instrument:       types.Instrument(r.Instrument),
			Direction:        types.Direction(r.Direction),
			EntryPrice:       r.FillPrice,
			Units:            r.Units,
			OpenedAtMs:       r.CreatedAt.UnixMilli(),
			CurrentStopPrice: r.CurrentStopPrice,
		})
	}
	return positions, nil
}

// MarkOrderClosed stamps the order row matching tradeID as closed,
// recording the exit price and the exit authority's governance reason
// (spec.md §4.4, §6 "health_governance_action").
func (s *Store) MarkOrderClosed(ctx context.Context, tradeID, reason string, exitPrice float64) error {
	err := s.db.WithContext(ctx).Model(&OandaOrder{}).
		Where("trade_id = ?", tradeID).
		Updates(map[string]interface{}{
			"closed_at":                time.Now(),
			"exit_price":               exitPrice,
			"health_governance_action": reason,
			"response_kind":            "CLOSED",
		}).Error
	if err != nil {
		return hunterrors.Wrap(hunterrors.ErrPersistUpsert, hunterrors.SeverityMedium, "marking order closed", err)
	}
	return nil
}

// UpdateOrderStop persists a new stop price for an open position.
func (s *Store) UpdateOrderStop(ctx context.Context, tradeID string, price float64) error {
	err := s.db.WithContext(ctx).Model(&OandaOrder{}).
		Where("trade_id = ?", tradeID).
		Update("current_stop_price", price).Error
	if err != nil {
		return hunterrors.Wrap(hunterrors.ErrPersistUpsert, hunterrors.SeverityMedium, "updating order stop", err)
	}
	return nil
}

// LastFireTimestamps returns, per instrument, the timestamp of the most
// recent PREDATOR_FIRE audit row, seeding the cooldown hysteresis across
// session restarts (spec.md §4.5 step 2). gate_id is keyed
// "PREDATOR_FIRE:<instrument>" (spec.md §4.3, §6).
func (s *Store) LastFireTimestamps(ctx context.Context) (map[string]int64, error) {
	type row struct {
		GateID    string    `db:"gate_id"`
		CreatedAt time.Time `db:"created_at"`
	}
	var rows []row
	err := s.rawDB.SelectContext(ctx, &rows,
		`SELECT gate_id, MAX(created_at) AS created_at FROM gate_bypasses WHERE gate_id LIKE 'PREDATOR_FIRE:%' GROUP BY gate_id`)
	if err != nil {
		return nil, hunterrors.Wrap(hunterrors.ErrPersistWrite, hunterrors.SeverityLow, "loading last fire timestamps", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		instrument := strings.TrimPrefix(r.GateID, "PREDATOR_FIRE:")
		out[instrument] = r.CreatedAt.UnixMilli()
	}
	return out, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
