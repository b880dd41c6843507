package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"packchain/core/events"
	"packchain/core/types"
	"packchain/native/mysterypack"
	"packchain/observability"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1000
)

// ErrNotFound is returned by queries that match no row.
var ErrNotFound = errors.New("indexer: not found")

// Open connects to the projection database and migrates its schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

// Indexer projects committed mystery pack events into SQL tables. It is an
// events.Emitter; write failures are logged and counted but never propagate
// back into transaction execution.
type Indexer struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *observability.PackMetrics
	now     func() time.Time
}

func New(db *gorm.DB, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		db:      db,
		logger:  log,
		metrics: observability.Pack(),
		now:     time.Now,
	}
}

// Emit implements events.Emitter.
func (ix *Indexer) Emit(evt events.Event) {
	payload, ok := evt.(events.Payload)
	if !ok {
		return
	}
	canonical := payload.Event()
	if canonical == nil {
		return
	}
	if err := ix.Apply(context.Background(), *canonical); err != nil {
		ix.metrics.RecordIndexerFailure(canonical.Type)
		ix.logger.Error("index event failed",
			slog.String("type", canonical.Type),
			slog.String("campaign", canonical.Attributes["campaign"]),
			slog.String("error", err.Error()))
	}
}

// Apply writes a single event into the projection. Events of unrelated types
// are ignored.
func (ix *Indexer) Apply(ctx context.Context, evt types.Event) error {
	db := ix.db.WithContext(ctx)
	attrs := evt.Attributes
	now := ix.now().UTC()

	switch evt.Type {
	case mysterypack.EventTypeCampaignInitialized:
		row, err := campaignFromAttributes(attrs)
		if err != nil {
			return err
		}
		row.CreatedAt, row.UpdatedAt = now, now
		return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error

	case mysterypack.EventTypePackPurchased:
		index, err := parseUint(attrs, "packIndex", 32)
		if err != nil {
			return err
		}
		price, err := parseUint(attrs, "price", 64)
		if err != nil {
			return err
		}
		return db.Transaction(func(tx *gorm.DB) error {
			row := &Receipt{
				Address:   attrs["receipt"],
				Campaign:  attrs["campaign"],
				Buyer:     attrs["buyer"],
				PackIndex: uint32(index),
				Price:     price,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
				return err
			}
			return tx.Model(&Campaign{}).Where("address = ?", attrs["campaign"]).
				Updates(map[string]interface{}{"packs_sold": uint32(index) + 1, "updated_at": now}).Error
		})

	case mysterypack.EventTypePackClaimed:
		amount, err := parseUint(attrs, "amount", 64)
		if err != nil {
			return err
		}
		res := db.Model(&Receipt{}).Where("address = ?", attrs["receipt"]).
			Updates(map[string]interface{}{
				"claimed":    true,
				"asset":      attrs["asset"],
				"amount":     amount,
				"claimed_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: receipt %s", ErrNotFound, attrs["receipt"])
		}
		return nil

	case mysterypack.EventTypeCampaignClosed:
		return db.Model(&Campaign{}).Where("address = ?", attrs["campaign"]).
			Updates(map[string]interface{}{"active": false, "updated_at": now}).Error

	case mysterypack.EventTypeVaultWithdrawn:
		amount, err := parseUint(attrs, "amount", 64)
		if err != nil {
			return err
		}
		return db.Create(&Withdrawal{
			Campaign:  attrs["campaign"],
			Vault:     attrs["vault"],
			To:        attrs["to"],
			Amount:    amount,
			CreatedAt: now,
		}).Error
	}
	return nil
}

func campaignFromAttributes(attrs map[string]string) (*Campaign, error) {
	seed, err := parseUint(attrs, "seed", 64)
	if err != nil {
		return nil, err
	}
	price, err := parseUint(attrs, "packPrice", 64)
	if err != nil {
		return nil, err
	}
	total, err := parseUint(attrs, "totalPacks", 32)
	if err != nil {
		return nil, err
	}
	sold, err := parseUint(attrs, "packsSold", 32)
	if err != nil {
		return nil, err
	}
	active, err := strconv.ParseBool(attrs["active"])
	if err != nil {
		return nil, fmt.Errorf("indexer: attribute active: %w", err)
	}
	return &Campaign{
		Address:     attrs["campaign"],
		Vault:       attrs["vault"],
		Seed:        seed,
		Authority:   attrs["authority"],
		RewardAsset: attrs["rewardAsset"],
		PackPrice:   price,
		TotalPacks:  uint32(total),
		PacksSold:   uint32(sold),
		MerkleRoot:  attrs["merkleRoot"],
		Active:      active,
	}, nil
}

func parseUint(attrs map[string]string, key string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(attrs[key], 10, bits)
	if err != nil {
		return 0, fmt.Errorf("indexer: attribute %s: %w", key, err)
	}
	return v, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// Campaign returns the projected campaign at addr.
func (ix *Indexer) Campaign(ctx context.Context, addr string) (*Campaign, error) {
	var row Campaign
	err := ix.db.WithContext(ctx).Where("address = ?", addr).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Campaigns lists campaigns, newest first. When activeOnly is set closed
// campaigns are skipped.
func (ix *Indexer) Campaigns(ctx context.Context, activeOnly bool, limit int) ([]Campaign, error) {
	q := ix.db.WithContext(ctx).Order("created_at DESC").Limit(clampLimit(limit))
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var rows []Campaign
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ReceiptsByBuyer lists the packs bought by buyer in purchase order.
func (ix *Indexer) ReceiptsByBuyer(ctx context.Context, buyer string, limit int) ([]Receipt, error) {
	var rows []Receipt
	err := ix.db.WithContext(ctx).Where("buyer = ?", buyer).
		Order("created_at ASC").Order("pack_index ASC").
		Limit(clampLimit(limit)).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReceiptsByCampaign lists the packs sold by a campaign ordered by pack index.
func (ix *Indexer) ReceiptsByCampaign(ctx context.Context, campaign string, limit int) ([]Receipt, error) {
	var rows []Receipt
	err := ix.db.WithContext(ctx).Where("campaign = ?", campaign).
		Order("pack_index ASC").Limit(clampLimit(limit)).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Withdrawals lists the withdrawals of a campaign, oldest first.
func (ix *Indexer) Withdrawals(ctx context.Context, campaign string) ([]Withdrawal, error) {
	var rows []Withdrawal
	err := ix.db.WithContext(ctx).Where("campaign = ?", campaign).
		Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
