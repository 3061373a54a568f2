package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// notifyChannel is the LISTEN/NOTIFY channel carrying the changed slot key.
const notifyChannel = "presence_slot_changed"

type slotRow struct {
	Key       string `gorm:"column:slot_key;primaryKey;size:128"`
	Value     string `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time
}

func (slotRow) TableName() string { return "presence_slots" }

// PostgresSlot stores the slot as a row and announces changes with NOTIFY, so
// clients on different machines converge on the same record.
type PostgresSlot struct {
	db     *gorm.DB
	dsn    string
	key    string
	logger *zap.Logger
}

// OpenPostgresSlot connects, migrates the slot table and returns the slot for key.
func OpenPostgresSlot(ctx context.Context, dsn, key string, logger *zap.Logger) (*PostgresSlot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if key == "" {
		key = StorageKey
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("presence: open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&slotRow{}); err != nil {
		return nil, fmt.Errorf("presence: migrate slot table: %w", err)
	}
	return &PostgresSlot{db: db, dsn: dsn, key: key, logger: logger}, nil
}

func (s *PostgresSlot) Load(ctx context.Context) ([]byte, error) {
	var row slotRow
	err := s.db.WithContext(ctx).Where("slot_key = ?", s.key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("presence: load slot: %w", err)
	}
	return []byte(row.Value), nil
}

func (s *PostgresSlot) Store(ctx context.Context, value []byte) error {
	row := slotRow{Key: s.key, Value: string(value), UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slot_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.Exec("SELECT pg_notify(?, ?)", notifyChannel, s.key).Error
	})
	if err != nil {
		return fmt.Errorf("presence: store slot: %w", err)
	}
	return nil
}

func (s *PostgresSlot) Delete(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("slot_key = ?", s.key).Delete(&slotRow{}).Error; err != nil {
			return err
		}
		return tx.Exec("SELECT pg_notify(?, ?)", notifyChannel, s.key).Error
	})
	if err != nil {
		return fmt.Errorf("presence: delete slot: %w", err)
	}
	return nil
}

// Watch holds a dedicated connection in LISTEN mode for the lifetime of ctx.
func (s *PostgresSlot) Watch(ctx context.Context) (<-chan struct{}, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("presence: listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("presence: listen: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("presence slot listen stopped", zap.Error(err))
				}
				return
			}
			if n.Payload != s.key {
				continue
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, nil
}

func (s *PostgresSlot) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
