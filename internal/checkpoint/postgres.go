package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ashureev/interviewd/internal/domain"
)

type checkpointRow struct {
	Token     string         `gorm:"primaryKey;type:text"`
	Step      int64          `gorm:"not null"`
	Snapshot  datatypes.JSON `gorm:"type:jsonb;not null"`
	Terminal  bool           `gorm:"not null;default:false;index:idx_checkpoints_open,where:terminal = false"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null;index:idx_checkpoints_open"`
}

func (checkpointRow) TableName() string { return "checkpoints" }

type historyRow struct {
	Token     string         `gorm:"primaryKey;type:text"`
	Step      int64          `gorm:"primaryKey"`
	Snapshot  datatypes.JSON `gorm:"type:jsonb;not null"`
	Terminal  bool           `gorm:"not null;default:false"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (historyRow) TableName() string { return "checkpoint_history" }

// PostgresStore implements Store on PostgreSQL through gorm.
type PostgresStore struct {
	db *gorm.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres connects to dsn and migrates the checkpoint tables.
func NewPostgres(dsn string, maxOpen int, log *slog.Logger) (*PostgresStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.New(
			slog.NewLogLogger(log.Handler(), slog.LevelDebug),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				ParameterizedQueries:      true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 25
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(10, maxOpen))
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&checkpointRow{}, &historyRow{}); err != nil {
		return nil, fmt.Errorf("migrate checkpoint tables: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load returns the latest checkpoint for token.
func (s *PostgresStore) Load(ctx context.Context, token string) (*Record, error) {
	var row checkpointRow
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("load checkpoint", err)
	}
	return &Record{
		Token:     row.Token,
		Step:      row.Step,
		Snapshot:  []byte(row.Snapshot),
		Terminal:  row.Terminal,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// LoadAt returns the historical checkpoint at step.
func (s *PostgresStore) LoadAt(ctx context.Context, token string, step int64) (*Record, error) {
	var row historyRow
	err := s.db.WithContext(ctx).Where("token = ? AND step = ?", token, step).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("load checkpoint history", err)
	}
	rec := historyRecord(row)
	return &rec, nil
}

func historyRecord(row historyRow) Record {
	return Record{
		Token:     row.Token,
		Step:      row.Step,
		Snapshot:  []byte(row.Snapshot),
		Terminal:  row.Terminal,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.CreatedAt,
	}
}

// Save writes rec with an optimistic step check and appends it to history.
func (s *PostgresStore) Save(ctx context.Context, rec *Record, expectedStep int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var res *gorm.DB
		if expectedStep == 0 {
			res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&checkpointRow{
				Token:     rec.Token,
				Step:      rec.Step,
				Snapshot:  datatypes.JSON(rec.Snapshot),
				Terminal:  rec.Terminal,
				CreatedAt: rec.CreatedAt,
				UpdatedAt: rec.UpdatedAt,
			})
		} else {
			res = tx.Model(&checkpointRow{}).
				Where("token = ? AND step = ?", rec.Token, expectedStep).
				Updates(map[string]any{
					"step":       rec.Step,
					"snapshot":   datatypes.JSON(rec.Snapshot),
					"terminal":   rec.Terminal,
					"updated_at": rec.UpdatedAt,
				})
		}
		if res.Error != nil {
			return fmt.Errorf("write checkpoint: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: token %s is no longer at step %d", domain.ErrConflict, rec.Token, expectedStep)
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}, {Name: "step"}},
			DoUpdates: clause.AssignmentColumns([]string{"snapshot", "terminal", "created_at"}),
		}).Create(&historyRow{
			Token:     rec.Token,
			Step:      rec.Step,
			Snapshot:  datatypes.JSON(rec.Snapshot),
			Terminal:  rec.Terminal,
			CreatedAt: rec.UpdatedAt,
		}).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrConflict):
		return err
	default:
		return unavailable("save checkpoint", err)
	}
}

// History lists past checkpoints for token, newest first.
func (s *PostgresStore) History(ctx context.Context, token string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []historyRow
	err := s.db.WithContext(ctx).
		Where("token = ?", token).
		Order("step DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("query checkpoint history", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyRecord(row))
	}
	return out, nil
}

// Expire removes open sessions that have not been advanced within ttl.
func (s *PostgresStore) Expire(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl)
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&checkpointRow{}).
			Select("token").
			Where("terminal = ? AND updated_at < ?", false, threshold)
		if err := tx.Where("token IN (?)", stale).Delete(&historyRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("terminal = ? AND updated_at < ?", false, threshold).Delete(&checkpointRow{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, unavailable("expire checkpoints", err)
	}
	return deleted, nil
}
