package infra

import (
	"context"
	"strings"
	"time"

	"fingerprint-gateway/middleware/ratelimit/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialetos aceitos por OpenStatsDB.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// RateLimitStatRow é uma linha append-only por decisão.
type RateLimitStatRow struct {
	ID string `gorm:"primaryKey;size:36"`

	ScopeKey  string `gorm:"size:255;not null;index"`
	ScopeType string `gorm:"size:32;not null"`
	Policy    string `gorm:"size:64;not null;index"`
	Allowed   bool   `gorm:"not null"`

	Method   string `gorm:"size:16"`
	Endpoint string `gorm:"size:512"`

	RemainingAfterThisRequest int `gorm:"not null;default:0"`

	Timestamp time.Time `gorm:"not null;index"`
}

func (RateLimitStatRow) TableName() string { return "rate_limit_stats" }

// OpenStatsDB abre a conexão gorm do dialeto pedido.
func OpenStatsDB(dialect, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectSQLite, "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported stats db dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, errors.WithMessagef(err, "open stats db (%s)", dialect)
	}
	return db, nil
}

// SQLStatsStore grava RateLimitStat numa tabela SQL via gorm.
type SQLStatsStore struct {
	db *gorm.DB
}

func NewSQLStatsStore(db *gorm.DB) *SQLStatsStore {
	return &SQLStatsStore{db: db}
}

func (s *SQLStatsStore) Migrate(ctx context.Context) error {
	return errors.WithMessage(s.db.WithContext(ctx).AutoMigrate(&RateLimitStatRow{}), "migrate rate_limit_stats")
}

func (s *SQLStatsStore) Record(ctx context.Context, st domain.RateLimitStat) error {
	if s == nil || s.db == nil {
		return nil
	}
	ts := st.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := RateLimitStatRow{
		ID:                        uuid.NewString(),
		ScopeKey:                  st.ScopeKey,
		ScopeType:                 string(st.ScopeType),
		Policy:                    st.Policy,
		Allowed:                   st.Allowed,
		Method:                    st.Method,
		Endpoint:                  st.Endpoint,
		RemainingAfterThisRequest: st.Remaining,
		Timestamp:                 ts.UTC(),
	}
	return errors.WithMessage(s.db.WithContext(ctx).Create(&row).Error, "insert rate limit stat")
}
