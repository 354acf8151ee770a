// Package settings reads runtime switches stored in app_settings.
package settings

import (
	"context"
	"strings"

	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const stripeModeKey = "stripe_mode"

var Module = fx.Module("settings",
	fx.Provide(New),
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

// Store is read on every invocation; values are never cached.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(p Params) *Store {
	return &Store{db: p.DB, log: p.Log.Named("settings")}
}

// StripeMode returns the configured processor mode, defaulting to test when
// the setting is missing or unreadable.
func (s *Store) StripeMode(ctx context.Context) (ledgerdomain.Mode, error) {
	var value string
	err := s.db.WithContext(ctx).Raw(
		`SELECT setting_value FROM app_settings WHERE setting_key = ?`,
		stripeModeKey,
	).Scan(&value).Error
	if err != nil {
		return "", err
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return ledgerdomain.ModeTest, nil
	}
	mode, err := ledgerdomain.ParseMode(strings.Trim(value, `"`))
	if err != nil {
		s.log.Warn("unrecognized stripe_mode setting, using test", zap.String("value", value))
		return ledgerdomain.ModeTest, nil
	}
	return mode, nil
}

// ResolveMode honours an explicit override before falling back to the setting.
func (s *Store) ResolveMode(ctx context.Context, override string) (ledgerdomain.Mode, error) {
	if strings.TrimSpace(override) != "" {
		return ledgerdomain.ParseMode(override)
	}
	return s.StripeMode(ctx)
}
