// Package identity decides which payer identity a ledger row carries.
package identity

import (
	"context"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("identity",
	fx.Provide(NewResolver),
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Resolver struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewResolver(p Params) *Resolver {
	return &Resolver{db: p.DB, log: p.Log.Named("identity.resolver")}
}

// Resolve returns the account identity when a profile owns the email, and the
// normalized guest email otherwise. The result always satisfies Validate.
func (r *Resolver) Resolve(ctx context.Context, email string) (ledgerdomain.Identity, error) {
	normalized := ledgerdomain.NormalizeEmail(email)
	if normalized == "" {
		return ledgerdomain.Identity{}, ledgerdomain.ErrIdentityConstraint
	}

	var accountID snowflake.ID
	err := r.db.WithContext(ctx).Raw(
		`SELECT id FROM profiles WHERE LOWER(email) = ? ORDER BY id ASC LIMIT 1`,
		normalized,
	).Scan(&accountID).Error
	if err != nil {
		return ledgerdomain.Identity{}, err
	}

	if accountID != 0 {
		return ledgerdomain.AccountIdentity(accountID), nil
	}
	return ledgerdomain.EmailIdentity(normalized), nil
}
