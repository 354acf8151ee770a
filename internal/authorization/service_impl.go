package authorization

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectReconciliation = "reconciliation"
	ObjectRecovery       = "recovery"
)

const (
	ActionRun      = "run"
	ActionDiagnose = "diagnose"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		clock:    p.Clock,
		enforcer: p.Enforcer,
	}
}

// HashToken is the stored form of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *ServiceImpl) Authenticate(ctx context.Context, token string) (*Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}

	var row struct {
		UserID    snowflake.ID `gorm:"column:user_id"`
		ExpiresAt *time.Time   `gorm:"column:expires_at"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT user_id, expires_at
		 FROM auth_tokens
		 WHERE token_hash = ? AND revoked_at IS NULL
		 LIMIT 1`,
		HashToken(token),
	).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.UserID == 0 {
		return nil, ErrUnauthorized
	}
	if row.ExpiresAt != nil && !row.ExpiresAt.After(s.clock.Now()) {
		return nil, ErrUnauthorized
	}

	roles, err := s.rolesForUser(ctx, row.UserID)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: row.UserID, Roles: roles}, nil
}

func (s *ServiceImpl) Authorize(ctx context.Context, principal Principal, object string, action string) error {
	if principal.UserID == 0 {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := principal.Actor()
	if err := s.syncGrouping(subject, principal.Roles); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) rolesForUser(ctx context.Context, userID snowflake.ID) ([]string, error) {
	var roles []string
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role FROM user_roles WHERE user_id = ? ORDER BY role`,
		userID,
	).Scan(&roles).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role != "" {
			out = append(out, role)
		}
	}
	return out, nil
}

// syncGrouping makes the subject's casbin role links match its current roles.
func (s *ServiceImpl) syncGrouping(subject string, roles []string) error {
	want := make(map[string]bool, len(roles))
	for _, role := range roles {
		want["role:"+role] = true
	}

	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if want[rule[1]] {
			delete(want, rule[1])
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(subject, rule[1]); err != nil {
			return err
		}
	}
	for roleName := range want {
		if _, err := s.enforcer.AddGroupingPolicy(subject, roleName); err != nil {
			return err
		}
	}
	return nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:admin", ObjectReconciliation, ActionRun},
		{"role:admin", ObjectRecovery, ActionRun},
		{"role:admin", ObjectRecovery, ActionDiagnose},

		{"role:owner", ObjectReconciliation, ActionRun},
		{"role:owner", ObjectRecovery, ActionRun},
		{"role:owner", ObjectRecovery, ActionDiagnose},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
