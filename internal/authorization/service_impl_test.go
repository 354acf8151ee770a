package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ledger/ledgertest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	conn := ledgertest.OpenDB(t)
	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)
	svc := NewService(Params{DB: conn, Log: zap.NewNop(), Clock: clock.NewFakeClock(now), Enforcer: enforcer})
	return svc, conn, ledgertest.NewNode(t)
}

func insertToken(t *testing.T, conn *gorm.DB, node *snowflake.Node, userID snowflake.ID, token string, expiresAt *time.Time, roles ...string) {
	t.Helper()
	require.NoError(t, conn.Exec(
		`INSERT INTO auth_tokens (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		node.Generate(), userID, HashToken(token), expiresAt, now,
	).Error)
	for _, role := range roles {
		require.NoError(t, conn.Exec(
			`INSERT INTO user_roles (user_id, role, created_at) VALUES (?, ?, ?)`,
			userID, role, now,
		).Error)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, conn, node := newTestService(t)
	ctx := context.Background()

	admin := node.Generate()
	insertToken(t, conn, node, admin, "admin-token", nil, "admin")
	expired := node.Generate()
	past := now.Add(-time.Minute)
	insertToken(t, conn, node, expired, "stale-token", &past, "owner")

	principal, err := svc.Authenticate(ctx, "admin-token")
	require.NoError(t, err)
	require.Equal(t, admin, principal.UserID)
	require.Equal(t, []string{"admin"}, principal.Roles)

	_, err = svc.Authenticate(ctx, "stale-token")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Authenticate(ctx, "unknown")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Authenticate(ctx, "  ")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorizeByRole(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		roles   []string
		object  string
		action  string
		wantErr error
	}{
		{name: "admin_runs_reconciliation", roles: []string{"admin"}, object: ObjectReconciliation, action: ActionRun},
		{name: "owner_diagnoses_recovery", roles: []string{"owner"}, object: ObjectRecovery, action: ActionDiagnose},
		{name: "volunteer_forbidden", roles: []string{"volunteer"}, object: ObjectRecovery, action: ActionRun, wantErr: ErrForbidden},
		{name: "no_roles_forbidden", object: ObjectReconciliation, action: ActionRun, wantErr: ErrForbidden},
		{name: "missing_object", roles: []string{"admin"}, action: ActionRun, wantErr: ErrInvalidObject},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, Principal{UserID: node.Generate(), Roles: tc.roles}, tc.object, tc.action)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAuthorizeDropsRevokedRole(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	user := node.Generate()

	require.NoError(t, svc.Authorize(ctx, Principal{UserID: user, Roles: []string{"owner"}}, ObjectRecovery, ActionRun))
	err := svc.Authorize(ctx, Principal{UserID: user}, ObjectRecovery, ActionRun)
	require.ErrorIs(t, err, ErrForbidden)
}
