package newsletter

import (
	"context"
	"testing"
	"time"

	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"github.com/joshmstewart/bestdayministries-sub013/internal/ledger/ledgertest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubscribeAsyncIsIdempotent(t *testing.T) {
	conn := ledgertest.OpenDB(t)
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: ledgertest.NewNode(t),
		Clock: clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	svc.SubscribeAsync(ctx, "Reader@Example.com", "donation_checkout")
	cancel()
	svc.Wait()
	svc.SubscribeAsync(context.Background(), "reader@example.com", "donation_checkout")
	svc.Wait()

	var count int64
	require.NoError(t, conn.Raw(`SELECT COUNT(*) FROM newsletter_subscribers WHERE email = ?`, "reader@example.com").Scan(&count).Error)
	require.Equal(t, int64(1), count)
}
