// Package newsletter records checkout opt-ins.
package newsletter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joshmstewart/bestdayministries-sub013/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const optInTimeout = 10 * time.Second

var Module = fx.Module("newsletter",
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	wg    sync.WaitGroup
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("newsletter.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// Subscribe inserts the email once; repeated opt-ins are no-ops.
func (s *Service) Subscribe(ctx context.Context, email, source string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO newsletter_subscribers (id, email, source, status, created_at)
		 VALUES (?, ?, ?, 'subscribed', ?)
		 ON CONFLICT (email) DO NOTHING`,
		s.genID.Generate(),
		email,
		source,
		s.clock.Now().UTC(),
	).Error
}

// SubscribeAsync runs Subscribe detached from the caller. Failures are
// logged and never reach the caller.
func (s *Service) SubscribeAsync(ctx context.Context, email, source string) {
	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(detached, optInTimeout)
		defer cancel()
		if err := s.Subscribe(ctx, email, source); err != nil {
			s.log.Warn("newsletter opt-in failed", zap.String("source", source), zap.Error(err))
		}
	}()
}

// Wait blocks until pending opt-ins finish.
func (s *Service) Wait() {
	s.wg.Wait()
}
