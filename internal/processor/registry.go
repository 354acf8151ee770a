// Package processor hands out the processor client for a given mode.
package processor

import (
	"strings"

	"github.com/joshmstewart/bestdayministries-sub013/internal/config"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
	"github.com/joshmstewart/bestdayministries-sub013/internal/processor/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("processor",
	fx.Provide(ProvideRegistry),
)

// Registry maps each mode to a client built from that mode's credential.
type Registry struct {
	clients map[ledgerdomain.Mode]processordomain.Client
}

func NewRegistry(clients map[ledgerdomain.Mode]processordomain.Client) *Registry {
	registry := &Registry{clients: map[ledgerdomain.Mode]processordomain.Client{}}
	for mode, client := range clients {
		if client == nil {
			continue
		}
		registry.clients[mode] = client
	}
	return registry
}

func ProvideRegistry(cfg config.Config, log *zap.Logger) *Registry {
	clients := map[ledgerdomain.Mode]processordomain.Client{}
	if key := strings.TrimSpace(cfg.Stripe.TestSecretKey); key != "" {
		clients[ledgerdomain.ModeTest] = stripe.New(key)
	}
	if key := strings.TrimSpace(cfg.Stripe.LiveSecretKey); key != "" {
		clients[ledgerdomain.ModeLive] = stripe.New(key)
	}
	if len(clients) == 0 {
		log.Warn("no stripe secret keys configured; processor calls will fail")
	}
	return NewRegistry(clients)
}

func (r *Registry) ModeConfigured(mode ledgerdomain.Mode) bool {
	if r == nil {
		return false
	}
	_, ok := r.clients[mode]
	return ok
}

// Client returns the client for mode. It never falls back to another mode.
func (r *Registry) Client(mode ledgerdomain.Mode) (processordomain.Client, error) {
	if r == nil {
		return nil, processordomain.ErrModeNotConfigured
	}
	client, ok := r.clients[mode]
	if !ok {
		return nil, processordomain.ErrModeNotConfigured
	}
	return client, nil
}
