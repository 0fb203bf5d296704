package app

import (
	"errors"

	"funbot/internal/config"
	"funbot/internal/content"
	"funbot/internal/content/localstore"
	"funbot/internal/content/provider"
	"funbot/internal/content/resolver"
	"funbot/internal/eventbus"
	logx "funbot/pkg/logx"
)

// Content is the resolution stack shared by the bot and the resolve command.
type Content struct {
	Resolver *resolver.Resolver
	Client   *provider.Client
	// Local is nil when the content database is unavailable.
	Local *localstore.Store
}

// OpenContent builds the provider client, the local store and the resolver.
// A missing content database only disables the local source.
func OpenContent(cfg *config.Config, bus eventbus.Bus, log logx.Logger) (*Content, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	pc, err := mapProviderClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := provider.New(pc, log.With(logx.String("comp", "provider")))

	lc, err := mapLocalStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	rc, err := mapResolverConfig(cfg)
	if err != nil {
		return nil, err
	}

	// the resolver must see a nil interface, not a nil *Store
	var local resolver.LocalSource
	store, err := localstore.Open(lc, log.With(logx.String("comp", "localstore")))
	switch {
	case err == nil:
		local = store
	case errors.Is(err, content.ErrStoreUnavailable):
		log.Warn("local content store unavailable, serving from providers only", logx.Err(err))
		store = nil
	default:
		return nil, err
	}

	res := resolver.New(rc, mapProviderTable(cfg), local, client, bus, log.With(logx.String("comp", "resolver")))
	return &Content{Resolver: res, Client: client, Local: store}, nil
}

func (c *Content) Close() error {
	if c == nil || c.Local == nil {
		return nil
	}
	return c.Local.Close()
}
