package server

import (
	"github.com/agentsh/linkguard/internal/config"
	"github.com/agentsh/linkguard/internal/threatfeed"
)

// Core holds the threat list components built from configuration.
type Core struct {
	Store   *threatfeed.Store
	Client  *threatfeed.Client
	Syncer  *threatfeed.Synchronizer
	Matcher *threatfeed.Matcher
}

func NewCore(cfg config.SafeBrowsingConfig, rec threatfeed.Recorder) (*Core, error) {
	types, err := cfg.Types()
	if err != nil {
		return nil, err
	}
	store := threatfeed.NewStore(types...)
	client := threatfeed.NewClient(cfg.ClientConfig())
	return &Core{
		Store:   store,
		Client:  client,
		Syncer:  threatfeed.NewSynchronizer(store, client, cfg.SyncConfig(), rec),
		Matcher: threatfeed.NewMatcher(store, client, rec),
	}, nil
}
