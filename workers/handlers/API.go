package handlers

import (
	"context"

	"gorenbridge/config"
	"gorenbridge/lifecycle"
	"gorenbridge/redis"
	"gorenbridge/types"
	"gorenbridge/wallet"
)

// Flows is the flow registry the API drives
type Flows interface {
	Create(intent types.TransferIntent, owner string) *lifecycle.Flow
	Get(id string) (*lifecycle.Flow, error)
	Resume(ctx context.Context, id, address, hash string) error
	Remove(id string) error
	Len() int
}

// API groups the handlers that need process state.
type API struct {
	cfg    *config.Configuration
	flows  Flows
	store  *redis.Store
	wallet *wallet.Store
	relay  *wallet.RelayProvider
}

func NewAPI(cfg *config.Configuration, flows Flows, store *redis.Store, walletStore *wallet.Store, relay *wallet.RelayProvider) *API {
	return &API{cfg: cfg, flows: flows, store: store, wallet: walletStore, relay: relay}
}
