package workers

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gorenbridge/config"
	"gorenbridge/gateway"
	"gorenbridge/lifecycle"
	"gorenbridge/metrics"
	"gorenbridge/recovery"
	"gorenbridge/redis"
	"gorenbridge/types"
	"gorenbridge/wallet"
)

// Registry holds the live flows of the process.
type Registry struct {
	cfg         *config.Configuration
	sdk         gateway.SDK
	store       *redis.Store
	wallet      *wallet.Store
	coordinator *recovery.Coordinator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	flows map[string]*lifecycle.Flow
	// network hash -> id of the flow resuming it
	resumed map[string]string
	// flows opened by the pending-transfer worker, closed once completed
	background map[string]bool
}

func NewRegistry(cfg *config.Configuration, sdk gateway.SDK, store *redis.Store, walletStore *wallet.Store) *Registry {
	r := &Registry{
		cfg:         cfg,
		sdk:         sdk,
		store:       store,
		wallet:      walletStore,
		coordinator: recovery.New(store),
		flows:       map[string]*lifecycle.Flow{},
		resumed:     map[string]string{},
		background:  map[string]bool{},
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

func (r *Registry) Wallet() *wallet.Store { return r.wallet }

func (r *Registry) Store() *redis.Store { return r.store }

// owner picks the address records of intent are stored under
func (r *Registry) owner(intent types.TransferIntent, owner string) string {
	if owner != "" {
		return owner
	}
	state := r.wallet.Snapshot()
	for _, chain := range []types.Chain{intent.From, intent.To} {
		if acc := state.Account(chain); acc.Connected && acc.Address != "" {
			return acc.Address
		}
	}
	if intent.FromAddress != "" {
		return intent.FromAddress
	}
	return intent.ToAddress
}

// Create opens a flow for intent. An intent carrying a network hash resumes
// the transfer stored under owner in the background.
func (r *Registry) Create(intent types.TransferIntent, owner string) *lifecycle.Flow {
	session := gateway.NewSession(r.ctx, r.cfg, r.sdk, intent)
	opts := lifecycle.Options{
		Owner:         owner,
		Wallet:        r.wallet,
		PollInterval:  r.cfg.PollInterval(),
		SubmitTimeout: r.cfg.SubmitTimeout(),
	}
	if r.store != nil {
		opts.Store = r.store
	}
	flow := lifecycle.New(session, opts)

	r.mu.Lock()
	r.flows[flow.ID()] = flow
	if intent.NetworkHash != "" {
		r.resumed[intent.NetworkHash] = flow.ID()
	}
	r.mu.Unlock()
	metrics.ActiveFlows.Inc()
	log.WithFields(log.Fields{"module": "registry", "flow": flow.ID(), "asset": intent.Asset, "from": intent.From, "to": intent.To}).Info("flow created")

	if intent.NetworkHash != "" && session.Err() == nil {
		address := r.owner(intent, owner)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.Resume(r.ctx, flow.ID(), address, intent.NetworkHash); err != nil {
				log.WithFields(log.Fields{"module": "registry", "flow": flow.ID(), "hash": intent.NetworkHash}).Warnf("resume failed: %s", err.Error())
			}
		}()
	}
	return flow
}

func (r *Registry) Get(id string) (*lifecycle.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	flow, ok := r.flows[id]
	if !ok {
		return nil, errors.Wrapf(lifecycle.ErrUnknownFlow, "%s", id)
	}
	return flow, nil
}

// ByHash returns the flow tracking network hash, if any
func (r *Registry) ByHash(hash string) *lifecycle.Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.resumed[hash]; ok {
		return r.flows[id]
	}
	for _, flow := range r.flows {
		if flow.View().NetworkHash == hash {
			return flow
		}
	}
	return nil
}

// Resume recovers the stored transfer (address, hash) into flow id.
func (r *Registry) Resume(ctx context.Context, id, address, hash string) error {
	flow, err := r.Get(id)
	if err != nil {
		return err
	}
	return r.coordinator.Recover(ctx, flow, address, hash)
}

// Remove closes flow id. Its stored record is kept.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	flow, ok := r.flows[id]
	delete(r.flows, id)
	delete(r.background, id)
	for hash, flowID := range r.resumed {
		if flowID == id {
			delete(r.resumed, hash)
		}
	}
	r.mu.Unlock()
	if !ok {
		return errors.Wrapf(lifecycle.ErrUnknownFlow, "%s", id)
	}

	flow.Close()
	r.coordinator.Forget(id)
	metrics.ActiveFlows.Dec()
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}

// resumePending closes background flows that completed, halted or failed to
// recover, then opens a flow for every stored transfer that is not done and
// not tracked yet. A transfer whose recovery failed is retried on the next
// pass. It returns the number of flows opened.
func (r *Registry) resumePending() (int, error) {
	r.mu.RLock()
	var finished []string
	for id := range r.background {
		v := r.flows[id].View()
		if v.Phase == lifecycle.PhaseCompleted || v.Error != nil || (v.RecoverError != nil && !v.Recovering) {
			finished = append(finished, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range finished {
		r.Remove(id)
	}

	addresses, err := r.store.Addresses()
	if err != nil {
		return 0, err
	}

	opened := 0
	for _, address := range addresses {
		pending, err := r.store.GetLocalTxsForAddress(address, redis.Filter{Done: false})
		if err != nil {
			log.WithFields(log.Fields{"module": "registry", "address": address}).Errorf("cannot list pending transfers: %s", err.Error())
			continue
		}
		for _, entry := range redis.SortByTimestamp(pending) {
			if r.ByHash(entry.Hash) != nil {
				continue
			}
			flow := r.Create(types.TransferIntent{TransferParams: entry.Params, NetworkHash: entry.Hash}, address)
			r.mu.Lock()
			r.background[flow.ID()] = true
			r.mu.Unlock()
			opened++
		}
	}
	return opened, nil
}

// CloseAll closes every flow and waits for pending resumes.
func (r *Registry) CloseAll() error {
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	flows := make([]*lifecycle.Flow, 0, len(r.flows))
	for _, flow := range r.flows {
		flows = append(flows, flow)
	}
	r.flows = map[string]*lifecycle.Flow{}
	r.resumed = map[string]string{}
	r.background = map[string]bool{}
	r.mu.Unlock()

	var g errgroup.Group
	for _, flow := range flows {
		flow := flow
		g.Go(func() error {
			flow.Close()
			metrics.ActiveFlows.Dec()
			return nil
		})
	}
	return g.Wait()
}
