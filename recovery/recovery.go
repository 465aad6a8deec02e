package recovery

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gorenbridge/metrics"
	"gorenbridge/redis"
	"gorenbridge/types"
)

type Store interface {
	FindLocalTx(address, hash string) (*types.LocalTxData, error)
}

// Target is the flow a stored transfer is resumed into.
type Target interface {
	ID() string
	Recover(ctx context.Context, address, hash string, data types.LocalTxData) error
	Notify(ctx context.Context, fe *types.FlowError)
}

// Coordinator resumes stored transfers into flows. Each (flow, hash) pair is
// recovered at most once; a failed attempt may be retried.
type Coordinator struct {
	store Store

	mu     sync.Mutex
	active map[string]bool
}

func New(store Store) *Coordinator {
	return &Coordinator{store: store, active: map[string]bool{}}
}

func key(flowID, hash string) string {
	return flowID + "/" + strings.TrimSpace(hash)
}

func (c *Coordinator) acquire(k string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[k] {
		return false
	}
	c.active[k] = true
	return true
}

func (c *Coordinator) release(k string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, k)
}

// Forget drops every guard of flowID, called when the flow is torn down.
func (c *Coordinator) Forget(flowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.active {
		if strings.HasPrefix(k, flowID+"/") {
			delete(c.active, k)
		}
	}
}

// Recover looks hash up for address and resumes it into flow. A hash missing
// from the store, or a store that cannot be read, is reported on the flow and
// returned as a recovery error; nothing is written to the store.
func (c *Coordinator) Recover(ctx context.Context, flow Target, address, hash string) error {
	k := key(flow.ID(), hash)
	if !c.acquire(k) {
		return nil
	}
	logger := log.WithFields(log.Fields{"module": "recovery", "flow": flow.ID(), "address": address, "hash": hash})

	data, err := c.store.FindLocalTx(address, hash)
	if errors.Is(err, redis.ErrNotFound) {
		c.release(k)
		fe := types.NewRecoveryError(errors.Wrapf(err, "transaction %s", hash))
		logger.Warn("transaction not found")
		metrics.Recoveries.WithLabelValues("not_found").Inc()
		flow.Notify(ctx, fe)
		return fe
	}
	if err != nil {
		c.release(k)
		fe := types.NewRecoveryError(errors.Wrap(err, "cannot read local transaction"))
		logger.Errorf("cannot read local transaction: %s", err.Error())
		metrics.Recoveries.WithLabelValues("failed").Inc()
		flow.Notify(ctx, fe)
		return fe
	}

	if err := flow.Recover(ctx, address, hash, *data); err != nil {
		c.release(k)
		logger.Errorf("cannot recover: %s", err.Error())
		metrics.Recoveries.WithLabelValues("failed").Inc()
		return types.NewRecoveryError(err)
	}

	logger.Info("transaction recovered")
	metrics.Recoveries.WithLabelValues("recovered").Inc()
	return nil
}
