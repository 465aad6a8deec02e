package tracker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gorenbridge/gateway"
	"gorenbridge/types"
)

var ErrReverted = errors.New("transaction reverted")

// Meta is the latest observation of a tracked transaction. Pointer fields
// stay nil until the value is known.
type Meta struct {
	Status        *types.ConfirmationStatus
	Confirmations int
	Target        int
	Hash          string
	TxURL         *string
	Amount        *string
	Payload       json.RawMessage
	Err           error
}

// Done reports a terminal done status
func (m Meta) Done() bool {
	return m.Status != nil && *m.Status == types.StatusDone
}

func (m Meta) terminal() bool {
	return m.Status != nil && (*m.Status == types.StatusDone || *m.Status == types.StatusReverted)
}

// UpdateFunc receives every new observation. It runs on the tracker
// goroutine and must return once ctx is done.
type UpdateFunc func(ctx context.Context, txID string, m Meta)

// Tracker polls one chain transaction until it is done or stopped.
type Tracker struct {
	interval time.Duration
	onUpdate UpdateFunc

	mu      sync.Mutex
	tx      gateway.ChainTx
	meta    Meta
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(tx gateway.ChainTx, interval time.Duration, onUpdate UpdateFunc) *Tracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Tracker{tx: tx, interval: interval, onUpdate: onUpdate}
}

func (t *Tracker) Tx() gateway.ChainTx {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tx
}

// SetTx switches the tracked transaction. A different identity stops polling
// and drops everything observed so far.
func (t *Tracker) SetTx(tx gateway.ChainTx) {
	t.mu.Lock()
	same := t.tx != nil && tx != nil && t.tx.ID() == tx.ID()
	t.mu.Unlock()
	if same {
		return
	}

	t.Stop()
	t.mu.Lock()
	t.tx = tx
	t.meta = Meta{}
	t.mu.Unlock()
}

func (t *Tracker) Meta() Meta {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta
}

func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start polls right away and then every interval. It does nothing when
// already running, without a transaction or once done.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.tx == nil || t.meta.terminal() {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true
	t.wg.Add(1)
	go t.run(ctx, t.tx)
}

// Stop cancels polling and waits for the polling goroutine to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

func (t *Tracker) run(ctx context.Context, tx gateway.ChainTx) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	logger := log.WithFields(log.Fields{"module": "tracker", "stage": tx.Stage(), "chain": tx.Chain()})
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		p, err := tx.Progress(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// polling is read-only, retry on the next tick
			logger.Warnf("cannot get progress: %s", err.Error())
		} else if m, ok := t.apply(tx, p); ok {
			if t.onUpdate != nil {
				t.onUpdate(ctx, tx.ID(), m)
			}
			if m.terminal() {
				logger.WithField("status", *m.Status).Info("tracking finished")
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// apply merges p into the current meta, ok is false when tx is no longer tracked.
func (t *Tracker) apply(tx gateway.ChainTx, p *gateway.Progress) (Meta, bool) {
	next := Meta{
		Confirmations: p.Confirmations,
		Target:        p.Target,
		Hash:          p.Hash,
		Payload:       p.Payload,
	}
	status := p.Status
	next.Status = &status
	if p.ExplorerURL != "" {
		url := p.ExplorerURL
		next.TxURL = &url
	}
	if p.Amount != "" {
		amount := p.Amount
		next.Amount = &amount
	}

	switch status {
	case types.StatusReverted:
		next.Err = errors.Wrapf(ErrReverted, "%s stage", tx.Stage())
	case types.StatusDone:
		if dec, ok := tx.(gateway.OutputDecoder); ok && len(p.Payload) > 0 {
			amount, err := dec.DecodeOutput(p.Payload)
			if err != nil {
				next.Err = err
			} else {
				next.Amount = &amount
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tx == nil || t.tx.ID() != tx.ID() {
		return Meta{}, false
	}
	// keep values once known
	if next.TxURL == nil {
		next.TxURL = t.meta.TxURL
	}
	if next.Amount == nil {
		next.Amount = t.meta.Amount
	}
	t.meta = next
	return next, true
}
