package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gorenbridge/gateway"
	"gorenbridge/metrics"
	"gorenbridge/redis"
	"gorenbridge/tracker"
	"gorenbridge/types"
	"gorenbridge/wallet"
)

var (
	ErrClosed = errors.New("flow closed")
	// ErrUnknownFlow is returned by flow lookups that find nothing
	ErrUnknownFlow = errors.New("unknown flow")
)

const maxNotes = 10

// Store is the part of the local transaction store a flow writes to.
type Store interface {
	PersistLocalTx(address string, tx redis.LocalTx, done bool) error
}

type Options struct {
	// Owner keys persisted records, resolved from the wallet when empty
	Owner         string
	Store         Store
	Wallet        *wallet.Store
	PollInterval  time.Duration
	SubmitTimeout time.Duration
}

type stageState struct {
	stage     types.Stage
	tx        gateway.ChainTx
	submitter *tracker.Submitter
	tracker   *tracker.Tracker
	meta      tracker.Meta
	inflight  bool
	err       *types.FlowError
}

func (st *stageState) done() bool {
	return st != nil && st.meta.Done()
}

// Flow sequences the stages of one session. All state below the mutex is
// owned by the loop goroutine; other goroutines talk to it through events.
type Flow struct {
	id            string
	session       *gateway.Session
	store         Store
	interval      time.Duration
	submitTimeout time.Duration
	logger        *log.Entry

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once

	stages        map[types.Stage]*stageState
	phase         Phase
	owner         string
	txHash        string
	recovering    bool
	persisted     bool
	persistedDone bool
	walletState   wallet.State
	fatal         *types.FlowError
	// last failed recovery, cleared by a successful one
	recoverErr *types.FlowError
	notes      []Notification

	mu     sync.Mutex
	view   View
	subs   map[int]chan View
	nextID int
}

// New starts the flow of session. The flow runs until Close.
func New(session *gateway.Session, opts Options) *Flow {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	f := &Flow{
		id:            session.ID.String(),
		session:       session,
		store:         opts.Store,
		owner:         opts.Owner,
		interval:      opts.PollInterval,
		submitTimeout: opts.SubmitTimeout,
		events:        make(chan func()),
		stages:        map[types.Stage]*stageState{},
		fatal:         session.Err(),
		subs:          map[int]chan View{},
		walletState:   wallet.State{Accounts: map[types.Chain]wallet.Account{}},
	}
	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.logger = log.WithFields(log.Fields{"module": "lifecycle", "flow": f.id})

	if f.fatal == nil {
		f.attach(types.StageApproval, session.Approval())
		f.attach(types.StageIn, session.In())
	} else {
		f.logger.Warnf("flow halted: %s", f.fatal.Error())
	}

	var walletCh <-chan wallet.State
	var unsubscribe func()
	if opts.Wallet != nil {
		walletCh, unsubscribe = opts.Wallet.Subscribe()
		f.walletState = opts.Wallet.Snapshot()
	}

	f.reconcile()
	f.wg.Add(1)
	go f.run(walletCh, unsubscribe)
	return f
}

func (f *Flow) ID() string { return f.id }

func (f *Flow) Session() *gateway.Session { return f.session }

func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *Flow) run(walletCh <-chan wallet.State, unsubscribe func()) {
	defer f.wg.Done()
	defer func() {
		for _, st := range f.stages {
			st.tracker.Stop()
		}
		if unsubscribe != nil {
			unsubscribe()
		}
	}()

	// persistence failures are retried on this tick
	retry := time.NewTicker(f.interval)
	defer retry.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case fn := <-f.events:
			fn()
		case st := <-walletCh:
			f.walletState = st
		case <-retry.C:
		}
		f.reconcile()
	}
}

// post hands fn to the loop. It fails once the flow or ctx is done.
func (f *Flow) post(ctx context.Context, fn func()) bool {
	select {
	case f.events <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-f.ctx.Done():
		return false
	}
}

func (f *Flow) attach(stage types.Stage, tx gateway.ChainTx) *stageState {
	if tx == nil {
		return nil
	}
	if st, ok := f.stages[stage]; ok {
		if st.tx.ID() == tx.ID() {
			return st
		}
		st.tracker.SetTx(tx)
		st.tx = tx
		st.submitter = tracker.NewSubmitter(tx, f.submitTimeout)
		st.meta = tracker.Meta{}
		st.inflight = false
		st.err = nil
		if !tx.Submittable() {
			st.submitter.MarkSubmitted()
		}
		return st
	}

	st := &stageState{
		stage:     stage,
		tx:        tx,
		submitter: tracker.NewSubmitter(tx, f.submitTimeout),
	}
	st.tracker = tracker.New(tx, f.interval, func(ctx context.Context, txID string, m tracker.Meta) {
		f.post(ctx, func() { f.onMeta(stage, txID, m) })
	})
	if !tx.Submittable() {
		// nothing left to broadcast, track it like a submitted one
		st.submitter.MarkSubmitted()
	}
	f.stages[stage] = st
	return st
}

func (f *Flow) onMeta(stage types.Stage, txID string, m tracker.Meta) {
	st := f.stages[stage]
	if st == nil || st.tx.ID() != txID {
		return
	}
	st.meta = m
	if m.Status != nil {
		st.submitter.Observe(*m.Status)
	}
	if m.Err != nil && st.err == nil {
		st.err = &types.FlowError{Kind: types.KindSubmission, Stage: stage, Err: m.Err}
		f.logger.WithField("stage", stage).Errorf("stage failed: %s", m.Err.Error())
	}
}

func (f *Flow) startSubmit(st *stageState, reply chan<- error) {
	st.inflight = true
	st.err = nil
	stage, txID, sub := st.stage, st.tx.ID(), st.submitter

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		err := sub.Submit(f.ctx)
		f.post(f.ctx, func() { f.onSubmitted(stage, txID, err) })
		if reply != nil {
			if err != nil {
				reply <- types.NewSubmissionError(stage, err)
				return
			}
			reply <- nil
		}
	}()
}

func (f *Flow) onSubmitted(stage types.Stage, txID string, err error) {
	st := f.stages[stage]
	if st == nil || st.tx.ID() != txID {
		return
	}
	st.inflight = false
	if err == nil {
		st.err = nil
		return
	}
	st.err = types.NewSubmissionError(stage, err)
	metrics.SubmissionErrors.WithLabelValues(string(stage)).Inc()
	f.logger.WithField("stage", stage).Warnf("submission failed: %s", err.Error())
}

func (f *Flow) onRecovered(address, hash string, data types.LocalTxData, tx *gateway.Transaction, err error) {
	if err != nil {
		f.recoverErr = types.NewRecoveryError(errors.Wrapf(err, "transaction %s", hash))
		f.notify("error", "cannot recover transaction "+hash+": "+err.Error())
		return
	}

	f.recoverErr = nil
	f.recovering = true
	f.owner = address
	// the record exists already
	f.persisted = true
	f.persistedDone = data.Done

	if tx.In != nil {
		f.attach(types.StageIn, tx.In).submitter.MarkSubmitted()
	}
	f.notify("success", "transaction "+hash+" recovered")
	f.logger.WithField("hash", hash).Info("flow recovered")
}

func (f *Flow) notify(level, message string) {
	f.notes = append(f.notes, Notification{Level: level, Message: message, At: time.Now()})
	if len(f.notes) > maxNotes {
		f.notes = f.notes[len(f.notes)-maxNotes:]
	}
}

// reconcile derives everything from the latest observations and publishes a view
func (f *Flow) reconcile() {
	if f.fatal == nil {
		f.attachTransaction()
		f.startTrackers()
		f.autoSubmit()
		f.advance()
		f.persist()
	}
	f.refreshRecords()
	f.publish()
}

func (f *Flow) attachTransaction() {
	tx := f.session.Transaction()
	if tx == nil || tx.Hash == f.txHash {
		return
	}
	f.txHash = tx.Hash
	f.logger.WithField("hash", tx.Hash).Info("network hash known")

	if tx.In != nil {
		f.attach(types.StageIn, tx.In)
	}
	if net := f.attach(types.StageNetwork, tx.Network); net != nil {
		net.submitter.SetAutoSubmit(func() bool {
			return f.stages[types.StageIn].done()
		})
	}
	if out := f.attach(types.StageOut, tx.Out); out != nil && gateway.IsBroadcastByNetwork(tx.Out) {
		out.submitter.SetAutoSubmit(func() bool {
			return f.stages[types.StageNetwork].done()
		})
	}
}

func (f *Flow) startTrackers() {
	for _, stage := range types.Stages {
		st := f.stages[stage]
		if st == nil {
			continue
		}
		if st.submitter.State().SubmittingDone || (f.recovering && stage != types.StageApproval) {
			st.tracker.Start(f.ctx)
		}
	}
}

func (f *Flow) autoSubmit() {
	for _, stage := range []types.Stage{types.StageNetwork, types.StageOut} {
		st := f.stages[stage]
		if st == nil || st.inflight || !st.submitter.ShouldAutoSubmit() {
			continue
		}
		f.logger.WithField("stage", stage).Info("auto-submitting")
		f.startSubmit(st, nil)
	}
}

func (f *Flow) computePhase() Phase {
	approval := f.stages[types.StageApproval]
	if !f.recovering && approval != nil && !approval.done() {
		return PhaseAwaitingApproval
	}
	net := f.stages[types.StageNetwork]
	if net == nil || net.meta.Status == nil {
		return PhaseAwaitingLock
	}
	out := f.stages[types.StageOut]
	if out == nil || out.meta.TxURL == nil {
		return PhaseAwaitingMint
	}
	return PhaseCompleted
}

func (f *Flow) advance() {
	next := f.computePhase()
	if next <= f.phase {
		return
	}
	f.logger.WithFields(log.Fields{"from": f.phase.String(), "to": next.String()}).Info("phase changed")
	metrics.PhaseTransitions.WithLabelValues(next.String()).Inc()
	f.phase = next
}

func (f *Flow) resolveOwner() string {
	if f.owner != "" {
		return f.owner
	}
	p := f.session.Params()
	for _, chain := range []types.Chain{p.From, p.To} {
		if acc := f.walletState.Account(chain); acc.Connected && acc.Address != "" {
			return acc.Address
		}
	}
	if p.FromAddress != "" {
		return p.FromAddress
	}
	return p.ToAddress
}

// persist writes the record once the network hash is known and flips it to
// done once completed. A failed write is retried on the next reconcile.
func (f *Flow) persist() {
	if f.store == nil || f.txHash == "" {
		return
	}
	tx := f.session.Transaction()
	owner := f.resolveOwner()

	if !f.persisted {
		if err := f.store.PersistLocalTx(owner, tx, false); err != nil {
			f.logger.Errorf("cannot persist local tx: %s", err.Error())
			return
		}
		f.owner = owner
		f.persisted = true
	}
	if f.phase == PhaseCompleted && !f.persistedDone {
		if err := f.store.PersistLocalTx(owner, tx, true); err != nil {
			f.logger.Errorf("cannot mark local tx done: %s", err.Error())
			return
		}
		f.persistedDone = true
	}
}

func (f *Flow) refreshRecords() {
	for _, stage := range types.Stages {
		st := f.stages[stage]
		if st == nil {
			continue
		}
		sub := st.submitter.State()
		m := st.meta
		recovered := f.recovering && stage != types.StageApproval
		f.session.UpdateRecord(stage, func(r *types.ChainTransactionRecord) {
			switch {
			case sub.Submitting:
				r.SubmissionStatus = types.Submitting
			case sub.SubmittingDone:
				r.SubmissionStatus = types.Submitted
			case sub.ErrorSubmitting != nil:
				r.SubmissionStatus = types.SubmitFailed
			case !recovered:
				r.SubmissionStatus = types.NotSubmitted
			}
			if m.Status != nil {
				r.ConfirmationStatus = *m.Status
			}
			r.Confirmations = m.Confirmations
			r.Target = m.Target
			r.Hash = st.tx.Hash()
			if m.Hash != "" {
				r.Hash = m.Hash
			}
			if m.TxURL != nil {
				r.ExplorerURL = *m.TxURL
			}
			if m.Amount != nil {
				r.Amount = *m.Amount
			}
		})
	}
}

func (f *Flow) switchWallet() bool {
	net := f.stages[types.StageNetwork]
	out := f.stages[types.StageOut]
	if net == nil || net.meta.Status == nil || out == nil || f.phase == PhaseCompleted {
		return false
	}
	// the network broadcasts releases, no wallet needed
	if gateway.IsBroadcastByNetwork(out.tx) {
		return false
	}
	to := f.session.Params().To
	return f.walletState.Chain != to || !f.walletState.Account(to).Connected
}

func (f *Flow) publish() {
	params := f.session.Params()
	v := View{
		FlowID:       f.id,
		Phase:        f.phase,
		Params:       params,
		Meta:         f.session.Meta,
		NetworkHash:  f.txHash,
		SwitchWallet: f.switchWallet(),
		Recovering:   f.recovering,
		Error:        errorView(f.fatal),
		RecoverError: errorView(f.recoverErr),
		Notes:        append([]Notification(nil), f.notes...),
		DeepLink:     types.EncodeQuery(params, f.txHash),
		UpdatedAt:    time.Now(),
	}

	for _, rec := range f.session.Records() {
		sv := StageView{Record: rec}
		if st := f.stages[rec.Stage]; st != nil {
			sub := st.submitter.State()
			sv.Submitting = sub.Submitting
			sv.SubmittingDone = sub.SubmittingDone
			sv.Waiting = sub.Waiting
			sv.Done = sub.Done || st.done()
			sv.Error = errorView(st.err)
			if !sub.Submitting && !sub.SubmittingDone && st.tx.Submittable() {
				if r, ok := st.tx.(gateway.Requester); ok {
					if req, err := r.Request(); err == nil {
						sv.Request = req
					}
				}
			}
		}
		v.Stages = append(v.Stages, sv)
	}

	if net := f.stages[types.StageNetwork]; net != nil {
		if net.meta.TxURL != nil {
			v.NetworkURL = *net.meta.TxURL
		}
		v.MintAmount = net.meta.Amount
	}
	if out := f.stages[types.StageOut]; out != nil && v.MintAmount == nil {
		v.MintAmount = out.meta.Amount
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.view = v
	f.broadcast()
}

// broadcast delivers f.view to subscribers, keeping only the latest view
// for slow readers. Callers hold f.mu.
func (f *Flow) broadcast() {
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- f.view
	}
}

// Subscribe delivers the current view and every later one. cancel releases
// the subscription.
func (f *Flow) Subscribe() (<-chan View, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan View, 1)
	ch <- f.view
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// WaitFor blocks until a published view satisfies pred.
func (f *Flow) WaitFor(ctx context.Context, pred func(View) bool) (View, error) {
	ch, cancel := f.Subscribe()
	defer cancel()
	for {
		select {
		case v := <-ch:
			if pred(v) {
				return v, nil
			}
			if v.Closed {
				return v, ErrClosed
			}
		case <-ctx.Done():
			return f.View(), ctx.Err()
		}
	}
}

// call runs fn on the loop and waits for its reply
func (f *Flow) call(ctx context.Context, fn func(reply chan<- error)) error {
	reply := make(chan error, 1)
	if !f.post(ctx, func() { fn(reply) }) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit broadcasts stage through its submitter and waits for the result.
// Submitting a stage that is already in flight is a no-op.
func (f *Flow) Submit(ctx context.Context, stage types.Stage) error {
	return f.call(ctx, func(reply chan<- error) {
		if f.fatal != nil {
			reply <- f.fatal
			return
		}
		st := f.stages[stage]
		if st == nil {
			reply <- errors.Wrapf(tracker.ErrNotSubmittable, "%s", stage)
			return
		}
		if st.inflight {
			reply <- nil
			return
		}
		f.startSubmit(st, reply)
	})
}

// Reset clears the retryable error of stage so it can be submitted again.
func (f *Flow) Reset(ctx context.Context, stage types.Stage) error {
	return f.call(ctx, func(reply chan<- error) {
		st := f.stages[stage]
		if st == nil {
			reply <- errors.Wrapf(tracker.ErrNotSubmittable, "%s", stage)
			return
		}
		st.submitter.Reset()
		if st.err != nil && st.err.Retryable {
			st.err = nil
		}
		reply <- nil
	})
}

// Recover re-attaches the flow to the stored transfer hash of address. The
// recovered stages are tracked right away, without submitting anything.
func (f *Flow) Recover(ctx context.Context, address, hash string, data types.LocalTxData) error {
	return f.call(ctx, func(reply chan<- error) {
		if f.fatal != nil {
			reply <- f.fatal
			return
		}
		if f.recovering {
			reply <- nil
			return
		}
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			tx, err := f.session.Recover(f.ctx, hash, data)
			f.post(f.ctx, func() { f.onRecovered(address, hash, data, tx, err) })
			reply <- err
		}()
	})
}

// Notify surfaces a non-fatal error on the view
func (f *Flow) Notify(ctx context.Context, fe *types.FlowError) {
	f.post(ctx, func() {
		if fe.Kind == types.KindRecovery && !f.recovering {
			f.recoverErr = fe
		}
		f.notify("error", fe.Error())
	})
}

// Close stops every tracker and the loop. Persisted records are kept.
func (f *Flow) Close() {
	f.closeOnce.Do(func() {
		f.cancel()
		f.wg.Wait()
		f.session.Close()

		f.mu.Lock()
		f.view.Closed = true
		f.broadcast()
		f.mu.Unlock()
		f.logger.Info("flow closed")
	})
}
