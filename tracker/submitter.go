package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gorenbridge/gateway"
	"gorenbridge/types"
)

var ErrNotSubmittable = errors.New("stage has no transaction to submit")

// SubmitterState is what the view shows about a submission.
type SubmitterState struct {
	Submitting      bool  `json:"submitting"`
	SubmittingDone  bool  `json:"submittingDone"`
	Waiting         bool  `json:"waiting"`
	Done            bool  `json:"done"`
	ErrorSubmitting error `json:"-"`
}

// Submitter broadcasts one chain transaction through the wallet provider,
// at most once. A nil tx makes it inert.
type Submitter struct {
	tx      gateway.ChainTx
	timeout time.Duration

	mu             sync.Mutex
	autoSubmit     func() bool
	submitting     bool
	submittingDone bool
	done           bool
	err            error
}

func NewSubmitter(tx gateway.ChainTx, timeout time.Duration) *Submitter {
	return &Submitter{tx: tx, timeout: timeout}
}

func (s *Submitter) Tx() gateway.ChainTx { return s.tx }

// Submit is a no-op while a submission is in flight or after one succeeded.
func (s *Submitter) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.tx == nil || s.submitting || s.submittingDone {
		s.mu.Unlock()
		return nil
	}
	if !s.tx.Submittable() {
		// already broadcast, by an earlier session or by the network
		s.submittingDone = true
		s.mu.Unlock()
		return nil
	}
	s.submitting = true
	s.err = nil
	s.mu.Unlock()

	logger := log.WithFields(log.Fields{"module": "submitter", "stage": s.tx.Stage(), "chain": s.tx.Chain()})
	logger.Info("submitting")

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	err := s.tx.Submit(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
	if err != nil {
		s.err = err
		logger.Warnf("submission failed: %s", err.Error())
		return err
	}
	s.submittingDone = true
	logger.WithField("hash", s.tx.Hash()).Info("submitted")
	return nil
}

// SetAutoSubmit installs a predicate that triggers submission without a user action
func (s *Submitter) SetAutoSubmit(pred func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSubmit = pred
}

// ShouldAutoSubmit reports whether the auto-submit predicate holds for a
// submitter with nothing in flight and no pending error.
func (s *Submitter) ShouldAutoSubmit() bool {
	s.mu.Lock()
	pred := s.autoSubmit
	idle := s.tx != nil && !s.submitting && !s.submittingDone && s.err == nil
	s.mu.Unlock()
	return idle && pred != nil && pred()
}

// Reset clears the submission error so the user can retry. A successful
// submission is never undone.
func (s *Submitter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = nil
}

// MarkSubmitted records a broadcast that happened outside this submitter.
func (s *Submitter) MarkSubmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submittingDone = true
}

// Observe feeds the tracker status back, done ends the waiting state.
func (s *Submitter) Observe(status types.ConfirmationStatus) {
	if status != types.StatusDone {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}

func (s *Submitter) State() SubmitterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SubmitterState{
		Submitting:      s.submitting,
		SubmittingDone:  s.submittingDone,
		Waiting:         s.submittingDone && !s.done,
		Done:            s.done,
		ErrorSubmitting: s.err,
	}
}
