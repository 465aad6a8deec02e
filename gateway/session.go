package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gorenbridge/config"
	"gorenbridge/types"
)

// Session wraps one transfer intent and the chain transactions produced for
// it. A Session is always returned, construction failures fill Err.
type Session struct {
	ID     uuid.UUID
	Intent types.TransferIntent
	Meta   Meta

	gw  Gateway
	err *types.FlowError

	mu      sync.Mutex
	records map[types.Stage]types.ChainTransactionRecord
	tx      *Transaction
}

func NewSession(ctx context.Context, cfg *config.Configuration, sdk SDK, intent types.TransferIntent) *Session {
	s := &Session{
		ID:      uuid.New(),
		Intent:  intent,
		records: map[types.Stage]types.ChainTransactionRecord{},
	}
	logger := log.WithFields(log.Fields{"module": "gateway", "session": s.ID.String()})

	if err := ValidateIntent(cfg, intent); err != nil {
		s.err = asValidation(err)
		logger.Warnf("invalid transfer: %s", err.Error())
		return s
	}

	meta, err := ResolveMeta(cfg, intent.Asset, intent.From, intent.To)
	if err != nil {
		s.err = types.NewSessionError(err, false)
		logger.Warnf("cannot open session: %s", err.Error())
		return s
	}
	s.Meta = meta

	gw, err := sdk.Open(ctx, intent)
	if err != nil {
		s.err = types.NewSessionError(err, errors.Is(err, ErrUnreachable))
		logger.Errorf("cannot open gateway: %s", err.Error())
		return s
	}
	s.gw = gw
	logger.WithFields(log.Fields{"asset": intent.Asset, "from": intent.From, "to": intent.To}).Info("session opened")
	return s
}

func asValidation(err error) *types.FlowError {
	if fe, ok := types.AsFlowError(err); ok {
		return fe
	}
	return types.NewValidationError("", err.Error())
}

// Err is the session error slot, nil when the gateway opened.
func (s *Session) Err() *types.FlowError {
	return s.err
}

func (s *Session) Params() types.TransferParams {
	return s.Intent.TransferParams
}

func (s *Session) Approval() ChainTx {
	if s.gw == nil {
		return nil
	}
	return s.gw.Approval()
}

func (s *Session) In() ChainTx {
	if s.gw == nil {
		return nil
	}
	return s.gw.In()
}

// Transaction returns the network-side transaction once the lock stage has a hash.
func (s *Session) Transaction() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil && s.gw != nil {
		s.tx = s.gw.Transaction()
	}
	return s.tx
}

// Recover re-attaches the session to an existing network transaction. The
// recovered stages start as submitted.
func (s *Session) Recover(ctx context.Context, hash string, stored types.LocalTxData) (*Transaction, error) {
	if s.gw == nil {
		return nil, errors.New("session has no gateway")
	}
	tx, err := s.gw.Recover(ctx, hash, stored)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot recover %s", hash)
	}

	s.mu.Lock()
	s.tx = tx
	for _, stage := range []types.Stage{types.StageIn, types.StageNetwork, types.StageOut} {
		rec := s.records[stage]
		rec.Stage = stage
		rec.SubmissionStatus = types.Submitted
		if rec.ConfirmationStatus == "" {
			rec.ConfirmationStatus = types.StatusPending
		}
		s.records[stage] = rec
	}
	s.mu.Unlock()

	log.WithFields(log.Fields{"module": "gateway", "session": s.ID.String(), "hash": hash}).Info("session recovered")
	return tx, nil
}

// UpdateRecord applies fn to the record of stage, creating it on first use.
func (s *Session) UpdateRecord(stage types.Stage, fn func(rec *types.ChainTransactionRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[stage]
	if !ok {
		rec = types.ChainTransactionRecord{
			Stage:              stage,
			SubmissionStatus:   types.NotSubmitted,
			ConfirmationStatus: types.StatusPending,
		}
	}
	fn(&rec)
	s.records[stage] = rec
}

// Records returns the known records in stage order
func (s *Session) Records() []types.ChainTransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ChainTransactionRecord, 0, len(s.records))
	for _, stage := range types.Stages {
		if rec, ok := s.records[stage]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Session) Close() {
	if s.gw != nil {
		s.gw.Close()
	}
}
