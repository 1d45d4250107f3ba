/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package basketiou implements the two party protocol creating a notarised IOU over a security
// basket. The initiator (borrower) resolves the participants, builds and signs the transaction,
// collects the lender's signature and has the result notarised. The responder (lender) is created
// by the first sign-request of a run, signs after its acceptance checks and waits for the commit.
package basketiou

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/cts-etf/basket-iou/pkg/common/log"
	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/flow/protocol/swapidentities"
	"github.com/cts-etf/basket-iou/pkg/identity"
	"github.com/cts-etf/basket-iou/pkg/internal/lockutil"
	"github.com/cts-etf/basket-iou/pkg/internal/logutil"
	"github.com/cts-etf/basket-iou/pkg/kms"
	"github.com/cts-etf/basket-iou/pkg/ledger"
	"github.com/cts-etf/basket-iou/pkg/metrics"
)

const (
	// Name defines the protocol name.
	Name = "basket-iou"
	// SpecURI defines the protocol spec.
	SpecURI = "https://cts-etf.dev/basket-iou/1.0/"
	// SignRequestMsgType defines the protocol sign-request message type.
	SignRequestMsgType = SpecURI + "sign-request"
	// SignatureMsgType defines the protocol signature message type.
	SignatureMsgType = SpecURI + "signature"
	// ProblemReportMsgType defines the protocol problem-report message type.
	ProblemReportMsgType = SpecURI + "problem-report"

	// RoleInitiator is the role of the borrower starting a run.
	RoleInitiator = "initiator"
	// RoleResponder is the role of the lender answering a run.
	RoleResponder = "responder"

	recordKeyPrefix = "basketiou_run_"
	runTag          = "basketiou_run"
	eventBuffer     = 64
)

var logger = log.New("basket-iou/protocol/basketiou")

// IdentityExchange mints one-time identities for the participants of a run.
type IdentityExchange interface {
	service.Event
	// Swap starts an exchange with counterparty nested under the run parentThreadID.
	Swap(parentThreadID, counterparty string) (string, error)
	// Result returns the identities of the exchange nested under parentThreadID, keyed by owner name.
	Result(parentThreadID string) (map[string]ledger.AnonymousParty, error)
}

// Provider contains dependencies for the protocol.
type Provider interface {
	Messenger() service.Messenger
	StorageProvider() storage.Provider
	KMS() kms.KeyManager
	Directory() identity.Directory
	Ledger() ledger.Ledger
	IdentityExchange() IdentityExchange
	Self() ledger.Party
	Notary() ledger.Party
	Clock() func() time.Time
	ValidityWindow() time.Duration
	Metrics() *metrics.Metrics
}

// record is the persisted run.
type record struct {
	PIID        string                    `json:"piid"`
	Role        string                    `json:"role"`
	StateName   string                    `json:"stateName"`
	Me          string                    `json:"me"`
	Them        string                    `json:"them"`
	BasketHash  string                    `json:"basketHash,omitempty"`
	Anonymous   bool                      `json:"anonymous,omitempty"`
	Borrower    *ledger.AbstractParty     `json:"borrower,omitempty"`
	Lender      *ledger.AbstractParty     `json:"lender,omitempty"`
	TxID        ledger.TxID               `json:"txId,omitempty"`
	Transaction *ledger.SignedTransaction `json:"transaction,omitempty"`
	RequestID   string                    `json:"requestId,omitempty"`
	RequestSent bool                      `json:"requestSent,omitempty"`
	Finalized   *ledger.FinalizedRecord   `json:"finalized,omitempty"`
	Failure     *failure                  `json:"failure,omitempty"`
	StartedAt   time.Time                 `json:"startedAt"`
}

type metaData struct {
	record
	// inbound message being processed, if any
	msg service.MsgMap
	// cause of the failure of the run
	err    *ProtocolError
	remote bool
}

// stateError is the failure of a state, or of the actions queued up to it.
type stateError struct {
	state string
	err   error
}

func (e *stateError) Error() string {
	return fmt.Sprintf("%s: %s", e.state, e.err.Error())
}

func (e *stateError) Unwrap() error {
	return e.err
}

// Run is the view of a run returned to callers.
type Run struct {
	PIID       string
	Role       string
	State      string
	Me         string
	Them       string
	BasketHash string
	Anonymous  bool
	Borrower   *ledger.AbstractParty
	Lender     *ledger.AbstractParty
	TxID       ledger.TxID
	Record     *ledger.FinalizedRecord
	Err        *ProtocolError
	StartedAt  time.Time
}

// Service for the basket-iou protocol.
type Service struct {
	service.Message
	store     storage.Store
	messenger service.Messenger
	directory identity.Directory
	exchange  IdentityExchange
	self      ledger.Party
	assembler *Assembler
	collector *Collector
	responder *Responder
	finality  *FinalityCoordinator
	metrics   *metrics.Metrics
	locks     lockutil.Keyed

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	waitersMu sync.Mutex
	waiters   map[string]context.CancelFunc

	identityEvents chan service.StateMsg
}

// Opt configures the service.
type Opt func(s *Service)

// WithMiddlewares sets the acceptance middlewares before stored runs resume.
func WithMiddlewares(items ...Middleware) Opt {
	return func(s *Service) {
		s.responder.Use(items...)
	}
}

// New returns the basket-iou service. Runs suspended in storage are resumed.
func New(p Provider, opts ...Opt) (*Service, error) {
	store, err := p.StorageProvider().OpenStore(Name)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	err = p.StorageProvider().SetStoreConfig(Name, storage.StoreConfiguration{TagNames: []string{runTag}})
	if err != nil {
		return nil, fmt.Errorf("failed to set store config: %w", err)
	}

	if p.Self().IsZero() {
		return nil, errors.New("basket-iou: local party is required")
	}

	assembler, err := NewAssembler(p.Notary(), p.Clock(), p.ValidityWindow())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		store:     store,
		messenger: p.Messenger(),
		directory: p.Directory(),
		exchange:  p.IdentityExchange(),
		self:      p.Self(),
		assembler: assembler,
		collector: NewCollector(p.Ledger(), p.Metrics()),
		responder: NewResponder(p.Ledger(), p.KMS()),
		finality:  NewFinalityCoordinator(p.Ledger()),
		metrics:   p.Metrics(),
		ctx:       ctx,
		cancel:    cancel,
		waiters:   map[string]context.CancelFunc{},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.exchange != nil {
		s.identityEvents = make(chan service.StateMsg, eventBuffer)

		if err := s.exchange.RegisterMsgEvent(s.identityEvents); err != nil {
			cancel()

			return nil, fmt.Errorf("register identity events: %w", err)
		}

		s.wg.Add(1)

		go s.listenIdentityEvents()
	}

	if err := s.resume(); err != nil {
		s.Close()

		return nil, err
	}

	return s, nil
}

// Use sets the acceptance middlewares a sign-request must pass before the lender signs.
func (s *Service) Use(items ...Middleware) {
	s.responder.Use(items...)
}

// Close stops listening for identities and commits. Runs stay suspended in storage.
func (s *Service) Close() {
	if s.exchange != nil {
		if err := s.exchange.UnregisterMsgEvent(s.identityEvents); err != nil {
			logger.Warnf("unregister identity events: %s", err)
		}
	}

	s.cancel()
	s.wg.Wait()
}

// Name returns service name.
func (s *Service) Name() string {
	return Name
}

// Accept msg checks the msg type.
func (s *Service) Accept(msgType string) bool {
	switch msgType {
	case SignRequestMsgType, SignatureMsgType, ProblemReportMsgType:
		return true
	}

	return false
}

// InitiateOpt configures a run started by Initiate.
type InitiateOpt func(*initiateOpts)

type initiateOpts struct {
	piID string
}

// WithPIID sets the id of the run instead of generating one.
func WithPIID(piID string) InitiateOpt {
	return func(o *initiateOpts) {
		o.piID = piID
	}
}

// Initiate starts a run borrowing against basketHash from lender. With anonymous set, the
// participants are replaced by one-time identities. It returns the run id; the outcome is
// reported through state events and Run.
func (s *Service) Initiate(basketHash, lender string, anonymous bool, opts ...InitiateOpt) (string, error) {
	o := &initiateOpts{}
	for _, opt := range opts {
		opt(o)
	}

	if o.piID == "" {
		o.piID = uuid.New().String()
	}

	if !utf8.ValidString(basketHash) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBasketHash, basketHash)
	}

	if lender == s.self.Name {
		return "", errors.New("lender must be another party")
	}

	if _, err := s.directory.Party(lender); err != nil {
		return "", fmt.Errorf("resolve lender: %w", err)
	}

	if anonymous && s.exchange == nil {
		return "", errors.New("anonymous runs need an identity exchange")
	}

	unlock := s.locks.Lock(o.piID)
	defer unlock()

	if _, err := s.getRecord(o.piID); !errors.Is(err, ErrRunNotFound) {
		if err != nil {
			return "", err
		}

		return "", fmt.Errorf("run %s already exists", o.piID)
	}

	md := &metaData{record: record{
		PIID:       o.piID,
		Role:       RoleInitiator,
		StateName:  stateNameStart,
		Me:         s.self.Name,
		Them:       lender,
		BasketHash: basketHash,
		Anonymous:  anonymous,
		StartedAt:  time.Now(),
	}}

	s.metrics.RecordStart(RoleInitiator)
	s.run(md, &initialising{})

	return o.piID, nil
}

// HandleInbound handles inbound messages (basket-iou protocol).
func (s *Service) HandleInbound(msg service.MsgMap, ctx service.Context) (string, error) {
	logger.Debugf("handling inbound: %s", msg.Type())

	piID, err := msg.ThreadID()
	if err != nil {
		return "", fmt.Errorf("threadID: %w", err)
	}

	unlock := s.locks.Lock(piID)
	defer unlock()

	rec, err := s.getRecord(piID)

	if msg.Type() == SignRequestMsgType {
		if err == nil {
			return "", fmt.Errorf("run %s already exists", piID)
		}

		if !errors.Is(err, ErrRunNotFound) {
			return "", err
		}

		md := &metaData{msg: msg, record: record{
			PIID:      piID,
			Role:      RoleResponder,
			StateName: stateNameStart,
			Me:        ctx.Me(),
			Them:      ctx.Them(),
			RequestID: msg.ID(),
			StartedAt: time.Now(),
		}}

		s.metrics.RecordStart(RoleResponder)
		s.run(md, &awaitingSignRequest{})

		return piID, nil
	}

	if err != nil {
		return "", err
	}

	if rec.Them != ctx.Them() {
		return "", fmt.Errorf("message on run %s from %s, expected %s", piID, ctx.Them(), rec.Them)
	}

	if isTerminal(rec.StateName) {
		return "", fmt.Errorf("run %s is already %s", piID, rec.StateName)
	}

	md := &metaData{record: *rec, msg: msg}

	switch msg.Type() {
	case SignatureMsgType:
		if rec.Role != RoleInitiator || rec.StateName != StateIDCollecting {
			return "", fmt.Errorf("unexpected signature for run %s in state %s", piID, rec.StateName)
		}

		s.run(md, &collecting{})
	case ProblemReportMsgType:
		report := ProblemReport{}
		if err := msg.Decode(&report); err != nil {
			return "", fmt.Errorf("decode problem report: %w", err)
		}

		md.remote = true
		s.fail(md, &ProtocolError{
			PIID:   piID,
			State:  rec.StateName,
			Kind:   kindFromCode(report.Code),
			Err:    fmt.Errorf("%s reported %s: %s", rec.Them, report.Code, report.Comment),
			Remote: true,
		})
	default:
		return "", fmt.Errorf("unrecognized msgType: %s", msg.Type())
	}

	return piID, nil
}

// Run returns the run piID.
func (s *Service) Run(piID string) (*Run, error) {
	rec, err := s.getRecord(piID)
	if err != nil {
		return nil, err
	}

	return rec.run(), nil
}

// Runs returns every run, oldest first.
func (s *Service) Runs() ([]*Run, error) {
	records, err := s.records()
	if err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(records))
	for _, rec := range records {
		runs = append(runs, rec.run())
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].PIID < runs[j].PIID
		}

		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})

	return runs, nil
}

func (r *record) run() *Run {
	run := &Run{
		PIID:       r.PIID,
		Role:       r.Role,
		State:      r.StateName,
		Me:         r.Me,
		Them:       r.Them,
		BasketHash: r.BasketHash,
		Anonymous:  r.Anonymous,
		Borrower:   r.Borrower,
		Lender:     r.Lender,
		TxID:       r.TxID,
		Record:     r.Finalized,
		StartedAt:  r.StartedAt,
	}

	if r.Failure != nil {
		run.Err = r.Failure.protocolError(r.PIID)
	}

	return run
}

// run executes next and moves the run to failed when it does not succeed.
func (s *Service) run(md *metaData, next state) {
	err := s.handle(md, next)
	if err == nil {
		return
	}

	if md.StateName == StateIDFailed {
		logger.Errorf("run %s: %s", md.PIID, err)

		return
	}

	s.fail(md, toProtocolError(md, err))
}

func (s *Service) fail(md *metaData, pe *ProtocolError) {
	logutil.LogError(logger, Name, "fail", pe.Error(),
		logutil.CreateKeyValueString("piid", md.PIID),
		logutil.CreateKeyValueString("role", md.Role))

	md.err = pe
	md.Failure = &failure{State: pe.State, Kind: pe.Kind, Message: pe.Err.Error(), Remote: pe.Remote}

	if err := s.handle(md, &failed{}); err != nil {
		logger.Errorf("fail run %s: %s", md.PIID, err)
	}
}

func toProtocolError(md *metaData, err error) *ProtocolError {
	pe := &ProtocolError{PIID: md.PIID, State: md.StateName, Kind: kindOf(err), Err: err}

	var se *stateError
	if errors.As(err, &se) {
		pe.State = se.state
		pe.Err = se.err
	}

	if ke, ok := pe.Err.(*kindError); ok {
		pe.Err = ke.err
	}

	return pe
}

func (s *Service) handle(md *metaData, current state) error {
	var actions []stateAction

	for !isNoOp(current) {
		s.sendMsgEvents(md, current.Name(), service.PreState)

		next, action, err := current.Execute(s, md)
		if err != nil {
			return &stateError{state: current.Name(), err: err}
		}

		md.StateName = current.Name()

		if action != nil {
			actions = append(actions, action)
		}

		if !isNoOp(next) && !current.CanTransitionTo(next) {
			return &stateError{
				state: current.Name(),
				err:   fmt.Errorf("invalid state transition: %s --> %s", current.Name(), next.Name()),
			}
		}

		if err := s.saveRecord(&md.record); err != nil {
			return &stateError{state: current.Name(), err: fmt.Errorf("failed to persist state: %w", err)}
		}

		s.sendMsgEvents(md, current.Name(), service.PostState)

		current = next
	}

	for _, action := range actions {
		if err := action(s.messenger); err != nil {
			return &stateError{state: md.StateName, err: fmt.Errorf("action: %w", err)}
		}
	}

	return nil
}

// resumeState returns the state a stored run continues with without waiting for a message.
func resumeState(rec *record) state {
	switch rec.Role {
	case RoleInitiator:
		switch rec.StateName {
		case StateIDInitialising:
			return &initialising{}
		case StateIDBuilding:
			return &signing{}
		case StateIDSigning:
			return &collecting{}
		case StateIDCollecting:
			if rec.Transaction != nil && rec.Transaction.FullySigned() {
				return &finalising{}
			}

			// the sign-request may not have left; the lender drops a repeated one
			return &collecting{}
		case StateIDFinalising:
			if rec.Finalized != nil {
				return &done{}
			}
		}
	case RoleResponder:
		switch rec.StateName {
		case StateIDAwaitingSignRequest:
			return &countersigning{}
		case StateIDSigning, StateIDAwaitingCommit:
			return &awaitingCommit{resend: true}
		}
	}

	return nil
}

// resume continues the stored runs that do not wait for a message.
func (s *Service) resume() error {
	records, err := s.records()
	if err != nil {
		return err
	}

	for _, rec := range records {
		if resumeState(rec) == nil {
			continue
		}

		logger.Infof("resuming run %s in state %s", rec.PIID, rec.StateName)

		s.goResume(rec.PIID)
	}

	return nil
}

func (s *Service) goResume(piID string) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.resumeRun(piID)
	}()
}

func (s *Service) resumeRun(piID string) {
	unlock := s.locks.Lock(piID)
	defer unlock()

	rec, err := s.getRecord(piID)
	if errors.Is(err, ErrRunNotFound) {
		return
	}

	if err != nil {
		logger.Errorf("resume run %s: %s", piID, err)

		return
	}

	next := resumeState(rec)
	if next == nil {
		return
	}

	logutil.LogDebug(logger, Name, "resume", "continuing stored run",
		logutil.CreateKeyValueString("piid", piID),
		logutil.CreateKeyValueString("state", next.Name()))

	s.run(&metaData{record: *rec}, next)
}

type parentThreadProps interface {
	ParentThreadID() string
}

// listenIdentityEvents resumes initialising runs once their identity exchange ends.
func (s *Service) listenIdentityEvents() {
	defer s.wg.Done()

	for {
		select {
		case msg := <-s.identityEvents:
			if msg.Type != service.PostState || !isExchangeEnd(msg.StateID) {
				continue
			}

			props, ok := msg.Properties.(parentThreadProps)
			if !ok || props.ParentThreadID() == "" {
				continue
			}

			s.goResume(props.ParentThreadID())
		case <-s.ctx.Done():
			return
		}
	}
}

func isExchangeEnd(stateID string) bool {
	return stateID == swapidentities.StateIDDone || stateID == swapidentities.StateIDAbandoned
}

// armCommitWaiter waits in the background until txID is recorded locally.
func (s *Service) armCommitWaiter(piID string, txID ledger.TxID) {
	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()

	if _, ok := s.waiters[piID]; ok || s.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.waiters[piID] = cancel

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		rec, err := s.finality.AwaitCommit(ctx, txID)
		if ctx.Err() != nil {
			return
		}

		s.commitObserved(piID, rec, err)
	}()
}

func (s *Service) cancelCommitWaiter(piID string) {
	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()

	if cancel, ok := s.waiters[piID]; ok {
		cancel()
		delete(s.waiters, piID)
	}
}

func (s *Service) commitObserved(piID string, rec *ledger.FinalizedRecord, commitErr error) {
	unlock := s.locks.Lock(piID)
	defer unlock()

	stored, err := s.getRecord(piID)
	if err != nil {
		logger.Errorf("commit of run %s: %s", piID, err)

		return
	}

	if stored.StateName != StateIDAwaitingCommit {
		return
	}

	md := &metaData{record: *stored}

	if commitErr != nil {
		s.fail(md, toProtocolError(md, commitErr))

		return
	}

	md.Finalized = rec
	s.run(md, &done{})
}

func (s *Service) sendMsgEvents(md *metaData, stateID string, stateType service.StateMsgType) {
	s.Emit(service.StateMsg{
		ProtocolName: Name,
		Type:         stateType,
		StateID:      stateID,
		Msg:          md.msg.Clone(),
		Properties:   newEventProps(md, ""),
	})
}

func (s *Service) sendSubStateEvent(md *metaData, stateID, subState string) {
	s.Emit(service.StateMsg{
		ProtocolName: Name,
		Type:         service.SubStateChanged,
		StateID:      stateID,
		Msg:          md.msg.Clone(),
		Properties:   newEventProps(md, subState),
	})
}

func (s *Service) saveRecord(rec *record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return s.store.Put(recordKeyPrefix+rec.PIID, raw, storage.Tag{Name: runTag, Value: rec.Role})
}

func (s *Service) getRecord(piID string) (*record, error) {
	raw, err := s.store.Get(recordKeyPrefix + piID)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, piID)
	}

	if err != nil {
		return nil, fmt.Errorf("store get: %w", err)
	}

	rec := &record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}

	return rec, nil
}

func (s *Service) records() ([]*record, error) {
	iter, err := s.store.Query(runTag)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	defer storage.Close(iter, logger)

	var records []*record

	more, err := iter.Next()
	if err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for more {
		raw, err := iter.Value()
		if err != nil {
			return nil, fmt.Errorf("read run: %w", err)
		}

		rec := &record{}
		if err := json.Unmarshal(raw, rec); err != nil {
			logger.Warnf("skipping unreadable run record: %s", err)
		} else {
			records = append(records, rec)
		}

		more, err = iter.Next()
		if err != nil {
			return nil, fmt.Errorf("iterate runs: %w", err)
		}
	}

	return records, nil
}
