/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package basketiou

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/flow/protocol/swapidentities"
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

const (
	// StateIDInitialising resolves the participants of an initiator run.
	StateIDInitialising = "initialising"
	// StateIDBuilding assembles the transaction.
	StateIDBuilding = "building"
	// StateIDSigning signs the transaction locally, on either side.
	StateIDSigning = "signing"
	// StateIDCollecting waits for and verifies the lender's signature.
	StateIDCollecting = "collecting"
	// StateIDFinalising notarises the fully signed transaction.
	StateIDFinalising = "finalising"
	// StateIDAwaitingSignRequest is the first state of a responder run.
	StateIDAwaitingSignRequest = "awaiting-sign-request"
	// StateIDAwaitingCommit waits until the transaction is recorded locally.
	StateIDAwaitingCommit = "awaiting-commit"
	// StateIDDone is the state of a run that produced a finalized record.
	StateIDDone = "done"
	// StateIDFailed is the state of a run that failed.
	StateIDFailed = "failed"

	// SubStateRequesting is reported while the sign-request is sent.
	SubStateRequesting = "requesting"
	// SubStateVerifying is reported while the received signature is verified.
	SubStateVerifying = "verifying"
	// SubStateNotarising is reported while the notary is asked to commit.
	SubStateNotarising = "notarising"
	// SubStateBroadcasting is reported once the result is distributed.
	SubStateBroadcasting = "broadcasting"

	stateNameStart = "start"
	stateNameNoop  = "noop"
)

// state action for network call
type stateAction func(messenger service.Messenger) error

// the protocol's state.
type state interface {
	// Name of this state.
	Name() string
	// Whether this state allows transitioning into the next state.
	CanTransitionTo(next state) bool
	// Executes this state, returning a followup state to be immediately executed as well.
	// The 'noOp' state should be returned if the state has no followup.
	Execute(s *Service, md *metaData) (state, stateAction, error)
}

// noOp state
type noOp struct{}

func (s *noOp) Name() string {
	return stateNameNoop
}

func (s *noOp) CanTransitionTo(_ state) bool {
	return false
}

func (s *noOp) Execute(_ *Service, _ *metaData) (state, stateAction, error) {
	return nil, nil, errors.New("cannot execute no-op")
}

// start state
type start struct{}

func (s *start) Name() string {
	return stateNameStart
}

func (s *start) CanTransitionTo(st state) bool {
	return st.Name() == StateIDInitialising || st.Name() == StateIDAwaitingSignRequest
}

func (s *start) Execute(_ *Service, _ *metaData) (state, stateAction, error) {
	return nil, nil, fmt.Errorf("%s: is not implemented yet", s.Name())
}

// initialising state: the participants of the run are resolved, through an identity exchange
// for anonymous runs.
type initialising struct{}

func (s *initialising) Name() string {
	return StateIDInitialising
}

func (s *initialising) CanTransitionTo(st state) bool {
	return st.Name() == StateIDBuilding || st.Name() == StateIDFailed
}

func (s *initialising) Execute(svc *Service, md *metaData) (state, stateAction, error) {
	if !md.Anonymous {
		lender, err := svc.directory.Party(md.Them)
		if err != nil {
			return nil, nil, withKind(KindIdentityResolution, fmt.Errorf("resolve lender: %w", err))
		}

		borrower, lenderID := svc.self.Abstract(), lender.Abstract()
		md.Borrower, md.Lender = &borrower, &lenderID

		return &building{}, nil, nil
	}

	ids, err := svc.exchange.Result(md.PIID)

	switch {
	case errors.Is(err, swapidentities.ErrNotFound):
		return &noOp{}, func(_ service.Messenger) error {
			if _, err := svc.exchange.Swap(md.PIID, md.Them); err != nil {
				return withKind(KindIdentityResolution, fmt.Errorf("start identity exchange: %w", err))
			}

			return nil
		}, nil
	case errors.Is(err, swapidentities.ErrPending):
		return &noOp{}, nil, nil
	case err != nil:
		return nil, nil, withKind(KindIdentityResolution, err)
	}

	borrower, lender, err := checkIdentities(ids, md.Me, md.Them)
	if err != nil {
		return nil, nil, withKind(KindIdentityResolution, err)
	}

	md.Borrower, md.Lender = &borrower, &lender

	return &building{}, nil, nil
}

// checkIdentities returns the anonymous borrower and lender of an exchange result.
func checkIdentities(ids map[string]ledger.AnonymousParty, me, them string) (
	ledger.AbstractParty, ledger.AbstractParty, error) {
	if len(ids) != 2 { // nolint:gomnd
		return ledger.AbstractParty{}, ledger.AbstractParty{}, fmt.Errorf("%w: got %d", ErrIdentityCount, len(ids))
	}

	own, ok := ids[me]
	if !ok {
		return ledger.AbstractParty{}, ledger.AbstractParty{}, fmt.Errorf("%w: %s", ErrMissingOwnIdentity, me)
	}

	counterparty, ok := ids[them]
	if !ok {
		return ledger.AbstractParty{}, ledger.AbstractParty{}, fmt.Errorf("%w: %s", ErrMissingCounterpartyIdentity, them)
	}

	return own.Abstract(), counterparty.Abstract(), nil
}

// building state
type building struct{}

func (s *building) Name() string {
	return StateIDBuilding
}

func (s *building) CanTransitionTo(st state) bool {
	return st.Name() == StateIDSigning || st.Name() == StateIDFailed
}

func (s *building) Execute(svc *Service, md *metaData) (state, stateAction, error) {
	_, _, tx := svc.assembler.Assemble(md.BasketHash, *md.Lender, *md.Borrower)

	id, err := tx.ID()
	if err != nil {
		return nil, nil, err
	}

	md.Transaction = ledger.NewSignedTransaction(tx)
	md.TxID = id

	return &signing{}, nil, nil
}

// signing state: the borrower signs.
type signing struct{}

func (s *signing) Name() string {
	return StateIDSigning
}

func (s *signing) CanTransitionTo(st state) bool {
	return st.Name() == StateIDCollecting || st.Name() == StateIDFailed
}

func (s *signing) Execute(svc *Service, md *metaData) (state, stateAction, error) {
	stx, err := svc.collector.SignInitial(&md.Transaction.Tx, md.Borrower.Key)
	if err != nil {
		return nil, nil, err
	}

	md.Transaction = stx

	return &collecting{}, nil, nil
}

// collecting state: the sign-request is sent, and the answer verified once it arrives.
type collecting struct{}

func (s *collecting) Name() string {
	return StateIDCollecting
}

func (s *collecting) CanTransitionTo(st state) bool {
	return st.Name() == StateIDFinalising || st.Name() == StateIDFailed
}

func (s *collecting) Execute(svc *Service, md *metaData) (state, stateAction, error) {
	if md.msg.Type() != SignatureMsgType {
		svc.sendSubStateEvent(md, s.Name(), SubStateRequesting)

		req, err := svc.collector.Request(md.Transaction)
		if err != nil {
			return nil, nil, err
		}

		req.ID = md.PIID
		md.RequestSent = true

		return &noOp{}, func(messenger service.Messenger) error {
			msg, err := service.NewMsgMap(req)
			if err != nil {
				return err
			}

			return messenger.Send(msg, md.Me, md.Them)
		}, nil
	}

	svc.sendSubStateEvent(md, s.Name(), SubStateVerifying)

	answer := SignatureMsg{}
	if err := md.msg.Decode(&answer); err != nil {
		return nil, nil, withKind(KindSignatureInvalid, fmt.Errorf("decode signature: %w", err))
	}

	if answer.TxID != md.TxID {
		return nil, nil, withKind(KindSignatureInvalid,
			fmt.Errorf("%w: signature for %s, run signs %s", ErrTxMismatch, answer.TxID, md.TxID))
	}

	stx, err := svc.collector.Accept(md.Transaction, answer.Signature)
	if err != nil {
		return nil, nil, err
	}

	md.Transaction = stx

	return &finalising{}, nil, nil
}

// finalising state
type finalising struct{}

func (s *finalising) Name() string {
	return StateIDFinalising
}

func (s *finalising) CanTransitionTo(st state) bool {
	return st.Name() == StateIDDone || st.Name() == StateIDFailed
}

func (s *finalising) Execute(svc *Service, md *metaData) (state, stateAction, error) {
	lender, err := svc.directory.Party(md.Them)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve lender: %w", err)
	}

	svc.sendSubStateEvent(md, s.Name(), SubStateNotarising)

	rec, err := svc.finality.Finalize(svc.ctx, md.Transaction, svc.self, lender)
	if err != nil {
		return nil, nil, err
	}

	md.Finalized = rec

	svc.sendSubStateEvent(md, s.Name(), SubStateBroadcasting)

	return &done{}, nil, nil
}

// awaitingSignRequest state: a responder run decodes the request that created it.
type awaitingSignRequest struct{}

func (s *awaitingSignRequest) Name() string {
	return StateIDAwaitingSignRequest
}

func (s *awaitingSignRequest) CanTransitionTo(st state) bool {
	return st.Name() == StateIDSigning || st.Name() == StateIDFailed
}

func (s *awaitingSignRequest) Execute(_ *Service, md *metaData) (state, stateAction, error) {
	req := SignRequest{}
	if err := md.msg.Decode(&req); err != nil {
		return nil, nil, withKind(KindCounterpartyRejected, fmt.Errorf("%w: decode request: %s", ErrRejected, err.Error()))
	}

	if err := checkSignRequest(&req); err != nil {
		return nil, nil, withKind(KindCounterpartyRejected, fmt.Errorf("%w: malformed request: %s", ErrRejected, err.Error()))
	}

	md.TxID = req.TxID
	md.Transaction = &req.Transaction

	return &countersigning{}, nil, nil
}

// checkSignRequest rejects requests that cannot name a transaction to sign.
func checkSignRequest(req *SignRequest) error {
	if req.TxID == "" {
		return errors.New("transaction id is missing")
	}

	tx := &req.Transaction.Tx

	keys := map[string]ledger.PublicKey{
		"borrower": tx.Output.Borrower.Key,
		"lender":   tx.Output.Lender.Key,
		"notary":   tx.Notary.Key,
	}

	for _, who := range []string{"borrower", "lender", "notary"} {
		if len(keys[who]) != ed25519.PublicKeySize {
			return fmt.Errorf("%s key has %d bytes", who, len(keys[who]))
		}
	}

	if len(tx.Command.Signers) == 0 {
		return errors.New("no signers")
	}

	for _, key := range tx.Command.Signers {
		if len(key) != ed25519.PublicKeySize {
			return fmt.Errorf("signer key has %d bytes", len(key))
		}
	}

	return nil
}

// countersigning state: the lender checks the request and signs.
type countersigning struct{}

func (s *countersigning) Name() string {
	return StateIDSigning
}

func (s *countersigning) CanTransitionTo(st state) bool {
	return st.Name() == StateIDAwaitingCommit || st.Name() == StateIDFailed
}

func (s *countersigning) Execute(svc *Service, md *metaData) (state, stateAction, error) {
	req := &SignRequest{TxID: md.TxID, Transaction: *md.Transaction}

	sig, err := svc.responder.Countersign(md.PIID, md.Them, md.msg, req)
	if err != nil {
		return nil, nil, err
	}

	signed, err := md.Transaction.WithSignature(sig)
	if err != nil {
		return nil, nil, err
	}

	md.Transaction = signed

	return &awaitingCommit{}, reply(md, sig), nil
}

// reply answers the sign-request of the run with sig.
func reply(md *metaData, sig ledger.Signature) stateAction {
	answer := &SignatureMsg{
		ID:        uuid.New().String(),
		Type:      SignatureMsgType,
		TxID:      md.TxID,
		Signature: sig,
	}

	requestID := md.RequestID

	return func(messenger service.Messenger) error {
		msg, err := service.NewMsgMap(answer)
		if err != nil {
			return err
		}

		return messenger.ReplyTo(requestID, msg)
	}
}

// awaitingCommit state: the lender waits until the notarised transaction is recorded locally.
type awaitingCommit struct {
	// resend answers the sign-request again; a stored run cannot tell whether its answer left.
	resend bool
}

func (s *awaitingCommit) Name() string {
	return StateIDAwaitingCommit
}

func (s *awaitingCommit) CanTransitionTo(st state) bool {
	return st.Name() == StateIDDone || st.Name() == StateIDFailed
}

func (s *awaitingCommit) Execute(svc *Service, md *metaData) (state, stateAction, error) {
	piID, txID := md.PIID, md.TxID

	var answer stateAction

	if s.resend {
		if md.Transaction == nil {
			return nil, nil, errors.New("no transaction to answer with")
		}

		sig, ok := md.Transaction.Signatures[md.Transaction.Tx.Output.Lender.Key.String()]
		if !ok {
			return nil, nil, errors.New("no local signature to answer with")
		}

		answer = reply(md, sig)
	}

	return &noOp{}, func(messenger service.Messenger) error {
		svc.armCommitWaiter(piID, txID)

		if answer == nil {
			return nil
		}

		return answer(messenger)
	}, nil
}

// done state
type done struct{}

func (s *done) Name() string {
	return StateIDDone
}

func (s *done) CanTransitionTo(_ state) bool {
	return false
}

func (s *done) Execute(svc *Service, md *metaData) (state, stateAction, error) {
	if md.Finalized == nil {
		return nil, nil, errors.New("no finalized record")
	}

	if err := sameTransaction(md.TxID, md.Finalized); err != nil {
		return nil, nil, withKind(KindFinality, err)
	}

	svc.cancelCommitWaiter(md.PIID)
	svc.metrics.RecordFinish(md.Role, StateIDDone, time.Since(md.StartedAt))

	return &noOp{}, nil, nil
}

// failed state
type failed struct{}

func (s *failed) Name() string {
	return StateIDFailed
}

func (s *failed) CanTransitionTo(_ state) bool {
	return false
}

func (s *failed) Execute(svc *Service, md *metaData) (state, stateAction, error) {
	svc.cancelCommitWaiter(md.PIID)
	svc.metrics.RecordFinish(md.Role, StateIDFailed, time.Since(md.StartedAt))

	// the lender only knows about a run once the request was sent
	if md.remote || md.Failure == nil || (md.Role == RoleInitiator && !md.RequestSent) {
		return &noOp{}, nil, nil
	}

	report := &ProblemReport{
		ID:      uuid.New().String(),
		Type:    ProblemReportMsgType,
		Code:    codeFromKind(md.Failure.Kind),
		Comment: md.Failure.Message,
	}

	piID, me, them, requestID := md.PIID, md.Me, md.Them, md.RequestID

	return &noOp{}, func(messenger service.Messenger) error {
		if requestID != "" {
			msg, err := service.NewMsgMap(report)
			if err != nil {
				return err
			}

			return messenger.ReplyTo(requestID, msg)
		}

		report.Thread = &Thread{ID: piID}

		msg, err := service.NewMsgMap(report)
		if err != nil {
			return err
		}

		return messenger.Send(msg, me, them)
	}, nil
}

// stateFromName returns the state of role by given name.
func stateFromName(role, name string) state {
	switch name {
	case stateNameStart:
		return &start{}
	case StateIDInitialising:
		return &initialising{}
	case StateIDBuilding:
		return &building{}
	case StateIDSigning:
		if role == RoleResponder {
			return &countersigning{}
		}

		return &signing{}
	case StateIDCollecting:
		return &collecting{}
	case StateIDFinalising:
		return &finalising{}
	case StateIDAwaitingSignRequest:
		return &awaitingSignRequest{}
	case StateIDAwaitingCommit:
		return &awaitingCommit{}
	case StateIDDone:
		return &done{}
	case StateIDFailed:
		return &failed{}
	default:
		return &noOp{}
	}
}

func isNoOp(s state) bool {
	_, ok := s.(*noOp)

	return ok
}

func isTerminal(name string) bool {
	return name == StateIDDone || name == StateIDFailed
}
