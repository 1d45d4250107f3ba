/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package swapidentities implements the pairwise exchange of one-time anonymous identities.
// Each party mints a fresh key, proves ownership of it with its well-known key and records the
// identity of the other side so that it can be resolved later.
package swapidentities

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/cts-etf/basket-iou/pkg/common/log"
	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/identity"
	"github.com/cts-etf/basket-iou/pkg/internal/lockutil"
	"github.com/cts-etf/basket-iou/pkg/internal/logutil"
	"github.com/cts-etf/basket-iou/pkg/kms"
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

const (
	// Name defines the protocol name.
	Name = "swap-identities"
	// SpecURI defines the protocol spec.
	SpecURI = "https://cts-etf.dev/swap-identities/1.0/"
	// ProposeIdentityMsgType defines the protocol propose-identity message type.
	ProposeIdentityMsgType = SpecURI + "propose-identity"
	// ConfirmIdentityMsgType defines the protocol confirm-identity message type.
	ConfirmIdentityMsgType = SpecURI + "confirm-identity"
	// ProblemReportMsgType defines the protocol problem-report message type.
	ProblemReportMsgType = SpecURI + "problem-report"

	recordKeyPrefix = "swap_"
	parentTag       = "swap_pthid"

	roleInitiator = "initiator"
	roleResponder = "responder"
)

var (
	logger = log.New("basket-iou/protocol/swapidentities")

	// ErrInvalidProof is returned when an announced identity is not proven by its owner.
	ErrInvalidProof = errors.New("invalid identity proof")
	// ErrPending is returned by Result while an exchange has not finished.
	ErrPending = errors.New("identity exchange is pending")
	// ErrNotFound is returned when no exchange exists for a thread.
	ErrNotFound = errors.New("identity exchange not found")
)

// remoteError is an error reported by the other party.
type remoteError struct{ error }

// record is the persisted exchange.
type record struct {
	ThreadID       string                 `json:"threadId"`
	ParentThreadID string                 `json:"parentThreadId,omitempty"`
	Role           string                 `json:"role"`
	StateName      string                 `json:"stateName"`
	Me             string                 `json:"me"`
	Them           string                 `json:"them"`
	MyAnonymous    *ledger.AnonymousParty `json:"myAnonymous,omitempty"`
	TheirAnonymous *ledger.AnonymousParty `json:"theirAnonymous,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

type metaData struct {
	record
	// inbound message being processed, if any
	msg    service.MsgMap
	err    error
	remote bool
}

// Provider contains dependencies for the protocol.
type Provider interface {
	Messenger() service.Messenger
	StorageProvider() storage.Provider
	KMS() kms.KeyManager
	Directory() identity.Directory
	Resolver() *identity.Resolver
	Self() ledger.Party
}

// Service for the swap-identities protocol.
type Service struct {
	service.Message
	store     storage.Store
	messenger service.Messenger
	km        kms.KeyManager
	directory identity.Directory
	resolver  *identity.Resolver
	self      ledger.Party
	locks     lockutil.Keyed
}

// New returns the swap-identities service.
func New(p Provider) (*Service, error) {
	store, err := p.StorageProvider().OpenStore(Name)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	err = p.StorageProvider().SetStoreConfig(Name, storage.StoreConfiguration{TagNames: []string{parentTag}})
	if err != nil {
		return nil, fmt.Errorf("failed to set store config: %w", err)
	}

	if p.Self().IsZero() {
		return nil, errors.New("swap-identities: local party is required")
	}

	return &Service{
		store:     store,
		messenger: p.Messenger(),
		km:        p.KMS(),
		directory: p.Directory(),
		resolver:  p.Resolver(),
		self:      p.Self(),
	}, nil
}

// Name returns service name.
func (s *Service) Name() string {
	return Name
}

// Accept msg checks the msg type.
func (s *Service) Accept(msgType string) bool {
	switch msgType {
	case ProposeIdentityMsgType, ConfirmIdentityMsgType, ProblemReportMsgType:
		return true
	}

	return false
}

// Swap starts an exchange with counterparty, nested under parentThreadID. It returns the
// thread id of the exchange.
func (s *Service) Swap(parentThreadID, counterparty string) (string, error) {
	if counterparty == s.self.Name {
		return "", errors.New("cannot swap identities with self")
	}

	if _, err := s.directory.Party(counterparty); err != nil {
		return "", fmt.Errorf("resolve counterparty: %w", err)
	}

	thID := uuid.New().String()

	unlock := s.locks.Lock(thID)
	defer unlock()

	md := &metaData{record: record{
		ThreadID:       thID,
		ParentThreadID: parentThreadID,
		Role:           roleInitiator,
		StateName:      stateNameStart,
		Me:             s.self.Name,
		Them:           counterparty,
	}}

	if err := s.run(md, &proposing{}); err != nil {
		return "", err
	}

	return thID, nil
}

// Result returns the identities exchanged under parentThreadID, keyed by owner name.
func (s *Service) Result(parentThreadID string) (map[string]ledger.AnonymousParty, error) {
	rec, err := s.recordByParent(parentThreadID)
	if err != nil {
		return nil, err
	}

	switch rec.StateName {
	case StateIDDone:
		return identities(&metaData{record: *rec}), nil
	case StateIDAbandoned:
		return nil, fmt.Errorf("identity exchange abandoned: %s", rec.Error)
	default:
		return nil, ErrPending
	}
}

// HandleInbound handles inbound messages (swap-identities protocol).
func (s *Service) HandleInbound(msg service.MsgMap, ctx service.Context) (string, error) {
	logger.Debugf("handling inbound: %s", msg.Type())

	thID, err := msg.ThreadID()
	if err != nil {
		return "", fmt.Errorf("threadID: %w", err)
	}

	unlock := s.locks.Lock(thID)
	defer unlock()

	rec, err := s.getRecord(thID)

	switch {
	case errors.Is(err, ErrNotFound) && msg.Type() == ProposeIdentityMsgType:
		rec = &record{
			ThreadID:       thID,
			ParentThreadID: msg.ParentThreadID(),
			Role:           roleResponder,
			StateName:      stateNameStart,
			Me:             ctx.Me(),
			Them:           ctx.Them(),
		}
	case err != nil:
		return "", err
	}

	if isTerminal(rec.StateName) {
		return "", fmt.Errorf("identity exchange %s is already %s", thID, rec.StateName)
	}

	if rec.Them != ctx.Them() {
		return "", fmt.Errorf("message on thread %s from %s, expected %s", thID, ctx.Them(), rec.Them)
	}

	md := &metaData{record: *rec, msg: msg}

	next, err := s.nextState(md)
	if err != nil {
		return "", err
	}

	current := stateFromName(rec.StateName)
	if !current.CanTransitionTo(next) {
		return "", fmt.Errorf("invalid state transition: %s -> %s", current.Name(), next.Name())
	}

	if err := s.run(md, next); err != nil {
		return "", err
	}

	return thID, nil
}

func (s *Service) nextState(md *metaData) (state, error) {
	switch md.msg.Type() {
	case ProposeIdentityMsgType:
		return &confirming{}, nil
	case ConfirmIdentityMsgType:
		return &done{}, nil
	case ProblemReportMsgType:
		report := ProblemReport{}
		if err := md.msg.Decode(&report); err != nil {
			return nil, fmt.Errorf("decode problem report: %w", err)
		}

		md.remote = true
		md.err = remoteError{fmt.Errorf("%s rejected the identity exchange: %s: %s", md.Them, report.Code, report.Comment)}

		return &abandoned{}, nil
	default:
		return nil, fmt.Errorf("unrecognized msgType: %s", md.msg.Type())
	}
}

// run executes next and, when it fails, abandons the exchange.
func (s *Service) run(md *metaData, next state) error {
	err := s.handle(md, next)
	if err == nil {
		return nil
	}

	if md.StateName == StateIDAbandoned {
		return err
	}

	logutil.LogError(logger, Name, "abandoning", err.Error(),
		logutil.CreateKeyValueString("threadID", md.ThreadID))

	code := codeInternalError
	if errors.Is(err, ErrInvalidProof) {
		code = codeInvalidIdentity
	}

	md.err = err
	md.remote = false

	if errHandle := s.handle(md, &abandoned{Code: code}); errHandle != nil {
		logger.Errorf("abandon identity exchange %s: %s", md.ThreadID, errHandle)
	}

	return err
}

func (s *Service) handle(md *metaData, current state) error {
	var actions []stateAction

	for !isNoOp(current) {
		if current.Name() == StateIDAbandoned && md.err != nil {
			md.Error = md.err.Error()
		}

		s.sendMsgEvents(md, current.Name(), service.PreState)

		next, action, err := current.Execute(s, md)
		if err != nil {
			return fmt.Errorf("execute %s: %w", current.Name(), err)
		}

		md.StateName = current.Name()

		if action != nil {
			actions = append(actions, action)
		}

		if !isNoOp(next) && !current.CanTransitionTo(next) {
			return fmt.Errorf("invalid state transition: %s --> %s", current.Name(), next.Name())
		}

		if err := s.saveRecord(&md.record); err != nil {
			return fmt.Errorf("failed to persist state %s: %w", md.StateName, err)
		}

		s.sendMsgEvents(md, current.Name(), service.PostState)

		current = next
	}

	for _, action := range actions {
		if err := action(s.messenger); err != nil {
			return fmt.Errorf("action %s: %w", md.StateName, err)
		}
	}

	return nil
}

// mint creates the local anonymous identity of the exchange and the message announcing it.
func (s *Service) mint(md *metaData, msgType string) (*Identity, error) {
	anonKey, err := s.km.Create()
	if err != nil {
		return nil, fmt.Errorf("create anonymous key: %w", err)
	}

	payload := proofPayload(md.ThreadID, anonKey)

	proof, err := s.km.Sign(s.self.Key, payload)
	if err != nil {
		return nil, fmt.Errorf("sign identity proof: %w", err)
	}

	possession, err := s.km.Sign(anonKey, payload)
	if err != nil {
		return nil, fmt.Errorf("sign identity possession: %w", err)
	}

	md.MyAnonymous = &ledger.AnonymousParty{Key: anonKey}

	return &Identity{
		Type:         msgType,
		AnonymousKey: anonKey,
		Proof:        proof,
		Possession:   possession,
	}, nil
}

// accept verifies the identity announced by the inbound message.
func (s *Service) accept(md *metaData) error {
	msg := Identity{}
	if err := md.msg.Decode(&msg); err != nil {
		return fmt.Errorf("decode identity: %w", err)
	}

	them, err := s.directory.Party(md.Them)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", md.Them, err)
	}

	payload := proofPayload(md.ThreadID, msg.AnonymousKey)

	if !msg.Proof.By.Equal(them.Key) {
		return fmt.Errorf("%w: proof signed by %s instead of %s", ErrInvalidProof, msg.Proof.By, md.Them)
	}

	if err := msg.Proof.Verify(payload); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidProof, err.Error())
	}

	if !msg.Possession.By.Equal(msg.AnonymousKey) {
		return fmt.Errorf("%w: possession not signed by the anonymous key", ErrInvalidProof)
	}

	if err := msg.Possession.Verify(payload); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidProof, err.Error())
	}

	if md.MyAnonymous != nil && msg.AnonymousKey.Equal(md.MyAnonymous.Key) {
		return fmt.Errorf("%w: anonymous key reused", ErrInvalidProof)
	}

	md.TheirAnonymous = &ledger.AnonymousParty{Key: msg.AnonymousKey}

	return nil
}

// register records both identities of the exchange with the resolver.
func (s *Service) register(md *metaData) error {
	them, err := s.directory.Party(md.Them)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", md.Them, err)
	}

	if err := s.resolver.Register(*md.MyAnonymous, s.self, md.ParentThreadID); err != nil {
		return err
	}

	return s.resolver.Register(*md.TheirAnonymous, them, md.ParentThreadID)
}

func proofPayload(thID string, key ledger.PublicKey) []byte {
	return []byte(Name + "|" + thID + "|" + key.String())
}

func (s *Service) sendMsgEvents(md *metaData, stateID string, stateType service.StateMsgType) {
	s.Emit(service.StateMsg{
		ProtocolName: Name,
		Type:         stateType,
		StateID:      stateID,
		Msg:          md.msg.Clone(),
		Properties:   newEventProps(md),
	})
}

func (s *Service) saveRecord(rec *record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	var tags []storage.Tag
	if rec.ParentThreadID != "" {
		tags = append(tags, storage.Tag{Name: parentTag, Value: rec.ParentThreadID})
	}

	return s.store.Put(recordKeyPrefix+rec.ThreadID, raw, tags...)
}

func (s *Service) getRecord(thID string) (*record, error) {
	raw, err := s.store.Get(recordKeyPrefix + thID)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: thread %s", ErrNotFound, thID)
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

func (s *Service) recordByParent(pthID string) (*record, error) {
	iter, err := s.store.Query(parentTag + ":" + pthID)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}

	defer storage.Close(iter, logger)

	more, err := iter.Next()
	if err != nil {
		return nil, fmt.Errorf("iterate store: %w", err)
	}

	if !more {
		return nil, fmt.Errorf("%w: parent thread %s", ErrNotFound, pthID)
	}

	raw, err := iter.Value()
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}

	rec := &record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}

	return rec, nil
}
