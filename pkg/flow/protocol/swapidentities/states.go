/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package swapidentities

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cts-etf/basket-iou/pkg/flow/common/service"
	"github.com/cts-etf/basket-iou/pkg/ledger"
)

const (
	// StateIDDone is the state of a finished exchange.
	StateIDDone = "done"
	// StateIDAbandoned is the state of a failed exchange.
	StateIDAbandoned = "abandoned"

	stateNameStart      = "start"
	stateNameProposing  = "proposing"
	stateNameConfirming = "confirming"
	stateNameNoop       = "noop"

	codeInvalidIdentity = "invalid-identity"
	codeInternalError   = "internal"
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
	return st.Name() == stateNameProposing || st.Name() == stateNameConfirming
}

func (s *start) Execute(_ *Service, _ *metaData) (state, stateAction, error) {
	return nil, nil, fmt.Errorf("%s: is not implemented yet", s.Name())
}

// proposing state: the initiator mints its identity and proposes it.
type proposing struct{}

func (s *proposing) Name() string {
	return stateNameProposing
}

func (s *proposing) CanTransitionTo(st state) bool {
	return st.Name() == StateIDDone || st.Name() == StateIDAbandoned
}

func (s *proposing) Execute(svc *Service, md *metaData) (state, stateAction, error) {
	msg, err := svc.mint(md, ProposeIdentityMsgType)
	if err != nil {
		return nil, nil, err
	}

	msg.ID = md.ThreadID
	msg.Thread = &Thread{ID: md.ThreadID, PID: md.ParentThreadID}

	return &noOp{}, func(messenger service.Messenger) error {
		out, err := service.NewMsgMap(msg)
		if err != nil {
			return err
		}

		return messenger.Send(out, md.Me, md.Them)
	}, nil
}

// confirming state: the responder checks the proposal and answers with its own identity.
type confirming struct{}

func (s *confirming) Name() string {
	return stateNameConfirming
}

func (s *confirming) CanTransitionTo(st state) bool {
	return st.Name() == StateIDDone || st.Name() == StateIDAbandoned
}

func (s *confirming) Execute(svc *Service, md *metaData) (state, stateAction, error) {
	if err := svc.accept(md); err != nil {
		return nil, nil, err
	}

	msg, err := svc.mint(md, ConfirmIdentityMsgType)
	if err != nil {
		return nil, nil, err
	}

	msg.ID = uuid.New().String()

	if err := svc.register(md); err != nil {
		return nil, nil, err
	}

	inboundID := md.msg.ID()

	return &done{}, func(messenger service.Messenger) error {
		out, err := service.NewMsgMap(msg)
		if err != nil {
			return err
		}

		return messenger.ReplyTo(inboundID, out)
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
	if md.Role == roleInitiator {
		if err := svc.accept(md); err != nil {
			return nil, nil, err
		}

		if err := svc.register(md); err != nil {
			return nil, nil, err
		}
	}

	return &noOp{}, nil, nil
}

// abandoned state
type abandoned struct {
	Code string
}

func (s *abandoned) Name() string {
	return StateIDAbandoned
}

func (s *abandoned) CanTransitionTo(_ state) bool {
	return false
}

func (s *abandoned) Execute(_ *Service, md *metaData) (state, stateAction, error) {
	if md.remote || md.Them == "" {
		return &noOp{}, nil, nil
	}

	code := s.Code
	if code == "" {
		code = codeInternalError
	}

	report := &ProblemReport{
		ID:      uuid.New().String(),
		Type:    ProblemReportMsgType,
		Thread:  &Thread{ID: md.ThreadID, PID: md.ParentThreadID},
		Code:    code,
		Comment: md.Error,
	}

	return &noOp{}, func(messenger service.Messenger) error {
		out, err := service.NewMsgMap(report)
		if err != nil {
			return err
		}

		return messenger.Send(out, md.Me, md.Them)
	}, nil
}

// stateFromName returns the state by given name.
func stateFromName(name string) state {
	switch name {
	case stateNameStart:
		return &start{}
	case stateNameProposing:
		return &proposing{}
	case stateNameConfirming:
		return &confirming{}
	case StateIDDone:
		return &done{}
	case StateIDAbandoned:
		return &abandoned{}
	default:
		return &noOp{}
	}
}

func isNoOp(s state) bool {
	_, ok := s.(*noOp)

	return ok
}

func isTerminal(name string) bool {
	return name == StateIDDone || name == StateIDAbandoned
}

// identities returns the exchanged identities keyed by owner name.
func identities(md *metaData) map[string]ledger.AnonymousParty {
	result := map[string]ledger.AnonymousParty{}

	if md.MyAnonymous != nil {
		result[md.Me] = *md.MyAnonymous
	}

	if md.TheirAnonymous != nil {
		result[md.Them] = *md.TheirAnonymous
	}

	return result
}
