package program

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/iliyamo/consultation-settlement/internal/ledger"
	"github.com/iliyamo/consultation-settlement/internal/model"
	"github.com/iliyamo/consultation-settlement/internal/session"
	"github.com/iliyamo/consultation-settlement/internal/settlement"
)

// InitializePayment creates the payment account.  It can run only once.
func (p *Program) InitializePayment(authority string, consultationFee uint64) error {
	if !ledger.IsValidAddress(authority) {
		return fmt.Errorf("%w: authority %q", ledger.ErrInvalidWalletAddress, authority)
	}
	return p.update(func(txn *badger.Txn) error {
		ok, err := exists(txn, []byte(paymentKey))
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: payment", ErrAccountExists)
		}
		return setJSON(txn, []byte(paymentKey), PaymentAccount{Authority: authority, ConsultationFee: consultationFee})
	})
}

// ProcessConsultationPayment moves amount from shopper to expert and the
// platform according to the settlement split.  Both transfers happen in one
// transaction: if either fails neither is applied.
func (p *Program) ProcessConsultationPayment(shopper, expert, platform string, amount uint64) (settlement.Split, error) {
	if amount == 0 {
		return settlement.Split{}, session.ErrInvalidAmount
	}
	for _, addr := range []string{shopper, expert, platform} {
		if !ledger.IsValidAddress(addr) {
			return settlement.Split{}, fmt.Errorf("%w: %q", ledger.ErrInvalidWalletAddress, addr)
		}
	}
	split := settlement.Compute(amount)
	err := p.update(func(txn *badger.Txn) error {
		ok, err := exists(txn, []byte(paymentKey))
		if err != nil {
			return err
		}
		if !ok {
			return ErrPaymentNotInitialized
		}
		if err := debit(txn, shopper, amount); err != nil {
			return err
		}
		if err := credit(txn, expert, split.Expert); err != nil {
			return err
		}
		return credit(txn, platform, split.Platform)
	})
	if err != nil {
		return settlement.Split{}, err
	}
	p.log.Info("consultation payment processed",
		"shopper", shopper, "expert", expert, "expert_share", split.Expert, "platform_share", split.Platform)
	return split, nil
}

// CreateSession creates a PENDING session account signed by shopper.  The
// account key is derived from id, so an id can be used only once.
func (p *Program) CreateSession(shopper, expert, id string, amount uint64) (*model.Session, error) {
	s, err := p.machine.Create(id, shopper, expert, amount)
	if err != nil {
		return nil, err
	}
	err = p.update(func(txn *badger.Txn) error {
		key := SessionKey(s.ID)
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: session %s", ErrAccountExists, s.ID)
		}
		return setJSON(txn, key, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// StartSession moves a PENDING session to ACTIVE.  Only the session's expert
// may sign.
func (p *Program) StartSession(expert, id string) (*model.Session, error) {
	return p.transition(id, session.ActionStart, expert)
}

// EndSession moves an ACTIVE session to COMPLETED.  Only the session's
// expert may sign.
func (p *Program) EndSession(expert, id string) (*model.Session, error) {
	return p.transition(id, session.ActionEnd, expert)
}

// CancelSession cancels a PENDING session.  Either participant may sign.
func (p *Program) CancelSession(signer, id string) (*model.Session, error) {
	return p.transition(id, session.ActionCancel, signer)
}

func (p *Program) transition(id string, action session.Action, signer string) (*model.Session, error) {
	var out model.Session
	err := p.update(func(txn *badger.Txn) error {
		var s model.Session
		if err := getJSON(txn, SessionKey(id), &s); err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
		if _, err := p.machine.Apply(&s, action, signer); err != nil {
			return err
		}
		out = s
		return setJSON(txn, SessionKey(id), &s)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
