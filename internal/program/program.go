// Package program is the on-ledger projection of the consultation
// marketplace: session accounts, the singleton payment account and the
// native balances moved by the settlement instruction.  State lives in a
// badger key-value store; every instruction runs in a single read-write
// transaction, so it either applies completely or not at all.
package program

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/iliyamo/consultation-settlement/internal/model"
	"github.com/iliyamo/consultation-settlement/internal/session"
)

var (
	ErrAccountExists         = errors.New("account already initialized")
	ErrAccountNotFound       = errors.New("account not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrBalanceOverflow       = errors.New("balance overflow")
	ErrPaymentNotInitialized = errors.New("payment account not initialized")
)

const (
	sessionSeed    = "session"
	paymentKey     = "payment"
	balancePrefix  = "balance/"
	maxTxnAttempts = 2
)

// SessionKey returns the account key of session id.
func SessionKey(id string) []byte { return []byte(sessionSeed + id) }

func balanceKey(addr string) []byte { return []byte(balancePrefix + addr) }

// PaymentAccount is the singleton configuration account created by
// InitializePayment.
type PaymentAccount struct {
	Authority       string `json:"authority"`
	ConsultationFee uint64 `json:"consultation_fee"`
}

// Program executes instructions against a badger store.  Writes are
// serialized by a mutex; a transaction that still loses a conflict (another
// process sharing the directory) is re-run once against fresh state.
type Program struct {
	db      *badger.DB
	mu      sync.Mutex
	machine *session.Machine
	log     *slog.Logger
}

// New wraps an open badger database.  now may be nil.
func New(db *badger.DB, now func() time.Time, logger *slog.Logger) *Program {
	if logger == nil {
		logger = slog.Default()
	}
	return &Program{db: db, machine: session.NewMachine(now), log: logger.With("component", "program")}
}

// Open opens (or creates) the store in dir.  An empty dir selects an
// in-memory store.
func Open(dir string, now func() time.Time, logger *slog.Logger) (*Program, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open program store: %w", err)
	}
	return New(db, now, logger), nil
}

// Close closes the underlying store.
func (p *Program) Close() error { return p.db.Close() }

func (p *Program) update(fn func(txn *badger.Txn) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		err = p.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		p.log.Warn("program transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func getBalance(txn *badger.Txn, addr string) (uint64, error) {
	item, err := txn.Get(balanceKey(addr))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var bal uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt balance for %s", addr)
		}
		bal = binary.BigEndian.Uint64(val)
		return nil
	})
	return bal, err
}

func setBalance(txn *badger.Txn, addr string, bal uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bal)
	return txn.Set(balanceKey(addr), buf[:])
}

func credit(txn *badger.Txn, addr string, amount uint64) error {
	bal, err := getBalance(txn, addr)
	if err != nil {
		return err
	}
	if bal+amount < bal {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, addr)
	}
	return setBalance(txn, addr, bal+amount)
}

func debit(txn *badger.Txn, addr string, amount uint64) error {
	bal, err := getBalance(txn, addr)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, addr, bal, amount)
	}
	return setBalance(txn, addr, bal-amount)
}

// Fund credits lamports to addr.  It stands in for an airdrop or an
// external deposit.
func (p *Program) Fund(addr string, lamports uint64) error {
	return p.update(func(txn *badger.Txn) error {
		return credit(txn, addr, lamports)
	})
}

// Balance returns the balance of addr; unknown accounts hold zero.
func (p *Program) Balance(addr string) (uint64, error) {
	var bal uint64
	err := p.db.View(func(txn *badger.Txn) error {
		var err error
		bal, err = getBalance(txn, addr)
		return err
	})
	return bal, err
}

// Session returns the session account for id.
func (p *Program) Session(id string) (*model.Session, error) {
	var s model.Session
	err := p.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, SessionKey(id), &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Payment returns the singleton payment account.
func (p *Program) Payment() (*PaymentAccount, error) {
	var acc PaymentAccount
	err := p.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(paymentKey), &acc)
	})
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrPaymentNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
