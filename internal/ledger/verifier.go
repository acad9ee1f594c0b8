package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/iliyamo/consultation-settlement/internal/metrics"
)

// Tolerance is the largest accepted difference between the expected and the
// received amount: 0.001 SOL.
const Tolerance uint64 = 1_000_000

// TransactionSource fetches transactions by signature.  *Client implements it.
type TransactionSource interface {
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
}

// Verifier checks that a ledger transaction transferred the expected amount
// to the expected recipient.  Verification is a pure function of ledger
// state, so callers may retry it freely.
type Verifier struct {
	src   TransactionSource
	cache ResultCache
	log   *slog.Logger
}

// NewVerifier returns a Verifier.  cache may be nil.
func NewVerifier(src TransactionSource, cache ResultCache, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{src: src, cache: cache, log: logger.With("component", "ledger_verifier")}
}

// Verify reports whether the transaction identified by signature moved
// expected lamports (within Tolerance) and, when recipient is non-empty,
// involved recipient.  A (false, nil) result is a definitive negative.
func (v *Verifier) Verify(ctx context.Context, signature string, expected uint64, recipient string) (bool, error) {
	ok, err := v.verify(ctx, signature, expected, recipient)
	switch {
	case err != nil:
		metrics.RecordVerification(Kind(err))
	case ok:
		metrics.RecordVerification("valid")
	default:
		metrics.RecordVerification("mismatch")
	}
	return ok, err
}

func (v *Verifier) verify(ctx context.Context, signature string, expected uint64, recipient string) (bool, error) {
	if !IsValidSignature(signature) {
		return false, fmt.Errorf("%w: %q", ErrInvalidSignatureFormat, signature)
	}
	if recipient != "" && !IsValidAddress(recipient) {
		return false, fmt.Errorf("%w: %q", ErrInvalidWalletAddress, recipient)
	}

	key := cacheKey(signature, expected, recipient)
	if v.cache != nil {
		if ok, hit := v.cache.Get(ctx, key); hit {
			return ok, nil
		}
	}

	tx, err := v.src.GetTransaction(ctx, signature)
	if err != nil {
		return false, err
	}
	ok, err := Evaluate(tx, expected, recipient)
	if err != nil {
		return false, err
	}
	if !ok {
		v.log.Warn("transaction does not match claim",
			"signature", signature, "expected", expected, "recipient", recipient)
	}
	if v.cache != nil {
		v.cache.Set(ctx, key, ok)
	}
	return ok, nil
}

// Evaluate applies the verification rules to an already fetched
// transaction.
func Evaluate(tx *Transaction, expected uint64, recipient string) (bool, error) {
	if tx.Meta == nil {
		return false, fmt.Errorf("%w: transaction has no meta", ErrInvalidAmount)
	}
	if tx.Meta.Failed() {
		return false, fmt.Errorf("%w: %s", ErrTransactionFailedOnChain, string(tx.Meta.Err))
	}
	received, err := ReceivedAmount(tx.Meta)
	if err != nil {
		return false, err
	}
	if diff(expected, received) > Tolerance {
		return false, nil
	}
	if recipient != "" && !slices.Contains(tx.AccountKeys(), recipient) {
		return false, nil
	}
	return true, nil
}

// ReceivedAmount returns the largest positive balance change across all
// accounts of the transaction.
func ReceivedAmount(meta *TransactionMeta) (uint64, error) {
	if meta.PreBalances == nil || meta.PostBalances == nil {
		return 0, fmt.Errorf("%w: missing balances", ErrInvalidAmount)
	}
	if len(meta.PreBalances) != len(meta.PostBalances) {
		return 0, fmt.Errorf("%w: %d pre balances, %d post balances",
			ErrInvalidAmount, len(meta.PreBalances), len(meta.PostBalances))
	}
	var received uint64
	for i, pre := range meta.PreBalances {
		if post := meta.PostBalances[i]; post > pre && post-pre > received {
			received = post - pre
		}
	}
	if received == 0 {
		return 0, fmt.Errorf("%w: no account received value", ErrInvalidAmount)
	}
	return received, nil
}

func diff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
