package ledger

import (
	"errors"
	"fmt"
)

// Verification failures.  Callers classify them with IsRetriable and
// IsDefinitive rather than matching individual values.
var (
	// ErrInvalidSignatureFormat: the signature is not 64-88 base58 chars.
	ErrInvalidSignatureFormat = errors.New("invalid transaction signature format")
	// ErrInvalidWalletAddress: the address is not 32-44 base58 chars.
	ErrInvalidWalletAddress = errors.New("invalid wallet address")
	// ErrTransactionNotFound: the ledger returned no transaction (yet).
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrTransactionFailedOnChain: the transaction executed and failed.
	ErrTransactionFailedOnChain = errors.New("transaction failed on-chain")
	// ErrInvalidAmount: no value transfer could be extracted.
	ErrInvalidAmount = errors.New("invalid or unparseable transfer amount")
	// ErrNetwork: the ledger could not be reached within the retry budget.
	ErrNetwork = errors.New("ledger network error")
	// ErrLedgerRejected: the node answered the request with an error that
	// says nothing about the transaction.  Not retriable, nothing is recorded.
	ErrLedgerRejected = errors.New("ledger rejected the request")
)

// RPCError is an error object returned by the ledger node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsRetriable reports whether err may resolve by itself: the transaction is
// not yet visible or the ledger was unreachable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrNetwork)
}

// IsDefinitive reports whether err is a final answer about the transaction
// itself, so the claimed payment can be marked failed.
func IsDefinitive(err error) bool {
	return errors.Is(err, ErrTransactionFailedOnChain) || errors.Is(err, ErrInvalidAmount)
}

// Kind returns a short label for err, used for metrics and API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidSignatureFormat):
		return "invalid_signature_format"
	case errors.Is(err, ErrInvalidWalletAddress):
		return "invalid_wallet_address"
	case errors.Is(err, ErrTransactionNotFound):
		return "transaction_not_found"
	case errors.Is(err, ErrTransactionFailedOnChain):
		return "transaction_failed_on_chain"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrLedgerRejected):
		return "ledger_rejected"
	default:
		return "internal"
	}
}
