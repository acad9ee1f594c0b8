package ledger

import "encoding/json"

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Transaction is the subset of a getTransaction result (json encoding) the
// verifier reads.
type Transaction struct {
	Slot        uint64           `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Meta        *TransactionMeta `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// TransactionMeta carries execution status and per-account balances.
// Balances are indexed like AccountKeys followed by any loaded addresses.
type TransactionMeta struct {
	Err             json.RawMessage  `json:"err"`
	Fee             uint64           `json:"fee"`
	PreBalances     []uint64         `json:"preBalances"`
	PostBalances    []uint64         `json:"postBalances"`
	LoadedAddresses *LoadedAddresses `json:"loadedAddresses,omitempty"`
}

// LoadedAddresses are accounts pulled in through address lookup tables by
// versioned transactions.
type LoadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

// Failed reports whether the transaction executed with an error.
func (m *TransactionMeta) Failed() bool {
	return len(m.Err) > 0 && string(m.Err) != "null"
}

// AccountKeys returns the static account keys followed by addresses loaded
// from lookup tables.
func (t *Transaction) AccountKeys() []string {
	keys := t.Transaction.Message.AccountKeys
	if t.Meta == nil || t.Meta.LoadedAddresses == nil {
		return keys
	}
	out := make([]string, 0, len(keys)+len(t.Meta.LoadedAddresses.Writable)+len(t.Meta.LoadedAddresses.Readonly))
	out = append(out, keys...)
	out = append(out, t.Meta.LoadedAddresses.Writable...)
	return append(out, t.Meta.LoadedAddresses.Readonly...)
}
