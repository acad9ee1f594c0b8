package model

import "time"

// Role names carried in the JWT "role" claim and stored in users.role.
const (
	RoleShopper = "SHOPPER"
	RoleExpert  = "EXPERT"
)

// User represents a marketplace account as stored in the `users` table.
// Profiles themselves are managed elsewhere; this service only needs to
// resolve a wallet identity to an active account with a role.  The json
// tags are omitted because the struct is used internally by the
// repository and service layers.
//
// Fields:
//  ID            – primary key identifier of the user.
//  WalletAddress – base58 account identity used on the ledger.
//  Role          – SHOPPER or EXPERT.
//  IsActive      – whether the account is active.
//  CreatedAt     – timestamp of creation.
type User struct {
	ID            uint64    // users.id
	WalletAddress string    // users.wallet_address
	Role          string    // users.role
	IsActive      bool      // users.is_active
	CreatedAt     time.Time // users.created_at
}
