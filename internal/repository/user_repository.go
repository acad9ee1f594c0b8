package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/consultation-settlement/internal/model"
)

// UserRepo resolves ledger identities to marketplace accounts stored in the
// users table.  Accounts are provisioned elsewhere; this service only reads
// them.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// ErrUnknownUser is returned when no active account with the expected role
// holds the wallet address.
var ErrUnknownUser = errors.New("unknown or inactive user")

// GetByWallet fetches a user by wallet address.
func (r *UserRepo) GetByWallet(ctx context.Context, wallet string) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,wallet_address,role,is_active,created_at FROM users WHERE wallet_address=? LIMIT 1",
		strings.TrimSpace(wallet)).Scan(&u.ID, &u.WalletAddress, &u.Role, &u.IsActive, &u.CreatedAt)
	return u, err
}

// Resolve returns the active account holding wallet with the given role.
// Missing, inactive or differently-roled accounts yield ErrUnknownUser.
func (r *UserRepo) Resolve(ctx context.Context, wallet, role string) (model.User, error) {
	u, err := r.GetByWallet(ctx, wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUnknownUser
	}
	if err != nil {
		return model.User{}, err
	}
	if !u.IsActive || !strings.EqualFold(u.Role, role) {
		return model.User{}, ErrUnknownUser
	}
	return u, nil
}
