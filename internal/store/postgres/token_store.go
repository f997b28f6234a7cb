package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

// TokenStore implements domain.TokenStore on solana_list_tokens.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a new TokenStore backed by the given connection pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

const tokenSelectCols = `slt_address, slt_name, slt_symbol, slt_decimals, slt_logo_url`

// GetByAddress looks a token up by mint address.
func (s *TokenStore) GetByAddress(ctx context.Context, address string) (domain.Token, error) {
	var t domain.Token
	err := s.pool.QueryRow(ctx,
		`SELECT `+tokenSelectCols+` FROM solana_list_tokens WHERE slt_address = $1`, address,
	).Scan(&t.Address, &t.Name, &t.Symbol, &t.Decimals, &t.LogoURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Token{}, domain.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("postgres: get token %s: %w", address, err)
	}
	return t, nil
}

var _ domain.TokenStore = (*TokenStore)(nil)
