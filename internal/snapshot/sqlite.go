package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"github.com/devlongs/cyclearb/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS pools (
	triple          INTEGER NOT NULL,
	position        INTEGER NOT NULL,
	pool_address    TEXT NOT NULL,
	dex             TEXT NOT NULL,
	router          TEXT NOT NULL,
	fee_numerator   INTEGER NOT NULL,
	fee_denominator INTEGER NOT NULL,
	token0_address  TEXT NOT NULL,
	token0_symbol   TEXT NOT NULL,
	token0_name     TEXT NOT NULL,
	token0_decimals INTEGER NOT NULL,
	reserve0        TEXT NOT NULL,
	token1_address  TEXT NOT NULL,
	token1_symbol   TEXT NOT NULL,
	token1_name     TEXT NOT NULL,
	token1_decimals INTEGER NOT NULL,
	reserve1        TEXT NOT NULL,
	PRIMARY KEY (triple, position)
)`

// SQLiteStore keeps the latest set of pool triples in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create pools table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTriples replaces the stored triples
func (s *SQLiteStore) SaveTriples(ctx context.Context, triples []types.PoolTriple) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM pools"); err != nil {
		return fmt.Errorf("failed to clear pools: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO pools (
		triple, position, pool_address, dex, router, fee_numerator, fee_denominator,
		token0_address, token0_symbol, token0_name, token0_decimals, reserve0,
		token1_address, token1_symbol, token1_name, token1_decimals, reserve1
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, triple := range triples {
		for pos, p := range triple {
			_, err := stmt.ExecContext(ctx,
				i, pos, p.Address.Hex(), p.DEX, p.Router.Hex(), p.FeeNumerator, p.FeeDenominator,
				p.Token0.Address.Hex(), p.Token0.Symbol, p.Token0.Name, p.Token0.Decimals, p.Token0.Reserve,
				p.Token1.Address.Hex(), p.Token1.Symbol, p.Token1.Name, p.Token1.Decimals, p.Token1.Reserve,
			)
			if err != nil {
				return fmt.Errorf("failed to insert pool %s: %w", p.Address.Hex(), err)
			}
		}
	}

	return tx.Commit()
}

// LoadTriples returns the stored triples in the order they were saved
func (s *SQLiteStore) LoadTriples(ctx context.Context) ([]types.PoolTriple, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT triple, position, pool_address, dex, router, fee_numerator, fee_denominator,
			token0_address, token0_symbol, token0_name, token0_decimals, reserve0,
			token1_address, token1_symbol, token1_name, token1_decimals, reserve1
		FROM pools
		ORDER BY triple, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pools: %w", err)
	}
	defer rows.Close()

	var triples []types.PoolTriple
	for rows.Next() {
		var (
			idx, pos       int
			addr, router   string
			token0, token1 string
			p              types.PoolRecord
		)
		err := rows.Scan(
			&idx, &pos, &addr, &p.DEX, &router, &p.FeeNumerator, &p.FeeDenominator,
			&token0, &p.Token0.Symbol, &p.Token0.Name, &p.Token0.Decimals, &p.Token0.Reserve,
			&token1, &p.Token1.Symbol, &p.Token1.Name, &p.Token1.Decimals, &p.Token1.Reserve,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool row: %w", err)
		}
		if pos < 0 || pos > 2 {
			return nil, fmt.Errorf("pool %s: invalid position %d", addr, pos)
		}
		p.Address = common.HexToAddress(addr)
		p.Router = common.HexToAddress(router)
		p.Token0.Address = common.HexToAddress(token0)
		p.Token1.Address = common.HexToAddress(token1)

		for len(triples) <= idx {
			triples = append(triples, types.PoolTriple{})
		}
		triples[idx][pos] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database iteration error: %w", err)
	}
	return triples, nil
}
