package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/stacksgame/stacks-server/pkg/server/internal/db"
)

// Database defines the persistence operations the orchestrator depends on:
// the chip ledger (atomic deltas plus an append-only transaction log) and the
// round history store.
type Database interface {
	// GetUser returns the user record for an identity key.
	GetUser(id string) (*db.User, error)
	// CreateUser inserts a user on first contact; existing rows are returned
	// unchanged.
	CreateUser(id string, authenticated bool, startingChips int64) (*db.User, error)
	// UpsertProfile writes profile metadata onto an authenticated identity.
	UpsertProfile(id string, p db.Profile, startingChips int64) (*db.User, error)
	// GetUserBalance returns the current chip balance.
	GetUserBalance(id string) (int64, error)
	// CreditUser atomically adds amount and records the transaction,
	// returning the resulting balance.
	CreditUser(id string, amount int64, txType, description string) (int64, error)
	// DebitUser atomically subtracts amount, failing with
	// db.ErrInsufficientChips rather than going negative. Returns the
	// resulting balance.
	DebitUser(id string, amount int64, txType, description string) (int64, error)
	// MergeUsers moves fromID's balance onto toID in a single store-level
	// transaction and deletes fromID. Returns toID's resulting balance.
	MergeUsers(fromID, toID string) (int64, error)

	// SaveRound appends a finished round and its player outcomes to history.
	SaveRound(r *db.RoundRecord, players []*db.RoundPlayer) error
	// RoundsByUser returns a user's archived outcomes, newest first.
	RoundsByUser(userID string, limit int) ([]*db.RoundPlayer, error)
	// TopUsersByChips returns authenticated users ordered by balance.
	TopUsersByChips(limit int) ([]*db.User, error)
	// AuthenticatedUsers returns every externally-authenticated user.
	AuthenticatedUsers() ([]*db.User, error)

	// Close closes the database connection.
	Close() error
}

// NewDatabase creates a sqlite-backed Database at dbPath.
func NewDatabase(dbPath string) (Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	return db.NewDB(dbPath)
}
