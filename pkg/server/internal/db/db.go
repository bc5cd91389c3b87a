package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrUserNotFound is returned when no user row exists for an identity key.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientChips is returned when a conditional debit would drive a
	// balance negative. The balance is left untouched.
	ErrInsufficientChips = errors.New("insufficient chips")
)

// User is one balance-holding identity, either externally authenticated or
// locally generated. Rows are created on first contact and never deleted
// except when an anonymous identity is merged away.
type User struct {
	ID            string
	Username      string
	DisplayName   string
	PfpURL        string
	Bio           string
	Location      string
	Authenticated bool
	Chips         int64
	CreatedAt     string
	UpdatedAt     string
}

// Profile carries the optional display fields attached to an authenticated
// identity.
type Profile struct {
	Username    string
	DisplayName string
	PfpURL      string
	Bio         string
	Location    string
}

// RoundRecord is one finished round as archived to the history store.
type RoundRecord struct {
	Number     int64
	Joker      string // card id, e.g. "7♥"
	Winner     string
	PotAndar   int64
	PotBahar   int64
	DrawnCards string // JSON array of drawn cards
	StartedAt  string
	FinishedAt string
}

// RoundPlayer is one identity's outcome in an archived round.
type RoundPlayer struct {
	RoundNumber int64
	UserID      string
	Side        string
	Amount      int64
	Won         bool
	Payout      int64
}

// DB wraps the sqlite connection backing the ledger and history stores.
type DB struct {
	*sql.DB
}

// NewDB opens (and if needed creates) the sqlite database at path.
func NewDB(dbPath string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{sqlDB}, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT,
			display_name TEXT,
			pfp_url TEXT,
			bio TEXT,
			location TEXT,
			authenticated INTEGER NOT NULL DEFAULT 0,
			chips INTEGER NOT NULL DEFAULT 0 CHECK (chips >= 0),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			type TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			number INTEGER PRIMARY KEY,
			joker TEXT NOT NULL,
			winner TEXT,
			pot_andar INTEGER NOT NULL DEFAULT 0,
			pot_bahar INTEGER NOT NULL DEFAULT 0,
			drawn_cards TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS round_players (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			round_number INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			side TEXT NOT NULL,
			amount INTEGER NOT NULL,
			won INTEGER NOT NULL,
			payout INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_round_players_user ON round_players(user_id, round_number)`,
		`CREATE INDEX IF NOT EXISTS idx_round_players_round ON round_players(round_number)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const userColumns = `id, username, display_name, pfp_url, bio, location, authenticated, chips, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var username, displayName, pfpURL, bio, location sql.NullString
	err := row.Scan(&u.ID, &username, &displayName, &pfpURL, &bio, &location,
		&u.Authenticated, &u.Chips, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Username = username.String
	u.DisplayName = displayName.String
	u.PfpURL = pfpURL.String
	u.Bio = bio.String
	u.Location = location.String
	return &u, nil
}

// GetUser returns the user row for an identity key.
func (db *DB) GetUser(id string) (*User, error) {
	return scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// CreateUser inserts a user on first contact. An existing row is left alone
// and returned as-is.
func (db *DB) CreateUser(id string, authenticated bool, startingChips int64) (*User, error) {
	_, err := db.Exec(`
		INSERT INTO users (id, authenticated, chips)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, authenticated, startingChips)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return db.GetUser(id)
}

// UpsertProfile writes profile fields onto an authenticated identity,
// creating the row (with startingChips) if it does not exist yet.
func (db *DB) UpsertProfile(id string, p Profile, startingChips int64) (*User, error) {
	_, err := db.Exec(`
		INSERT INTO users (id, username, display_name, pfp_url, bio, location, authenticated, chips)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			pfp_url = excluded.pfp_url,
			bio = excluded.bio,
			location = excluded.location,
			authenticated = 1,
			updated_at = CURRENT_TIMESTAMP
	`, id, p.Username, p.DisplayName, p.PfpURL, p.Bio, p.Location, startingChips)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return db.GetUser(id)
}

// GetUserBalance returns the current chip balance of a user.
func (db *DB) GetUserBalance(id string) (int64, error) {
	var chips int64
	err := db.QueryRow(`SELECT chips FROM users WHERE id = ?`, id).Scan(&chips)
	if err == sql.ErrNoRows {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return chips, nil
}

// CreditUser atomically adds amount to a user's balance and appends the
// delta to the transaction log. The balance is never read-modified-written,
// so concurrent deltas compose at the store. Returns the resulting balance.
func (db *DB) CreditUser(id string, amount int64, txType, description string) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO users (id, chips)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET chips = chips + ?, updated_at = CURRENT_TIMESTAMP
	`, id, amount, amount)
	if err != nil {
		return 0, err
	}

	if err := appendTransaction(tx, id, amount, txType, description); err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRow(`SELECT chips FROM users WHERE id = ?`, id).Scan(&balance); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// DebitUser atomically subtracts amount from a user's balance, refusing the
// whole operation when the balance is short. Exactly one of "debit applied
// and logged" or "nothing changed" holds afterwards. Returns the resulting
// balance.
func (db *DB) DebitUser(id string, amount int64, txType, description string) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE users SET chips = chips - ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND chips >= ?
	`, amount, id, amount)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRow(`SELECT 1 FROM users WHERE id = ?`, id).Scan(&exists); err == sql.ErrNoRows {
			return 0, ErrUserNotFound
		} else if err != nil {
			return 0, err
		}
		return 0, ErrInsufficientChips
	}

	if err := appendTransaction(tx, id, -amount, txType, description); err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRow(`SELECT chips FROM users WHERE id = ?`, id).Scan(&balance); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// MergeUsers folds fromID's balance into toID inside a single transaction:
// toID ends up with the sum, fromID's row is deleted, both legs are logged.
// There is no observable intermediate state. Returns toID's balance after
// the merge.
func (db *DB) MergeUsers(fromID, toID string) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var fromChips int64
	err = tx.QueryRow(`SELECT chips FROM users WHERE id = ?`, fromID).Scan(&fromChips)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	hadFrom := err == nil

	_, err = tx.Exec(`
		INSERT INTO users (id, authenticated, chips)
		VALUES (?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			chips = chips + ?,
			authenticated = 1,
			updated_at = CURRENT_TIMESTAMP
	`, toID, fromChips, fromChips)
	if err != nil {
		return 0, err
	}

	if hadFrom {
		if _, err := tx.Exec(`DELETE FROM users WHERE id = ?`, fromID); err != nil {
			return 0, err
		}
		if fromChips > 0 {
			if err := appendTransaction(tx, fromID, -fromChips, "merge", fmt.Sprintf("merged into %s", toID)); err != nil {
				return 0, err
			}
			if err := appendTransaction(tx, toID, fromChips, "merge", fmt.Sprintf("merged from %s", fromID)); err != nil {
				return 0, err
			}
		}
	}

	var balance int64
	if err := tx.QueryRow(`SELECT chips FROM users WHERE id = ?`, toID).Scan(&balance); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func appendTransaction(tx *sql.Tx, userID string, amount int64, txType, description string) error {
	_, err := tx.Exec(`
		INSERT INTO transactions (user_id, amount, type, description)
		VALUES (?, ?, ?, ?)
	`, userID, amount, txType, description)
	return err
}

// SaveRound archives a finished round together with every player outcome in
// one transaction. Rounds with no players are archived too, keeping the
// sequence unbroken for all observers.
func (db *DB) SaveRound(r *RoundRecord, players []*RoundPlayer) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO rounds (number, joker, winner, pot_andar, pot_bahar, drawn_cards, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			winner = excluded.winner,
			pot_andar = excluded.pot_andar,
			pot_bahar = excluded.pot_bahar,
			drawn_cards = excluded.drawn_cards,
			started_at = excluded.started_at,
			finished_at = CURRENT_TIMESTAMP
	`, r.Number, r.Joker, r.Winner, r.PotAndar, r.PotBahar, r.DrawnCards, r.StartedAt)
	if err != nil {
		return err
	}

	for _, p := range players {
		_, err = tx.Exec(`
			INSERT INTO round_players (round_number, user_id, side, amount, won, payout)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.Number, p.UserID, p.Side, p.Amount, p.Won, p.Payout)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RoundsByUser returns the user's archived outcomes, newest round first.
func (db *DB) RoundsByUser(userID string, limit int) ([]*RoundPlayer, error) {
	rows, err := db.Query(`
		SELECT round_number, user_id, side, amount, won, payout
		FROM round_players
		WHERE user_id = ?
		ORDER BY round_number DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RoundPlayer
	for rows.Next() {
		var p RoundPlayer
		if err := rows.Scan(&p.RoundNumber, &p.UserID, &p.Side, &p.Amount, &p.Won, &p.Payout); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// TopUsersByChips returns authenticated users holding chips, richest first.
func (db *DB) TopUsersByChips(limit int) ([]*User, error) {
	return db.queryUsers(`
		SELECT `+userColumns+` FROM users
		WHERE authenticated = 1 AND chips > 0
		ORDER BY chips DESC
		LIMIT ?
	`, limit)
}

// AuthenticatedUsers returns every externally-authenticated user.
func (db *DB) AuthenticatedUsers() ([]*User, error) {
	return db.queryUsers(`SELECT ` + userColumns + ` FROM users WHERE authenticated = 1`)
}

func (db *DB) queryUsers(query string, args ...any) ([]*User, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		var u User
		var username, displayName, pfpURL, bio, location sql.NullString
		err := rows.Scan(&u.ID, &username, &displayName, &pfpURL, &bio, &location,
			&u.Authenticated, &u.Chips, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, err
		}
		u.Username = username.String
		u.DisplayName = displayName.String
		u.PfpURL = pfpURL.String
		u.Bio = bio.String
		u.Location = location.String
		out = append(out, &u)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
