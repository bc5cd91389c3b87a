package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestCreateUserIdempotent(t *testing.T) {
	database := newTestDB(t)

	u, err := database.CreateUser("42", true, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), u.Chips)
	assert.True(t, u.Authenticated)

	// A second create must not reset the balance.
	_, err = database.CreditUser("42", 500, "credit", "manual")
	require.NoError(t, err)
	u, err = database.CreateUser("42", true, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), u.Chips)
}

func TestGetUserNotFound(t *testing.T) {
	database := newTestDB(t)

	_, err := database.GetUser("missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = database.GetUserBalance("missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreditAndDebit(t *testing.T) {
	database := newTestDB(t)
	_, err := database.CreateUser("42", true, 1000)
	require.NoError(t, err)

	balance, err := database.CreditUser("42", 250, "credit", "manual")
	require.NoError(t, err)
	assert.Equal(t, int64(1250), balance)

	balance, err = database.DebitUser("42", 400, "bet", "bet on andar")
	require.NoError(t, err)
	assert.Equal(t, int64(850), balance)
}

func TestDebitInsufficientLeavesBalanceUntouched(t *testing.T) {
	database := newTestDB(t)
	_, err := database.CreateUser("42", true, 100)
	require.NoError(t, err)

	_, err = database.DebitUser("42", 101, "bet", "too much")
	assert.ErrorIs(t, err, ErrInsufficientChips)

	balance, err := database.GetUserBalance("42")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestDebitUnknownUser(t *testing.T) {
	database := newTestDB(t)

	_, err := database.DebitUser("missing", 10, "bet", "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreditCreatesRow(t *testing.T) {
	database := newTestDB(t)

	balance, err := database.CreditUser("u_new", 50, "credit", "manual")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

func TestMergeUsersMovesBalanceAndDeletesSource(t *testing.T) {
	database := newTestDB(t)
	_, err := database.CreateUser("u_anon", false, 0)
	require.NoError(t, err)
	_, err = database.CreditUser("u_anon", 300, "credit", "manual")
	require.NoError(t, err)
	_, err = database.CreateUser("42", true, 1000)
	require.NoError(t, err)

	balance, err := database.MergeUsers("u_anon", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(1300), balance)

	_, err = database.GetUser("u_anon")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMergeUsersCreatesTarget(t *testing.T) {
	database := newTestDB(t)
	_, err := database.CreateUser("u_anon", false, 0)
	require.NoError(t, err)
	_, err = database.CreditUser("u_anon", 120, "credit", "manual")
	require.NoError(t, err)

	balance, err := database.MergeUsers("u_anon", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(120), balance)

	u, err := database.GetUser("42")
	require.NoError(t, err)
	assert.True(t, u.Authenticated)
}

func TestMergeUsersMissingSource(t *testing.T) {
	database := newTestDB(t)
	_, err := database.CreateUser("42", true, 1000)
	require.NoError(t, err)

	balance, err := database.MergeUsers("u_never_seen", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestUpsertProfilePreservesChips(t *testing.T) {
	database := newTestDB(t)
	_, err := database.CreateUser("42", true, 1000)
	require.NoError(t, err)
	_, err = database.DebitUser("42", 400, "bet", "")
	require.NoError(t, err)

	u, err := database.UpsertProfile("42", Profile{Username: "alice", DisplayName: "Alice"}, 1000)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, int64(600), u.Chips)
}

func TestSaveRoundAndRoundsByUser(t *testing.T) {
	database := newTestDB(t)

	for n := int64(1); n <= 3; n++ {
		won := n != 2
		payout := int64(0)
		if won {
			payout = 190
		}
		err := database.SaveRound(&RoundRecord{
			Number: n, Joker: "7♥", Winner: "andar",
			PotAndar: 100, DrawnCards: "[]",
		}, []*RoundPlayer{{
			RoundNumber: n, UserID: "42", Side: "andar",
			Amount: 100, Won: won, Payout: payout,
		}})
		require.NoError(t, err)
	}

	rounds, err := database.RoundsByUser("42", 10)
	require.NoError(t, err)
	require.Len(t, rounds, 3)
	// Newest first.
	assert.Equal(t, int64(3), rounds[0].RoundNumber)
	assert.Equal(t, int64(1), rounds[2].RoundNumber)
	assert.False(t, rounds[1].Won)

	rounds, err = database.RoundsByUser("42", 2)
	require.NoError(t, err)
	assert.Len(t, rounds, 2)
}

func TestSaveRoundStoresStartedAt(t *testing.T) {
	database := newTestDB(t)

	err := database.SaveRound(&RoundRecord{
		Number: 1, Joker: "7♥", Winner: "andar",
		DrawnCards: "[]", StartedAt: "2026-09-01T12:00:00Z",
	}, nil)
	require.NoError(t, err)

	var started string
	err = database.QueryRow(`SELECT started_at FROM rounds WHERE number = 1`).Scan(&started)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01T12:00:00Z", started)
}

func TestTopUsersByChips(t *testing.T) {
	database := newTestDB(t)
	_, err := database.CreateUser("1", true, 100)
	require.NoError(t, err)
	_, err = database.CreateUser("2", true, 300)
	require.NoError(t, err)
	_, err = database.CreateUser("u_anon", false, 0)
	require.NoError(t, err)
	_, err = database.CreditUser("u_anon", 9999, "credit", "manual")
	require.NoError(t, err)

	users, err := database.TopUsersByChips(10)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "2", users[0].ID)
	assert.Equal(t, "1", users[1].ID)
}
