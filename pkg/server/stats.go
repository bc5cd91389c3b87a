package server

import (
	"fmt"
	"math"
	"sort"
)

// statsWindow bounds how much history a stats query walks.
const statsWindow = 100

// UserStats summarizes an identity's recent betting record. WinRate is a
// rounded integer percent.
type UserStats struct {
	UserID        string `json:"userId"`
	TotalGames    int    `json:"totalGames"`
	Wins          int    `json:"wins"`
	Losses        int    `json:"losses"`
	WinRate       int    `json:"winRate"`
	CurrentStreak int    `json:"currentStreak"`
	MaxStreak     int    `json:"maxStreak"`
	TotalEarned   int64  `json:"totalEarned"`
	TotalLost     int64  `json:"totalLost"`
}

// ComputeUserStats derives win/loss figures from the identity's archived
// outcomes. Zero-amount entries are skipped; only real wagers count toward
// streaks and rates.
func ComputeUserStats(database Database, userID string) (*UserStats, error) {
	rounds, err := database.RoundsByUser(userID, statsWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load rounds for %s: %w", userID, err)
	}

	stats := &UserStats{UserID: userID}

	// rounds is newest first. The current streak counts consecutive wins from
	// the most recent outcome down to the first loss.
	counting := true
	for _, r := range rounds {
		if r.Amount <= 0 {
			continue
		}
		stats.TotalGames++
		if r.Won {
			stats.Wins++
			stats.TotalEarned += r.Payout
			if counting {
				stats.CurrentStreak++
			}
		} else {
			stats.Losses++
			stats.TotalLost += r.Amount
			counting = false
		}
	}

	// Max streak wants chronological order, so walk the window oldest first.
	streak := 0
	for i := len(rounds) - 1; i >= 0; i-- {
		r := rounds[i]
		if r.Amount <= 0 {
			continue
		}
		if r.Won {
			streak++
			if streak > stats.MaxStreak {
				stats.MaxStreak = streak
			}
		} else {
			streak = 0
		}
	}

	if stats.TotalGames > 0 {
		stats.WinRate = int(math.Round(float64(stats.Wins) / float64(stats.TotalGames) * 100))
	}
	return stats, nil
}

// LeaderboardEntry is one row of the ranked player list.
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PfpURL      string `json:"pfpUrl"`
	Chips       int64  `json:"chips"`
	Wins        int    `json:"wins"`
	WinRate     int    `json:"winRate"`
	Streak      int    `json:"currentStreak"`
	MaxStreak   int    `json:"maxStreak"`
}

// Leaderboard ranks authenticated users by the requested metric: "chips",
// "wins", "winRate" or "streak". Unknown metrics fall back to chips. The
// chips board considers only users still holding chips; the record-based
// boards consider every authenticated user who has played at least one
// funded round, so a bust player's wins still show. The streak board ranks
// by best streak ever, not the live one.
func Leaderboard(database Database, metric string, limit int) ([]*LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	switch metric {
	case "wins", "winRate", "streak":
	default:
		users, err := database.TopUsersByChips(limit)
		if err != nil {
			return nil, fmt.Errorf("failed to load leaderboard users: %w", err)
		}
		entries := make([]*LeaderboardEntry, 0, len(users))
		for _, u := range users {
			entries = append(entries, &LeaderboardEntry{
				UserID:      u.ID,
				Username:    u.Username,
				DisplayName: u.DisplayName,
				PfpURL:      u.PfpURL,
				Chips:       u.Chips,
			})
		}
		return entries, nil
	}

	users, err := database.AuthenticatedUsers()
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard users: %w", err)
	}

	entries := make([]*LeaderboardEntry, 0, len(users))
	for _, u := range users {
		stats, err := ComputeUserStats(database, u.ID)
		if err != nil {
			return nil, err
		}
		if stats.TotalGames == 0 {
			continue
		}
		entries = append(entries, &LeaderboardEntry{
			UserID:      u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			PfpURL:      u.PfpURL,
			Chips:       u.Chips,
			Wins:        stats.Wins,
			WinRate:     stats.WinRate,
			Streak:      stats.CurrentStreak,
			MaxStreak:   stats.MaxStreak,
		})
	}

	switch metric {
	case "wins":
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Wins > entries[j].Wins })
	case "winRate":
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].WinRate > entries[j].WinRate })
	case "streak":
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].MaxStreak > entries[j].MaxStreak })
	}

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
