package engine

import (
	"context"
	"strconv"

	"golang.org/x/sync/singleflight"

	"taskquest/internal/domain"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// Leaderboard returns the top profiles by balance. Ties keep profile creation
// order. Concurrent calls with the same limit share one read.
func (e Engine) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	if e.leaders == nil {
		return e.readLeaderboard(ctx, limit)
	}
	// The shared read outlives any one caller; each caller still stops
	// waiting when its own context ends.
	ch := e.leaders.DoChan(strconv.Itoa(limit), func() (any, error) {
		return e.readLeaderboard(context.WithoutCancel(ctx), limit)
	})
	var r singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-ch:
	}
	if r.Err != nil {
		return nil, r.Err
	}
	shared := r.Val.([]domain.LeaderboardEntry)
	out := make([]domain.LeaderboardEntry, len(shared))
	copy(out, shared)
	return out, nil
}

func (e Engine) readLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	profiles, err := e.Repo.TopProfiles(ctx, nil, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.LeaderboardEntry, 0, len(profiles))
	for i, p := range profiles {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:         i + 1,
			ProfileID:    p.ID,
			Nickname:     p.Nickname,
			Balance:      p.Balance,
			SelectedItem: p.SelectedItem,
		})
	}
	return entries, nil
}
