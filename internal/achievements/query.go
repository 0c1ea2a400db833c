package achievements

import (
	"sort"
)

// UserAchievement is an earned achievement as shown to users.
type UserAchievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Tier        Tier   `json:"tier"`
	EarnedAt    string `json:"earned_at"`
}

// UserAchievements lists what user has earned, rarest tier first, then by
// earn time.
func (s *Store) UserAchievements(user string) []UserAchievement {
	earned, ok := s.Users[user]
	if !ok {
		return []UserAchievement{}
	}
	list := make([]UserAchievement, 0, len(earned))
	for id, e := range earned {
		def := Lookup(id)
		list = append(list, UserAchievement{
			ID:          id,
			Name:        def.Name,
			Description: def.Description,
			Icon:        def.Icon,
			Tier:        def.Tier,
			EarnedAt:    e.EarnedAt,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		ri, rj := list[i].Tier.rank(), list[j].Tier.rank()
		if ri != rj {
			return ri < rj
		}
		if list[i].EarnedAt != list[j].EarnedAt {
			return list[i].EarnedAt < list[j].EarnedAt
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// UserCount is one entry of the leaderboard.
type UserCount struct {
	User  string `json:"user"`
	Count int    `json:"count"`
}

// Summary aggregates the whole store.
type Summary struct {
	TotalEarned  int            `json:"total_achievements_earned"`
	TotalUsers   int            `json:"total_users_with_achievements"`
	Distribution map[string]int `json:"achievement_distribution"`
	TopAchievers []UserCount    `json:"top_achievers"`
}

// Summarize counts achievements per id and returns the ten users holding the
// most.
func (s *Store) Summarize() Summary {
	sum := Summary{Distribution: map[string]int{}, TopAchievers: []UserCount{}}
	for user, earned := range s.Users {
		sum.TotalEarned += len(earned)
		sum.TopAchievers = append(sum.TopAchievers, UserCount{User: user, Count: len(earned)})
		for id := range earned {
			sum.Distribution[id]++
		}
	}
	sum.TotalUsers = len(s.Users)
	sort.Slice(sum.TopAchievers, func(i, j int) bool {
		if sum.TopAchievers[i].Count != sum.TopAchievers[j].Count {
			return sum.TopAchievers[i].Count > sum.TopAchievers[j].Count
		}
		return sum.TopAchievers[i].User < sum.TopAchievers[j].User
	})
	if len(sum.TopAchievers) > 10 {
		sum.TopAchievers = sum.TopAchievers[:10]
	}
	return sum
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
