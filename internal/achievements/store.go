package achievements

import (
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/mycoool/gpuhub/internal/stats"
)

// Earned records when a user earned an achievement.
type Earned struct {
	EarnedAt    string     `json:"earned_at"`
	Achievement Definition `json:"achievement"`
}

// Store is the achievements file: earned achievements per canonical user.
type Store struct {
	Users     map[string]map[string]Earned `json:"users"`
	UpdatedAt *string                      `json:"updated_at"`
}

// Award is one achievement granted during a check.
type Award struct {
	User          string     `json:"user"`
	AchievementID string     `json:"achievement_id"`
	Achievement   Definition `json:"achievement"`
	Timestamp     string     `json:"timestamp"`
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{Users: map[string]map[string]Earned{}}
}

// Load reads the store at path. Missing or corrupt files yield an empty
// store; corruption is logged.
func Load(path string) *Store {
	s := NewStore()
	if err := stats.ReadJSON(path, s); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("achievements: failed to load %s: %v", path, err)
		}
		return NewStore()
	}
	if s.Users == nil {
		s.Users = map[string]map[string]Earned{}
	}
	for u, ua := range s.Users {
		if ua == nil {
			log.Printf("achievements: dropping empty entry for %s in %s", u, path)
			delete(s.Users, u)
		}
	}
	return s
}

// Save stamps the store and writes it to path.
func (s *Store) Save(path string, now time.Time) error {
	ts := stats.Timestamp(now)
	s.UpdatedAt = &ts
	return stats.WriteJSON(path, s)
}

// Has reports whether user already holds id.
func (s *Store) Has(user, id string) bool {
	_, ok := s.Users[user][id]
	return ok
}

// award grants id to user unless already held and reports whether it was new.
func (s *Store) award(user, id, ts string) (Award, bool) {
	if s.Has(user, id) {
		return Award{}, false
	}
	ua := s.Users[user]
	if ua == nil {
		ua = map[string]Earned{}
		s.Users[user] = ua
	}
	def := Lookup(id)
	ua[id] = Earned{EarnedAt: ts, Achievement: def}
	return Award{User: user, AchievementID: id, Achievement: def, Timestamp: ts}, true
}
