package infrastructure

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stakemesh/wallet-client/models"
)

const (
	prefsFileName    = "prefs.json"
	recentIdentities = 5
)

// prefsFile is the single durable slot set for client-side state. One
// fixed namespace, cleared in full on logout.
type prefsFile struct {
	Session       *models.Session   `json:"session,omitempty"`
	CooldownUntil time.Time         `json:"cooldownUntil,omitempty"`
	LastAttemptAt time.Time         `json:"lastAttemptAt,omitempty"`
	SwitchTarget  models.Identity   `json:"switchTarget,omitempty"`
	Recent        []models.Identity `json:"recent,omitempty"`
	GameMode      string            `json:"gameMode,omitempty"`
}

// PrefStore persists the small client-side slots to a JSON file under
// the state directory. Writes go through a temp file and rename so a
// crash mid-write cannot corrupt the namespace.
type PrefStore struct {
	mu   sync.Mutex
	path string
	data prefsFile
}

// NewPrefStore opens (or creates) the store under dir.
func NewPrefStore(dir string) (*PrefStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &PrefStore{path: filepath.Join(dir, prefsFileName)}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		// A corrupt file is treated as empty rather than fatal.
		s.data = prefsFile{}
	}
	return s, nil
}

func (s *PrefStore) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace preferences: %w", err)
	}
	return nil
}

func (s *PrefStore) update(fn func(*prefsFile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
	return s.flushLocked()
}

// SaveSession persists the session to the single durable slot.
func (s *PrefStore) SaveSession(session *models.Session) error {
	return s.update(func(p *prefsFile) { p.Session = session })
}

// LoadSession returns the stored session, nil when none exists. The
// result is a copy; mutating it cannot reach back into the store.
func (s *PrefStore) LoadSession() (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Session == nil {
		return nil, nil
	}
	session := *s.data.Session
	if session.User != nil {
		user := *session.User
		session.User = &user
	}
	return &session, nil
}

// ClearSession drops the stored session only.
func (s *PrefStore) ClearSession() error {
	return s.update(func(p *prefsFile) { p.Session = nil })
}

func (s *PrefStore) SaveCooldownUntil(until time.Time) error {
	return s.update(func(p *prefsFile) { p.CooldownUntil = until })
}

func (s *PrefStore) LoadCooldownUntil() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.CooldownUntil, nil
}

func (s *PrefStore) SaveLastAttemptAt(at time.Time) error {
	return s.update(func(p *prefsFile) { p.LastAttemptAt = at })
}

func (s *PrefStore) LoadLastAttemptAt() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.LastAttemptAt, nil
}

func (s *PrefStore) SaveSwitchTarget(identity models.Identity) error {
	return s.update(func(p *prefsFile) { p.SwitchTarget = identity })
}

func (s *PrefStore) LoadSwitchTarget() (models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SwitchTarget, nil
}

func (s *PrefStore) ClearSwitchTarget() error {
	return s.update(func(p *prefsFile) { p.SwitchTarget = "" })
}

// RecordRecentIdentity puts the identity at the head of the small
// recent-wallets list, deduplicated, capped.
func (s *PrefStore) RecordRecentIdentity(identity models.Identity) error {
	return s.update(func(p *prefsFile) {
		recent := []models.Identity{identity}
		for _, id := range p.Recent {
			if id != identity && len(recent) < recentIdentities {
				recent = append(recent, id)
			}
		}
		p.Recent = recent
	})
}

func (s *PrefStore) RecentIdentities() ([]models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Identity(nil), s.data.Recent...), nil
}

func (s *PrefStore) SaveGameMode(mode string) error {
	return s.update(func(p *prefsFile) { p.GameMode = mode })
}

func (s *PrefStore) GameMode() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.GameMode, nil
}

// ClearAll wipes the whole namespace. Logout calls this.
func (s *PrefStore) ClearAll() error {
	return s.update(func(p *prefsFile) { *p = prefsFile{} })
}
