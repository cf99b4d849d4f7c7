package store

import (
	"sync"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/models"
)

// InMemoryStore is a simple in-memory store used by tests and option-less
// bootstraps. All methods are safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
	flows    map[string]models.Flow
	trackers map[string]models.Tracker
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[string]models.Account),
		flows:    make(map[string]models.Flow),
		trackers: make(map[string]models.Tracker),
	}
}

func (s *InMemoryStore) GetAccountByNumber(connectedNumber string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.ConnectedNumber == connectedNumber {
			copied := a
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) SaveAccount(a models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

func (s *InMemoryStore) SetAccountConnection(accountID, connectedNumber string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil
	}
	a.ConnectedNumber = connectedNumber
	a.WhatsAppActive = active
	s.accounts[accountID] = a
	return nil
}

func (s *InMemoryStore) SaveFlow(f models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = f
	return nil
}

func (s *InMemoryStore) GetFlow(id string) (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (s *InMemoryStore) ListFlowsByAccount(accountID string) ([]models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var flows []models.Flow
	for _, f := range s.flows {
		if f.AccountID == accountID {
			flows = append(flows, f)
		}
	}
	return flows, nil
}

func (s *InMemoryStore) DeleteFlow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, id)
	return nil
}

func (s *InMemoryStore) GetTracker(phoneNumber, botNumber string) (*models.Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.trackers {
		if t.PhoneNumber == phoneNumber && t.BotNumber == botNumber {
			copied := t
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetTrackerByID(id string) (*models.Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trackers[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *InMemoryStore) CreateTracker(t models.Tracker) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackers[t.ID] = t
	return nil
}

func (s *InMemoryStore) UpdateTracker(t models.Tracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackers[t.ID] = t
	return nil
}

func (s *InMemoryStore) ListTrackers() ([]models.Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trackers := make([]models.Tracker, 0, len(s.trackers))
	for _, t := range s.trackers {
		trackers = append(trackers, t)
	}
	return trackers, nil
}

func (s *InMemoryStore) ListTrackersForConversation(phoneNumber, botNumber string) ([]models.Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var trackers []models.Tracker
	for _, t := range s.trackers {
		if t.PhoneNumber == phoneNumber && t.BotNumber == botNumber {
			trackers = append(trackers, t)
		}
	}
	return trackers, nil
}

func (s *InMemoryStore) SetTrackerActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[id]
	if !ok {
		return nil
	}
	t.IsActive = active
	s.trackers[id] = t
	return nil
}

func (s *InMemoryStore) SetTrackerReactivateAt(id string, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[id]
	if !ok {
		return nil
	}
	t.ReactivateAt = at
	s.trackers[id] = t
	return nil
}

func (s *InMemoryStore) ListPendingReactivations() ([]models.Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var trackers []models.Tracker
	for _, t := range s.trackers {
		if t.ReactivateAt != nil {
			trackers = append(trackers, t)
		}
	}
	return trackers, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
