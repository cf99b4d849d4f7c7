package whatsapp

import (
	"fmt"
	"log/slog"
	"sync"
)

// ConnectionManager tracks live WhatsApp client connections by account ID.
// Lookups by connected number are also supported so inbound traffic can be
// routed back to the account that owns the bot number.
type ConnectionManager struct {
	mu        sync.RWMutex
	byAccount map[string]*Client
	byNumber  map[string]string // connected number -> account ID
}

// NewConnectionManager creates an empty connection manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byAccount: make(map[string]*Client),
		byNumber:  make(map[string]string),
	}
}

// Register associates a connected client with an account. A previous
// registration for the same account is replaced.
func (m *ConnectionManager) Register(accountID string, client *Client) error {
	if accountID == "" {
		return fmt.Errorf("account ID cannot be empty")
	}
	if client == nil {
		return fmt.Errorf("client cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.byAccount[accountID]; ok {
		if num := old.OwnNumber(); num != "" {
			delete(m.byNumber, num)
		}
	}
	m.byAccount[accountID] = client
	if num := client.OwnNumber(); num != "" {
		m.byNumber[num] = accountID
	}
	slog.Info("ConnectionManager registered client", "account_id", accountID, "number", client.OwnNumber())
	return nil
}

// Deregister removes the connection for an account and disconnects it.
func (m *ConnectionManager) Deregister(accountID string) {
	m.mu.Lock()
	client, ok := m.byAccount[accountID]
	if ok {
		delete(m.byAccount, accountID)
		if num := client.OwnNumber(); num != "" {
			delete(m.byNumber, num)
		}
	}
	m.mu.Unlock()

	if ok {
		client.Disconnect()
		slog.Info("ConnectionManager deregistered client", "account_id", accountID)
	}
}

// Get returns the client registered for an account.
func (m *ConnectionManager) Get(accountID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.byAccount[accountID]
	return client, ok
}

// GetByNumber returns the client whose logged-in number matches.
func (m *ConnectionManager) GetByNumber(number string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	accountID, ok := m.byNumber[number]
	if !ok {
		return nil, false
	}
	client, ok := m.byAccount[accountID]
	return client, ok
}

// Accounts returns the IDs of all registered accounts.
func (m *ConnectionManager) Accounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byAccount))
	for id := range m.byAccount {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown disconnects and removes every registered client.
func (m *ConnectionManager) Shutdown() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.byAccount))
	for _, c := range m.byAccount {
		clients = append(clients, c)
	}
	m.byAccount = make(map[string]*Client)
	m.byNumber = make(map[string]string)
	m.mu.Unlock()

	for _, c := range clients {
		c.Disconnect()
	}
	slog.Info("ConnectionManager shut down", "disconnected", len(clients))
}
