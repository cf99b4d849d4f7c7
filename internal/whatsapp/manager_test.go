package whatsapp

import "testing"

func TestConnectionManagerRegisterAndGet(t *testing.T) {
	m := NewConnectionManager()

	if err := m.Register("", &Client{}); err == nil {
		t.Error("expected error for empty account ID")
	}
	if err := m.Register("acct-1", nil); err == nil {
		t.Error("expected error for nil client")
	}

	client := &Client{}
	if err := m.Register("acct-1", client); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, ok := m.Get("acct-1")
	if !ok || got != client {
		t.Error("expected registered client back")
	}
	if _, ok := m.Get("acct-2"); ok {
		t.Error("expected no client for unknown account")
	}

	accounts := m.Accounts()
	if len(accounts) != 1 || accounts[0] != "acct-1" {
		t.Errorf("unexpected accounts: %v", accounts)
	}
}

func TestConnectionManagerDeregister(t *testing.T) {
	m := NewConnectionManager()
	if err := m.Register("acct-1", &Client{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	m.Deregister("acct-1")
	if _, ok := m.Get("acct-1"); ok {
		t.Error("client should be gone after deregister")
	}

	// Deregistering an unknown account is a no-op.
	m.Deregister("acct-2")
}

func TestConnectionManagerShutdown(t *testing.T) {
	m := NewConnectionManager()
	for _, id := range []string{"a", "b", "c"} {
		if err := m.Register(id, &Client{}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	m.Shutdown()
	if len(m.Accounts()) != 0 {
		t.Errorf("expected no accounts after shutdown, got %v", m.Accounts())
	}
}
