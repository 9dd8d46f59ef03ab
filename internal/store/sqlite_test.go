package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sliceline/pizzabot/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStoreSessionRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	chat := models.NewChatID(models.TransportTelegram, "777")

	deadline := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	session := models.ChatSession{
		Chat:            chat,
		State:           models.StatePayment,
		PageCursor:      3,
		NearestPizzeria: "Льва Толстого, 16",
		InvoiceTag:      "tag-1",
		Pending: &models.PendingDelivery{
			Kind:        models.DeliveryCourier,
			Price:       300,
			PizzeriaKey: "Льва Толстого, 16",
			Cash:        true,
			Deadline:    deadline,
		},
	}
	if err := st.SaveSession(session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := st.GetSession(chat)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil for saved session")
	}
	if got.State != models.StatePayment || got.PageCursor != 3 || got.InvoiceTag != "tag-1" {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.Pending == nil || got.Pending.Price != 300 || !got.Pending.Cash {
		t.Fatalf("unexpected pending delivery: %+v", got.Pending)
	}
	if !got.Pending.Deadline.Equal(deadline) {
		t.Errorf("Deadline = %v, want %v", got.Pending.Deadline, deadline)
	}

	// Upsert replaces in place.
	session.State = models.StateUpdateHandler
	session.Pending = nil
	if err := st.SaveSession(session); err != nil {
		t.Fatalf("SaveSession upsert failed: %v", err)
	}
	got, _ = st.GetSession(chat)
	if got.State != models.StateUpdateHandler || got.Pending != nil {
		t.Errorf("upsert did not replace session: %+v", got)
	}
}

func TestSQLiteStoreMissingRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	chat := models.NewChatID(models.TransportMessenger, "123")

	got, err := st.GetSession(chat)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil session, got %+v", got)
	}

	id, err := st.GetCourierMessage(chat, chat)
	if err != nil {
		t.Fatalf("GetCourierMessage failed: %v", err)
	}
	if id != 0 {
		t.Errorf("expected 0 message id, got %d", id)
	}

	if err := st.DeleteSession(chat); err != nil {
		t.Errorf("DeleteSession of missing row failed: %v", err)
	}
	if err := st.DeleteCourierMessage(chat, chat); err != nil {
		t.Errorf("DeleteCourierMessage of missing row failed: %v", err)
	}
}

func TestSQLiteStoreCourierMessages(t *testing.T) {
	st := newTestSQLiteStore(t)
	courier := models.NewChatID(models.TransportTelegram, "900")
	customer := models.NewChatID(models.TransportTelegram, "100")

	if err := st.SaveCourierMessage(courier, customer, 42); err != nil {
		t.Fatalf("SaveCourierMessage failed: %v", err)
	}
	// Saving again replaces the id.
	if err := st.SaveCourierMessage(courier, customer, 43); err != nil {
		t.Fatalf("SaveCourierMessage upsert failed: %v", err)
	}
	id, err := st.GetCourierMessage(courier, customer)
	if err != nil {
		t.Fatalf("GetCourierMessage failed: %v", err)
	}
	if id != 43 {
		t.Errorf("GetCourierMessage = %d, want 43", id)
	}
}

func TestSQLiteStoreListPendingDeliveries(t *testing.T) {
	st := newTestSQLiteStore(t)
	for i, pending := range []*models.PendingDelivery{
		{Kind: models.DeliveryCourier, Deadline: time.Now().Add(time.Hour)},
		nil,
		{Kind: models.DeliveryPickup},
	} {
		session := models.ChatSession{
			Chat:    models.NewChatID(models.TransportTelegram, string(rune('a'+i))),
			State:   models.StateUpdateHandler,
			Pending: pending,
		}
		if err := st.SaveSession(session); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	pending, err := st.ListPendingDeliveries()
	if err != nil {
		t.Fatalf("ListPendingDeliveries failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("ListPendingDeliveries returned %d sessions, want 2", len(pending))
	}
	for _, session := range pending {
		if session.Pending == nil {
			t.Errorf("session %s listed without pending delivery", session.Chat)
		}
	}
}
