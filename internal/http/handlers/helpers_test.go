package handlers

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-wa-commerce/internal/ai"
	"github.com/tbourn/go-wa-commerce/internal/repo"
	"github.com/tbourn/go-wa-commerce/internal/whatsapp"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type sent struct {
	PhoneNumberID, To, Text string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (f *fakeSender) SendMessage(_ context.Context, pn, to, text string, _ whatsapp.Creds) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{pn, to, text})
	return nil
}

func (f *fakeSender) SendImage(_ context.Context, pn, to, _, caption string, _ whatsapp.Creds) error {
	return f.SendMessage(context.Background(), pn, to, caption, whatsapp.Creds{})
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

type fakeCompleter struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (f *fakeCompleter) Generate(_ context.Context, _ ai.GenerateRequest) (*ai.GenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &ai.GenerateResult{Response: f.reply}, nil
}

// recordingDispatcher captures dispatched batches.
type recordingDispatcher struct {
	mu      sync.Mutex
	batches [][]whatsapp.InboundMessage
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msgs []whatsapp.InboundMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, msgs)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

const webhookBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "metadata": {"display_phone_number": "221338000000", "phone_number_id": "PN-FATOU"},
        "contacts": [{"profile": {"name": "Awa"}, "wa_id": "221770000001"}],
        "messages": [
          {"from": "221770000001", "id": "wamid.HBg1", "timestamp": "1717000000", "type": "text", "text": {"body": "Bonjour"}}
        ]
      }
    }]
  }]
}`
