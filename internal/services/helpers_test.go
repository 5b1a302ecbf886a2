package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-wa-commerce/internal/ai"
	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/repo"
	"github.com/tbourn/go-wa-commerce/internal/whatsapp"
)

// newTestDB opens a unique in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Shared-cache memory databases report table locks instead of waiting;
	// a single connection serializes concurrent workers.
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

type sentMessage struct {
	PhoneNumberID, To, Text, ImageURL string
	Creds                             whatsapp.Creds
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, pn, to, text string, creds whatsapp.Creds) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{PhoneNumberID: pn, To: to, Text: text, Creds: creds})
	return f.err
}

func (f *fakeSender) SendImage(_ context.Context, pn, to, url, caption string, creds whatsapp.Creds) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{PhoneNumberID: pn, To: to, Text: caption, ImageURL: url, Creds: creds})
	return f.err
}

func (f *fakeSender) all() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	all := f.all()
	if len(all) == 0 {
		t.Fatalf("nothing was sent")
	}
	return all[len(all)-1]
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls []ai.GenerateRequest
	res   *ai.GenerateResult
	err   error
}

func (f *fakeCompleter) Generate(_ context.Context, req ai.GenerateRequest) (*ai.GenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.res == nil {
		return &ai.GenerateResult{Response: "Hello!"}, nil
	}
	r := *f.res
	return &r, nil
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var errAIDown = errors.New("ai down")

const (
	testPhone = "221770000001"
	testPN    = "PN-MERCHANT"
)

func seedMerchant(t *testing.T, db *gorm.DB, m *domain.Merchant) *domain.Merchant {
	t.Helper()
	if err := repo.CreateMerchant(context.Background(), db, m); err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	return m
}

func seedCatalog(t *testing.T, db *gorm.DB, merchantID string, items ...domain.CatalogItem) {
	t.Helper()
	if _, err := repo.ReplaceCatalog(context.Background(), db, merchantID, items); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
}

func textMsg(pn, text string) whatsapp.InboundMessage {
	return whatsapp.InboundMessage{
		PhoneNumberID: pn,
		MessageID:     "wamid." + uuid.NewString(),
		From:          testPhone,
		ContactName:   "Awa",
		Type:          whatsapp.TypeText,
		Text:          text,
	}
}

func locationMsg(pn string) whatsapp.InboundMessage {
	return whatsapp.InboundMessage{
		PhoneNumberID: pn,
		MessageID:     "wamid." + uuid.NewString(),
		From:          testPhone,
		Type:          whatsapp.TypeLocation,
		Location:      &whatsapp.LocationPayload{Latitude: 14.6928, Longitude: -17.4467, Name: "Plateau", Address: "Dakar"},
	}
}

func countOrders(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Order{}).Count(&n).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	return n
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
