package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/resilience"
	"github.com/tbourn/go-wa-commerce/internal/whatsapp"
)

type recordingProcessor struct {
	mu        sync.Mutex
	merchants []*domain.Merchant
	texts     []string
	panicWith any
	delay     time.Duration
	active    int32
	maxActive int32
}

func (r *recordingProcessor) Process(_ context.Context, m *domain.Merchant, msg whatsapp.InboundMessage) (Outcome, error) {
	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	for {
		cur := atomic.LoadInt32(&r.maxActive)
		if n <= cur || atomic.CompareAndSwapInt32(&r.maxActive, cur, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.panicWith != nil {
		panic(r.panicWith)
	}
	r.mu.Lock()
	r.merchants = append(r.merchants, m)
	r.texts = append(r.texts, msg.Text)
	r.mu.Unlock()
	return Outcome{Kind: OutcomeReplied}, nil
}

func (r *recordingProcessor) calls() []*domain.Merchant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Merchant(nil), r.merchants...)
}

func newDispatcherFixture(t *testing.T) (*Dispatcher, *recordingProcessor, *recordingProcessor) {
	t.Helper()
	db := newTestDB(t)
	seedMerchant(t, db, &domain.Merchant{ID: "m1", Name: "Chez Fatou", Active: true, PhoneNumberID: testPN})
	seedMerchant(t, db, &domain.Merchant{ID: "c1", Name: "Concierge", Active: true, IsConcierge: true, PhoneNumberID: conciergePN})
	seedMerchant(t, db, &domain.Merchant{ID: "c2", Name: "Old Concierge", Active: false, IsConcierge: true, PhoneNumberID: "PN-OLD"})
	mp, cp := &recordingProcessor{}, &recordingProcessor{}
	return &Dispatcher{DB: db, Merchant: mp, Concierge: cp, Locks: resilience.NewKeyedMutex()}, mp, cp
}

func TestDispatcher_Routing(t *testing.T) {
	d, mp, cp := newDispatcherFixture(t)
	ctx := context.Background()

	if _, err := d.Handle(ctx, textMsg(testPN, "hi")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Handle(ctx, textMsg(conciergePN, "hi")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Handle(ctx, textMsg("PN-UNKNOWN", "hi")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Handle(ctx, textMsg("PN-OLD", "hi")); err != nil {
		t.Fatal(err)
	}

	if got := cp.calls(); len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("concierge calls: %+v", got)
	}
	got := mp.calls()
	if len(got) != 3 || got[0].ID != "m1" || got[1] != nil || got[2].ID != "c2" {
		t.Fatalf("merchant calls: %+v", got)
	}
}

func TestDispatcher_DropsRedelivery(t *testing.T) {
	d, mp, _ := newDispatcherFixture(t)
	msg := textMsg(testPN, "hi")

	first, _ := d.Handle(context.Background(), msg)
	second, err := d.Handle(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if first.Kind != OutcomeReplied || second.Kind != OutcomeDropped || second.Reason != "duplicate" {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	if len(mp.calls()) != 1 {
		t.Fatalf("redelivery must not be processed")
	}
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	d, mp, _ := newDispatcherFixture(t)
	mp.panicWith = "boom"

	out, err := d.Handle(context.Background(), textMsg(testPN, "hi"))
	if err == nil || out.Kind != OutcomeNotifiedFailure {
		t.Fatalf("panic not converted: %+v err=%v", out, err)
	}

	// The keyed lock must have been released.
	mp.panicWith = nil
	if _, err := d.Handle(context.Background(), textMsg(testPN, "again")); err != nil {
		t.Fatalf("follow-up failed: %v", err)
	}
	if d.Locks.Len() != 0 {
		t.Fatalf("lock leaked")
	}
}

func TestDispatcher_AsyncBoundedAndWaited(t *testing.T) {
	d, mp, _ := newDispatcherFixture(t)
	d.Async = true
	d.Bulkhead = resilience.NewBulkhead(2)
	mp.delay = 20 * time.Millisecond

	msgs := make([]whatsapp.InboundMessage, 6)
	for i := range msgs {
		m := textMsg(testPN, "hi")
		m.From = "22177000000" + string(rune('0'+i))
		msgs[i] = m
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, msgs)
	cancel() // request context ends; background work continues

	waitCtx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	if err := d.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n := len(mp.calls()); n != len(msgs) {
		t.Fatalf("processed %d of %d", n, len(msgs))
	}
	if max := atomic.LoadInt32(&mp.maxActive); max > 2 {
		t.Fatalf("bulkhead exceeded: %d concurrent", max)
	}
}

func TestDispatcher_SerializesOneCustomer(t *testing.T) {
	d, mp, _ := newDispatcherFixture(t)
	d.Async = true
	mp.delay = 10 * time.Millisecond

	msgs := []whatsapp.InboundMessage{textMsg(testPN, "a"), textMsg(testPN, "b"), textMsg(testPN, "c")}
	d.Dispatch(context.Background(), msgs)
	if err := d.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if max := atomic.LoadInt32(&mp.maxActive); max != 1 {
		t.Fatalf("same customer processed concurrently: %d", max)
	}
}

func TestDispatcher_AsyncKeepsCustomerOrder(t *testing.T) {
	d, mp, _ := newDispatcherFixture(t)
	d.Async = true
	d.Bulkhead = resilience.NewBulkhead(4)

	other := textMsg(testPN, "other")
	other.From = "221770000099"
	msgs := []whatsapp.InboundMessage{textMsg(testPN, "1"), other, textMsg(testPN, "2"), textMsg(testPN, "3"), textMsg(testPN, "yes")}

	for i := 0; i < 20; i++ {
		mp.mu.Lock()
		mp.texts = nil
		mp.mu.Unlock()
		batch := make([]whatsapp.InboundMessage, len(msgs))
		for j, m := range msgs {
			m.MessageID = fmt.Sprintf("wamid.%d.%d", i, j)
			batch[j] = m
		}
		d.Dispatch(context.Background(), batch)
		if err := d.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}

		mp.mu.Lock()
		var got []string
		for _, s := range mp.texts {
			if s != "other" {
				got = append(got, s)
			}
		}
		n := len(mp.texts)
		mp.mu.Unlock()
		if n != len(msgs) || strings.Join(got, ",") != "1,2,3,yes" {
			t.Fatalf("round %d: processed %d, customer order %v", i, n, got)
		}
	}
}

func TestGroupByCustomer(t *testing.T) {
	a1, b1, a2 := textMsg("PN-A", "a1"), textMsg("PN-A", "b1"), textMsg("PN-A", "a2")
	b1.From = "221770000002"
	c1 := textMsg("PN-B", "c1") // same sender, other merchant

	groups := groupByCustomer([]whatsapp.InboundMessage{a1, b1, a2, c1})
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	if len(groups[0]) != 2 || groups[0][0].Text != "a1" || groups[0][1].Text != "a2" {
		t.Fatalf("first group out of order: %+v", groups[0])
	}
	if groups[1][0].Text != "b1" || groups[2][0].Text != "c1" {
		t.Fatalf("unexpected grouping: %+v", groups)
	}
}
