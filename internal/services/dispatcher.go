// Package services – Dispatcher
//
// Dispatcher routes parsed webhook messages to the right processor. It drops
// redeliveries of a message already accepted, serializes messages of one
// customer, bounds background concurrency and isolates failures so one bad
// message never affects its siblings.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/observability"
	"github.com/tbourn/go-wa-commerce/internal/repo"
	"github.com/tbourn/go-wa-commerce/internal/resilience"
	"github.com/tbourn/go-wa-commerce/internal/sysutil"
	"github.com/tbourn/go-wa-commerce/internal/whatsapp"
)

// MessageProcessor handles one inbound message for a resolved merchant.
type MessageProcessor interface {
	Process(ctx context.Context, merchant *domain.Merchant, msg whatsapp.InboundMessage) (Outcome, error)
}

// Dispatcher fans inbound messages out to processors.
type Dispatcher struct {
	DB        *gorm.DB
	Merchant  MessageProcessor
	Concierge MessageProcessor

	// Async runs each message in the background; Dispatch then returns
	// immediately.
	Async          bool
	Bulkhead       *resilience.Bulkhead
	Locks          *resilience.KeyedMutex
	DedupeTTL      time.Duration
	ProcessTimeout time.Duration

	wg sync.WaitGroup
}

// Dispatch processes msgs, in the background when Async is set. Messages of
// one customer keep their payload order in both modes.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []whatsapp.InboundMessage) {
	if !d.Async {
		for _, m := range msgs {
			_, _ = d.Handle(ctx, m)
		}
		return
	}
	// Processing outlives the webhook request.
	bg := context.WithoutCancel(ctx)
	for _, group := range groupByCustomer(msgs) {
		d.wg.Add(1)
		go func(group []whatsapp.InboundMessage) {
			defer d.wg.Done()
			if d.Bulkhead != nil {
				if !d.Bulkhead.TryAcquire() {
					log.Debug().Int("in_flight", d.Bulkhead.InFlight()).Int("queued", len(group)).Msg("workers saturated, waiting")
					if err := d.Bulkhead.Acquire(bg); err != nil {
						return
					}
				}
				defer d.Bulkhead.Release()
			}
			observability.WorkerStarted()
			defer observability.WorkerDone()
			for _, m := range group {
				_, _ = d.Handle(bg, m)
			}
		}(group)
	}
}

// groupByCustomer splits msgs per merchant number and sender, keeping the
// order of first appearance and the order within each group.
func groupByCustomer(msgs []whatsapp.InboundMessage) [][]whatsapp.InboundMessage {
	idx := make(map[string]int, len(msgs))
	var groups [][]whatsapp.InboundMessage
	for _, m := range msgs {
		k := customerKey(m)
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

func customerKey(m whatsapp.InboundMessage) string {
	return m.PhoneNumberID + ":" + m.From
}

// Wait blocks until background work finishes or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle processes one message synchronously. Panics are recovered and
// reported as errors.
func (d *Dispatcher) Handle(ctx context.Context, msg whatsapp.InboundMessage) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing message %s: %v", msg.MessageID, r)
			out = Outcome{Kind: OutcomeNotifiedFailure}
		}
		d.observe(msg, out, err)
	}()

	if d.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.ProcessTimeout)
		defer cancel()
	}

	if _, cerr := repo.ClaimMessage(ctx, d.DB, msg.PhoneNumberID, msg.MessageID, d.dedupeTTL()); cerr != nil {
		if errors.Is(cerr, repo.ErrDuplicate) {
			return dropped("duplicate"), nil
		}
		log.Warn().Err(cerr).Str("message_id", msg.MessageID).Msg("dedupe receipt not stored")
	}

	if d.Locks != nil {
		unlock := d.Locks.Lock(customerKey(msg))
		defer unlock()
	}

	merchant, lerr := repo.GetMerchantByPhoneNumberID(ctx, d.DB, msg.PhoneNumberID)
	switch {
	case errors.Is(lerr, repo.ErrNotFound):
		merchant = nil
	case lerr != nil:
		// Let the provider's retry try again.
		if rerr := repo.ReleaseMessage(context.WithoutCancel(ctx), d.DB, msg.PhoneNumberID, msg.MessageID); rerr != nil {
			log.Warn().Err(rerr).Str("message_id", msg.MessageID).Msg("dedupe receipt not released")
		}
		return Outcome{Kind: OutcomeDropped, Reason: "merchant lookup failed"}, wrapErr(KindTransient, "resolve merchant", lerr)
	}

	if merchant != nil && merchant.IsConcierge && merchant.Active {
		return d.Concierge.Process(ctx, merchant, msg)
	}
	return d.Merchant.Process(ctx, merchant, msg)
}

func (d *Dispatcher) observe(msg whatsapp.InboundMessage, out Outcome, err error) {
	observability.ObserveOutcome(string(out.Kind))
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err).Str("kind", string(KindOf(err)))
	}
	ev.Str("phone_number_id", msg.PhoneNumberID).
		Str("message_id", msg.MessageID).
		Str("from", sysutil.MaskPhone(msg.From)).
		Str("type", msg.Type).
		Str("outcome", string(out.Kind)).
		Str("reason", out.Reason).
		Msg("message processed")
}

func (d *Dispatcher) dedupeTTL() time.Duration {
	if d.DedupeTTL > 0 {
		return d.DedupeTTL
	}
	return 24 * time.Hour
}
