// Package services – MerchantProcessor
//
// MerchantProcessor handles one inbound message addressed to a single
// merchant: it normalizes the message, keeps conversation metadata current,
// runs the order-quote state machine and otherwise asks the completion
// service for a reply. Failures after the merchant checks are logged and
// answered with a generic apology; they never reach the webhook.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/ai"
	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/observability"
	"github.com/tbourn/go-wa-commerce/internal/repo"
	"github.com/tbourn/go-wa-commerce/internal/search"
	"github.com/tbourn/go-wa-commerce/internal/whatsapp"
)

const (
	defaultHistoryTurns  = 5
	defaultRelevantItems = 5
)

// MerchantProcessor answers customers of one merchant.
type MerchantProcessor struct {
	DB        *gorm.DB
	Store     *repo.ConversationStore
	Completer ai.Completer
	Sender    whatsapp.Sender
	// Retriever ranks the catalog for the context block. Optional.
	Retriever *search.Retriever

	QuoteTTL      time.Duration
	AITimeout     time.Duration
	SendTimeout   time.Duration
	HistoryTurns  int
	RelevantItems int
	Currency      string

	Now func() time.Time
}

func (p *MerchantProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Process runs the pipeline for msg. merchant is nil when no merchant owns
// the phone-number id.
func (p *MerchantProcessor) Process(ctx context.Context, merchant *domain.Merchant, msg whatsapp.InboundMessage) (Outcome, error) {
	tr := otel.Tracer("services/MerchantProcessor")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("phone_number_id", msg.PhoneNumberID),
			attribute.String("message.type", msg.Type),
		),
	)
	defer span.End()

	// 1. Merchant checks.
	if merchant == nil {
		err := p.send(ctx, msg.PhoneNumberID, msg.From, textConfigError, whatsapp.Creds{})
		return Outcome{Kind: OutcomeNotifiedConfigError, Reply: textConfigError}, errors.Join(ErrMerchantNotFound, err)
	}
	span.SetAttributes(attribute.String("merchant.id", merchant.ID))
	creds := credsOf(merchant)
	if !merchant.Active {
		reply := fmt.Sprintf(textOffline, merchant.Name)
		err := p.send(ctx, msg.PhoneNumberID, msg.From, reply, creds)
		return Outcome{Kind: OutcomeNotifiedOffline, Reply: reply}, errors.Join(ErrMerchantInactive, err)
	}

	out, err := p.process(ctx, merchant, msg, creds)
	if err == nil {
		return out, nil
	}
	span.RecordError(err)

	log.Error().Err(err).
		Str("merchant_id", merchant.ID).
		Str("message_id", msg.MessageID).
		Str("kind", string(KindOf(err))).
		Msg("merchant pipeline failed")
	if serr := p.send(ctx, msg.PhoneNumberID, msg.From, textFailure, creds); serr != nil {
		log.Warn().Err(serr).Str("merchant_id", merchant.ID).Msg("failure notice not delivered")
	}
	return Outcome{Kind: OutcomeNotifiedFailure, Reply: textFailure}, err
}

func (p *MerchantProcessor) process(ctx context.Context, merchant *domain.Merchant, msg whatsapp.InboundMessage, creds whatsapp.Creds) (Outcome, error) {
	key := domain.MerchantKey(merchant.ID, msg.From)
	now := p.now()

	// 2. Normalize the inbound message. 3. Contact name.
	text, patch, err := normalizeInbound(msg)
	if err != nil {
		return dropped(err.Error()), nil
	}
	if msg.ContactName != "" {
		name := msg.ContactName
		patch.ContactName = &name
	}

	md, err := p.Store.UpdateMetadata(ctx, key, patch)
	if err != nil {
		return Outcome{}, wrapErr(KindTransient, "update metadata", err)
	}

	// 4. Zone inference.
	if md.DeliveryEstimate == "" {
		if zone, est, ok := InferDeliveryEstimate(text); ok {
			zp := domain.MetadataPatch{DeliveryEstimate: &est}
			if md.Location == nil {
				zp.Location = &domain.Location{Text: zone}
			}
			if md, err = p.Store.UpdateMetadata(ctx, key, zp); err != nil {
				return Outcome{}, wrapErr(KindTransient, "update metadata", err)
			}
		}
	}

	// 5. Quote state machine.
	if md.PendingOrder != nil && md.PendingOrder.Expired(now) {
		if md, err = p.Store.UpdateMetadata(ctx, key, domain.MetadataPatch{Remove: []domain.MetadataKey{domain.KeyPendingOrder}}); err != nil {
			return Outcome{}, wrapErr(KindTransient, "expire quote", err)
		}
	}
	if q := md.PendingOrder; q != nil {
		switch ClassifyReply(text) {
		case DecisionConfirm:
			return p.confirm(ctx, merchant, msg, key, text, *q, creds)
		case DecisionCancel:
			return p.cancel(ctx, msg, key, text, creds)
		}
	}

	// 6. History and completion.
	if err := p.Store.AppendMessage(ctx, key, domain.ChatMessage{Role: domain.RoleUser, Content: text, Timestamp: now}); err != nil {
		return Outcome{}, wrapErr(KindTransient, "append user message", err)
	}
	history, err := p.Store.GetHistory(ctx, key)
	if err != nil {
		return Outcome{}, wrapErr(KindTransient, "load history", err)
	}
	catalog, relevant, err := p.catalog(ctx, merchant, text)
	if err != nil {
		return Outcome{}, wrapErr(KindTransient, "load catalog", err)
	}

	turns := p.HistoryTurns
	if turns <= 0 {
		turns = defaultHistoryTurns
	}
	req := ai.GenerateRequest{
		History:      domain.LastTurns(history, turns),
		ContextText:  buildContextBlock(merchant, md, relevant, p.Currency),
		Catalog:      ai.CatalogEntries(catalog),
		MerchantName: merchant.Name,
		MerchantID:   merchant.ID,
	}
	res, err := p.generate(ctx, req)
	if err != nil {
		return Outcome{}, wrapErr(KindTransient, "generate", err)
	}

	// 7. Quote.
	reply := res.Response
	out := Outcome{Kind: OutcomeReplied}
	// A quote without line items is not orderable.
	if res.OrderQuote != nil && len(res.OrderQuote.Items) > 0 {
		q := NewQuote(*res.OrderQuote, catalog, now, p.quoteTTL())
		if _, err := p.Store.UpdateMetadata(ctx, key, domain.MetadataPatch{PendingOrder: &q}); err != nil {
			return Outcome{}, wrapErr(KindTransient, "store quote", err)
		}
		reply = quotePrompt(reply, q, p.Currency)
		out = Outcome{Kind: OutcomeQuoted, QuoteID: q.ID}
	}
	if strings.TrimSpace(reply) == "" {
		return Outcome{}, wrapErr(KindMalformed, "generate", errors.New("empty reply"))
	}
	out.Reply = reply

	// 8. Record and deliver.
	if err := p.Store.AppendMessage(ctx, key, domain.ChatMessage{Role: domain.RoleAssistant, Content: reply, Timestamp: p.now()}); err != nil {
		return Outcome{}, wrapErr(KindTransient, "append assistant message", err)
	}
	if err := p.send(ctx, msg.PhoneNumberID, msg.From, reply, creds); err != nil {
		return Outcome{}, wrapErr(KindTransient, "send reply", err)
	}
	if res.ImageURL != "" {
		if err := p.sendImage(ctx, msg.PhoneNumberID, msg.From, res.ImageURL, creds); err != nil {
			// The text already went out; a missing picture is not worth an apology.
			log.Warn().Err(err).Str("merchant_id", merchant.ID).Msg("image follow-up not delivered")
		}
	}
	return out, nil
}

func (p *MerchantProcessor) confirm(ctx context.Context, merchant *domain.Merchant, msg whatsapp.InboundMessage, key domain.ConversationKey, text string, q domain.OrderQuote, creds whatsapp.Creds) (Outcome, error) {
	order, existed, err := placeOrder(ctx, p.DB, merchant.ID, msg.From, q)
	if err != nil {
		return Outcome{}, wrapErr(KindTransient, "create order", err)
	}
	if !existed {
		observability.ObserveOrder("merchant")
	}
	if _, err := p.Store.UpdateMetadata(ctx, key, domain.MetadataPatch{Remove: []domain.MetadataKey{domain.KeyPendingOrder}}); err != nil {
		return Outcome{}, wrapErr(KindTransient, "clear quote", err)
	}
	reply := confirmationText(order, p.Currency)
	p.record(ctx, key, text, reply)
	if err := p.send(ctx, msg.PhoneNumberID, msg.From, reply, creds); err != nil {
		return Outcome{}, wrapErr(KindTransient, "send confirmation", err)
	}
	return Outcome{Kind: OutcomeConfirmed, Reply: reply, OrderID: order.ID, QuoteID: q.ID}, nil
}

func (p *MerchantProcessor) cancel(ctx context.Context, msg whatsapp.InboundMessage, key domain.ConversationKey, text string, creds whatsapp.Creds) (Outcome, error) {
	if _, err := p.Store.UpdateMetadata(ctx, key, domain.MetadataPatch{Remove: []domain.MetadataKey{domain.KeyPendingOrder}}); err != nil {
		return Outcome{}, wrapErr(KindTransient, "clear quote", err)
	}
	p.record(ctx, key, text, textCancelled)
	if err := p.send(ctx, msg.PhoneNumberID, msg.From, textCancelled, creds); err != nil {
		return Outcome{}, wrapErr(KindTransient, "send cancellation", err)
	}
	return Outcome{Kind: OutcomeCancelled, Reply: textCancelled}, nil
}

// record appends a user/assistant exchange; failures only cost context.
func (p *MerchantProcessor) record(ctx context.Context, key domain.ConversationKey, userText, reply string) {
	now := p.now()
	for _, m := range []domain.ChatMessage{
		{Role: domain.RoleUser, Content: userText, Timestamp: now},
		{Role: domain.RoleAssistant, Content: reply, Timestamp: now},
	} {
		if err := p.Store.AppendMessage(ctx, key, m); err != nil {
			log.Warn().Err(err).Str("conversation", key.String()).Msg("history append failed")
			return
		}
	}
}

func (p *MerchantProcessor) generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResult, error) {
	if p.AITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.AITimeout)
		defer cancel()
	}
	start := time.Now()
	res, err := p.Completer.Generate(ctx, req)
	observability.ObserveAI(time.Since(start), err)
	if err == nil && res == nil {
		err = errors.New("nil completion result")
	}
	return res, err
}

func (p *MerchantProcessor) send(ctx context.Context, phoneNumberID, to, text string, creds whatsapp.Creds) error {
	return sendText(ctx, p.Sender, p.SendTimeout, phoneNumberID, to, text, creds)
}

func (p *MerchantProcessor) sendImage(ctx context.Context, phoneNumberID, to, url string, creds whatsapp.Creds) error {
	if p.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.SendTimeout)
		defer cancel()
	}
	err := p.Sender.SendImage(ctx, phoneNumberID, to, url, "", creds)
	observability.ObserveSend("image", err)
	return err
}

func (p *MerchantProcessor) quoteTTL() time.Duration {
	if p.QuoteTTL > 0 {
		return p.QuoteTTL
	}
	return DefaultQuoteTTL
}

func (p *MerchantProcessor) relevantItems() int {
	if p.RelevantItems > 0 {
		return p.RelevantItems
	}
	return defaultRelevantItems
}

// ----------------------------------------------------------------------------
// Helpers shared by both processors

func sendText(ctx context.Context, s whatsapp.Sender, timeout time.Duration, phoneNumberID, to, text string, creds whatsapp.Creds) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := s.SendMessage(ctx, phoneNumberID, to, text, creds)
	observability.ObserveSend("text", err)
	return err
}

func credsOf(m *domain.Merchant) whatsapp.Creds {
	if m == nil {
		return whatsapp.Creds{}
	}
	return whatsapp.Creds{AccessToken: m.AccessToken, APIKey: m.ProviderAPIKey, BaseURL: m.ProviderBaseURL}
}

// normalizeInbound turns a provider message into pipeline text plus the
// metadata it implies. Unsupported types return ErrUnsupportedMessage.
func normalizeInbound(msg whatsapp.InboundMessage) (string, domain.MetadataPatch, error) {
	var patch domain.MetadataPatch
	switch msg.Type {
	case whatsapp.TypeText:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return "", patch, ErrEmptyText
		}
		return text, patch, nil
	case whatsapp.TypeLocation:
		if msg.Location == nil {
			return "", patch, ErrUnsupportedMessage
		}
		loc := locationFromPayload(msg.Location)
		est := DeliveryEstimateShared
		patch.Location = &loc
		patch.DeliveryEstimate = &est
		return loc.Text, patch, nil
	}
	return "", patch, ErrUnsupportedMessage
}

func locationFromPayload(l *whatsapp.LocationPayload) domain.Location {
	lat, lng := l.Latitude, l.Longitude
	text := fmt.Sprintf("📍 Location shared: %g, %g", lat, lng)
	var extra []string
	if l.Name != "" {
		extra = append(extra, l.Name)
	}
	if l.Address != "" {
		extra = append(extra, l.Address)
	}
	if len(extra) > 0 {
		text += " (" + strings.Join(extra, ", ") + ")"
	}
	return domain.Location{Text: text, Latitude: &lat, Longitude: &lng}
}

// catalog returns the items offered to the model and the most relevant of
// them. Through the retriever the whole catalog comes back ranked against
// text, so its head is the relevant set.
func (p *MerchantProcessor) catalog(ctx context.Context, m *domain.Merchant, text string) ([]domain.CatalogItem, []search.RetrievedItem, error) {
	if p.Retriever == nil {
		items, err := loadCatalog(ctx, p.DB, m, repo.MaxRetrievalItems)
		return items, nil, err
	}
	ranked, err := p.Retriever.Retrieve(ctx, m.ID, text, repo.MaxRetrievalItems)
	if err != nil {
		return nil, nil, err
	}
	items := make([]domain.CatalogItem, len(ranked))
	for i, r := range ranked {
		items[i] = r.Item
	}
	k := p.relevantItems()
	if k > len(ranked) {
		k = len(ranked)
	}
	return items, ranked[:k], nil
}

// CatalogLoader reads a merchant's available items for a search.Retriever,
// falling back to the legacy menu blob when the merchant has no catalog rows.
func CatalogLoader(db *gorm.DB) search.Loader {
	return func(ctx context.Context, merchantID string, limit int) ([]domain.CatalogItem, error) {
		items, err := repo.ListAvailableItems(ctx, db, merchantID, limit)
		if err != nil || len(items) > 0 {
			return items, err
		}
		m, err := repo.GetMerchant(ctx, db, merchantID)
		if err != nil {
			return nil, err
		}
		return legacyCatalog(m, limit), nil
	}
}

// loadCatalog returns the merchant's available items, falling back to the
// legacy menu blob when the merchant has no catalog rows.
func loadCatalog(ctx context.Context, db *gorm.DB, m *domain.Merchant, limit int) ([]domain.CatalogItem, error) {
	items, err := repo.ListAvailableItems(ctx, db, m.ID, limit)
	if err != nil || len(items) > 0 {
		return items, err
	}
	return legacyCatalog(m, limit), nil
}

func legacyCatalog(m *domain.Merchant, limit int) []domain.CatalogItem {
	if len(m.LegacyMenu) == 0 {
		return nil
	}
	legacy, err := search.NormalizeMenu(m.ID, m.LegacyMenu)
	if err != nil {
		log.Warn().Err(err).Str("merchant_id", m.ID).Msg("legacy menu unreadable")
		return nil
	}
	out := legacy[:0]
	for _, it := range legacy {
		if it.Available {
			out = append(out, it)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
