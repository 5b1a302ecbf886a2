// Package services – ConciergeProcessor
//
// ConciergeProcessor serves the shared concierge number: it collects the
// customer's location, searches every active merchant's catalog for a dish,
// presents a numbered shortlist and turns a numeric choice into a quote for
// that merchant. It is rule based and never calls the completion service.
package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/domain"
	"github.com/tbourn/go-wa-commerce/internal/observability"
	"github.com/tbourn/go-wa-commerce/internal/repo"
	"github.com/tbourn/go-wa-commerce/internal/search"
	"github.com/tbourn/go-wa-commerce/internal/whatsapp"
)

const (
	defaultMaxOptions    = 4
	defaultSearchWorkers = 8
)

// ConciergeProcessor brokers orders across merchants.
type ConciergeProcessor struct {
	DB     *gorm.DB
	Store  *repo.ConversationStore
	Sender whatsapp.Sender

	QuoteTTL      time.Duration
	SendTimeout   time.Duration
	MaxOptions    int
	SearchWorkers int
	Currency      string
	// TitleLocale drives title-casing of names in the shortlist.
	TitleLocale language.Tag

	Now func() time.Time
}

func (p *ConciergeProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Process handles one message sent to the concierge number.
func (p *ConciergeProcessor) Process(ctx context.Context, concierge *domain.Merchant, msg whatsapp.InboundMessage) (Outcome, error) {
	tr := otel.Tracer("services/ConciergeProcessor")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("phone_number_id", msg.PhoneNumberID),
			attribute.String("message.type", msg.Type),
		),
	)
	defer span.End()

	creds := credsOf(concierge)
	out, err := p.process(ctx, msg, creds)
	if err == nil {
		return out, nil
	}
	span.RecordError(err)

	log.Error().Err(err).
		Str("message_id", msg.MessageID).
		Str("kind", string(KindOf(err))).
		Msg("concierge pipeline failed")
	if serr := sendText(ctx, p.Sender, p.SendTimeout, msg.PhoneNumberID, msg.From, textFailure, creds); serr != nil {
		log.Warn().Err(serr).Msg("failure notice not delivered")
	}
	return Outcome{Kind: OutcomeNotifiedFailure, Reply: textFailure}, err
}

func (p *ConciergeProcessor) process(ctx context.Context, msg whatsapp.InboundMessage, creds whatsapp.Creds) (Outcome, error) {
	key := domain.ConciergeKey(msg.From)
	now := p.now()

	text, patch, err := normalizeInbound(msg)
	if err != nil {
		return dropped(err.Error()), nil
	}
	isLocation := msg.Type == whatsapp.TypeLocation
	if msg.ContactName != "" {
		name := msg.ContactName
		patch.ContactName = &name
	}

	prev, err := p.Store.GetMetadata(ctx, key)
	if err != nil {
		return Outcome{}, wrapErr(KindTransient, "load metadata", err)
	}
	if prev.ConciergePendingOrder.Expired(now) {
		patch.Remove = append(patch.Remove, domain.KeyConciergePendingOrder)
	}
	if prev.ConciergeOptions.Expired(now) {
		patch.Remove = append(patch.Remove, domain.KeyConciergeOptions)
	}
	md, err := p.Store.UpdateMetadata(ctx, key, patch)
	if err != nil {
		return Outcome{}, wrapErr(KindTransient, "update metadata", err)
	}

	reply := func(kind OutcomeKind, body string, o Outcome) (Outcome, error) {
		p.record(ctx, key, text, body)
		if err := sendText(ctx, p.Sender, p.SendTimeout, msg.PhoneNumberID, msg.From, body, creds); err != nil {
			return Outcome{}, wrapErr(KindTransient, "send reply", err)
		}
		o.Kind, o.Reply = kind, body
		return o, nil
	}

	// Pending quote.
	if q := md.ConciergePendingOrder; q != nil && !isLocation {
		switch ClassifyReply(text) {
		case DecisionConfirm:
			order, existed, err := placeOrder(ctx, p.DB, q.MerchantID, msg.From, *q)
			if err != nil {
				return Outcome{}, wrapErr(KindTransient, "create order", err)
			}
			if !existed {
				observability.ObserveOrder("concierge")
			}
			if _, err := p.Store.UpdateMetadata(ctx, key, domain.MetadataPatch{
				Remove: []domain.MetadataKey{domain.KeyConciergePendingOrder, domain.KeyConciergeOptions},
			}); err != nil {
				return Outcome{}, wrapErr(KindTransient, "clear quote", err)
			}
			body := confirmationText(order, p.Currency)
			if q.MerchantName != "" {
				body += fmt.Sprintf("\nRestaurant: %s", q.MerchantName)
			}
			return reply(OutcomeConfirmed, body, Outcome{OrderID: order.ID, QuoteID: q.ID})
		case DecisionCancel:
			if _, err := p.Store.UpdateMetadata(ctx, key, domain.MetadataPatch{
				Remove: []domain.MetadataKey{domain.KeyConciergePendingOrder},
			}); err != nil {
				return Outcome{}, wrapErr(KindTransient, "clear quote", err)
			}
			return reply(OutcomeCancelled, textNewQuery, Outcome{})
		}
	}

	// Location.
	if isLocation {
		if md.ConciergeOptions != nil && len(md.ConciergeOptions.Options) > 0 {
			return reply(OutcomePrompted, textPickOption, Outcome{})
		}
		return reply(OutcomePrompted, textAskQuery, Outcome{})
	}
	if md.Location == nil {
		loc, est, ok := p.typedLocation(ctx, key, text)
		if !ok {
			return reply(OutcomePrompted, textAskLocation, Outcome{})
		}
		patch := domain.MetadataPatch{Location: &loc}
		if est != "" {
			patch.DeliveryEstimate = &est
		}
		if _, err := p.Store.UpdateMetadata(ctx, key, patch); err != nil {
			return Outcome{}, wrapErr(KindTransient, "store location", err)
		}
		return reply(OutcomePrompted, textAskQuery, Outcome{})
	}

	// Numeric selection.
	if opts := md.ConciergeOptions; opts != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(text)); err == nil && n >= 1 && n <= len(opts.Options) {
			q := p.quoteOption(opts.Options[n-1], now)
			if _, err := p.Store.UpdateMetadata(ctx, key, domain.MetadataPatch{ConciergePendingOrder: &q}); err != nil {
				return Outcome{}, wrapErr(KindTransient, "store quote", err)
			}
			body := quotePrompt(fmt.Sprintf("Great choice! From %s:", opts.Options[n-1].MerchantName), q, p.Currency)
			return reply(OutcomeQuoted, body, Outcome{QuoteID: q.ID})
		}
	}

	// Cross-merchant search.
	options, err := p.Search(ctx, text)
	if err != nil {
		return Outcome{}, wrapErr(KindTransient, "search merchants", err)
	}
	if len(options) == 0 {
		if _, err := p.Store.UpdateMetadata(ctx, key, domain.MetadataPatch{
			Remove: []domain.MetadataKey{domain.KeyConciergeOptions},
		}); err != nil {
			return Outcome{}, wrapErr(KindTransient, "clear options", err)
		}
		return reply(OutcomePrompted, fmt.Sprintf(textNothingFound, text), Outcome{})
	}
	list := domain.OptionList{Query: text, Options: options}
	if ttl := p.quoteTTL(); ttl > 0 {
		list.ExpiresAt = now.Add(ttl)
	}
	if _, err := p.Store.UpdateMetadata(ctx, key, domain.MetadataPatch{
		ConciergeOptions: &list,
		Remove:           []domain.MetadataKey{domain.KeyConciergePendingOrder},
	}); err != nil {
		return Outcome{}, wrapErr(KindTransient, "store options", err)
	}
	return reply(OutcomeReplied, p.renderOptions(text, options), Outcome{})
}

// Search ranks active merchants by how many available catalog items contain
// query and returns the best MaxOptions. Ties keep merchant order.
func (p *ConciergeProcessor) Search(ctx context.Context, query string) ([]domain.ConciergeOption, error) {
	merchants, err := repo.ListSearchableMerchants(ctx, p.DB)
	if err != nil {
		return nil, err
	}

	results := make([]*domain.ConciergeOption, len(merchants))
	g, gctx := errgroup.WithContext(ctx)
	workers := p.SearchWorkers
	if workers <= 0 {
		workers = defaultSearchWorkers
	}
	g.SetLimit(workers)
	for i := range merchants {
		i, m := i, merchants[i]
		g.Go(func() error {
			items, err := merchantCatalog(gctx, p.DB, &m)
			if err != nil {
				return fmt.Errorf("catalog of %s: %w", m.ID, err)
			}
			var matches []domain.CatalogItem
			for _, it := range items {
				if it.Available && search.ContainsQuery(query, it.SearchText()) {
					matches = append(matches, it)
				}
			}
			if len(matches) == 0 {
				return nil
			}
			first := matches[0]
			results[i] = &domain.ConciergeOption{
				MerchantID:   m.ID,
				MerchantName: m.Name,
				MatchCount:   len(matches),
				Sample:       domain.SampleItem{ID: first.ID, Name: first.Name, Price: first.Price},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.ConciergeOption
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].MatchCount > out[b].MatchCount })

	limit := p.MaxOptions
	if limit <= 0 {
		limit = defaultMaxOptions
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *ConciergeProcessor) quoteOption(o domain.ConciergeOption, now time.Time) domain.OrderQuote {
	q := domain.OrderQuote{
		ID:           uuid.NewString(),
		Total:        o.Sample.Price,
		ItemsSummary: fmt.Sprintf("1x %s", o.Sample.Name),
		Items:        []domain.LineItem{{ItemName: o.Sample.Name, Quantity: 1}},
		MerchantID:   o.MerchantID,
		MerchantName: o.MerchantName,
		CreatedAt:    now,
	}
	if ttl := p.quoteTTL(); ttl > 0 {
		q.ExpiresAt = now.Add(ttl)
	}
	return q
}

func (p *ConciergeProcessor) renderOptions(query string, options []domain.ConciergeOption) string {
	tag := p.TitleLocale
	if tag == language.Und {
		tag = language.French
	}
	title := cases.Title(tag)

	var b strings.Builder
	fmt.Fprintf(&b, "Here's where you can get %s:\n", query)
	for i, o := range options {
		fmt.Fprintf(&b, "%d. %s: %s, %s", i+1, title.String(o.MerchantName), title.String(o.Sample.Name), formatAmount(o.Sample.Price, p.Currency))
		if o.MatchCount > 1 {
			fmt.Fprintf(&b, " (+%d more)", o.MatchCount-1)
		}
		b.WriteByte('\n')
	}
	b.WriteString("Reply with the number of your choice.")
	return b.String()
}

// typedLocation accepts a neighbourhood given as text. A known delivery zone
// is always taken; any other text is taken only as the answer to a location
// prompt, so a dish named before the location still gets the prompt.
func (p *ConciergeProcessor) typedLocation(ctx context.Context, key domain.ConversationKey, text string) (domain.Location, string, bool) {
	if _, est, ok := InferDeliveryEstimate(text); ok {
		return domain.Location{Text: text}, est, true
	}
	hist, err := p.Store.GetHistory(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("conversation", key.String()).Msg("history read failed")
		return domain.Location{}, "", false
	}
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Role == domain.RoleAssistant {
			if hist[i].Content == textAskLocation {
				return domain.Location{Text: text}, "", true
			}
			break
		}
	}
	return domain.Location{}, "", false
}

func (p *ConciergeProcessor) record(ctx context.Context, key domain.ConversationKey, userText, reply string) {
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

func (p *ConciergeProcessor) quoteTTL() time.Duration {
	if p.QuoteTTL > 0 {
		return p.QuoteTTL
	}
	return DefaultQuoteTTL
}

// merchantCatalog returns all catalog rows of m, or its normalized legacy
// menu when it has none.
func merchantCatalog(ctx context.Context, db *gorm.DB, m *domain.Merchant) ([]domain.CatalogItem, error) {
	items, err := repo.ListCatalog(ctx, db, m.ID)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return items, nil
	}
	return legacyCatalog(m, 0), nil
}
