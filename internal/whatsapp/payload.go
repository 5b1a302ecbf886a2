// Package whatsapp contains the WhatsApp Business webhook payload model,
// request signature verification and the outbound messaging client.
package whatsapp

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// ErrMalformedPayload is returned by Parse for bodies that are not a
// webhook notification.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Message types the pipeline acts on.
const (
	TypeText     = "text"
	TypeLocation = "location"
)

// Payload is the top-level webhook notification.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes of one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change carries one batch of messages or statuses.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value is the body of a change.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
}

// Metadata identifies the business phone number a change was sent to.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile.
type Contact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// Message is one inbound message.
type Message struct {
	From      string           `json:"from"`
	ID        string           `json:"id"`
	Timestamp string           `json:"timestamp"`
	Type      string           `json:"type"`
	Text      *TextBody        `json:"text,omitempty"`
	Location  *LocationPayload `json:"location,omitempty"`
}

// TextBody is the content of a text message.
type TextBody struct {
	Body string `json:"body"`
}

// LocationPayload is the content of a location message.
type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// InboundMessage is a flattened message ready for dispatch.
type InboundMessage struct {
	PhoneNumberID string
	MessageID     string
	From          string
	ContactName   string
	Type          string
	Text          string
	Location      *LocationPayload
	Timestamp     time.Time
}

// Parse decodes a webhook body into inbound messages. A body that is not
// JSON, has no entry array or has an entry without a changes array yields
// ErrMalformedPayload. Changes without messages (delivery statuses) are
// skipped.
func Parse(body []byte) ([]InboundMessage, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrMalformedPayload
	}
	if p.Entry == nil {
		return nil, ErrMalformedPayload
	}

	for _, e := range p.Entry {
		if e.Changes == nil {
			return nil, ErrMalformedPayload
		}
	}

	var out []InboundMessage
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			v := ch.Value
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range v.Messages {
				in := InboundMessage{
					PhoneNumberID: v.Metadata.PhoneNumberID,
					MessageID:     m.ID,
					From:          m.From,
					ContactName:   names[m.From],
					Type:          m.Type,
					Location:      m.Location,
					Timestamp:     parseUnix(m.Timestamp),
				}
				if m.Text != nil {
					in.Text = m.Text.Body
				}
				out = append(out, in)
			}
		}
	}
	return out, nil
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
