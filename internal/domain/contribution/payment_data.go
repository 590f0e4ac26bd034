package contribution

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// PaymentData is the JSON bag persisted on a contribution. Known sections are typed;
// keys written by older code are kept verbatim and written back on save.
type PaymentData struct {
	Creation            *CreationMetadata
	Superseded          []CreationMetadata
	Callbacks           []CallbackMetadata
	CallbackProcessedAt *time.Time

	extra map[string]json.RawMessage
}

// CreationMetadata records the bill a contribution was linked to.
type CreationMetadata struct {
	Provider     string    `json:"provider"`
	BillID       string    `json:"bill_id"`
	CollectionID string    `json:"collection_id,omitempty"`
	PaymentURL   string    `json:"payment_url"`
	CallbackURL  string    `json:"callback_url,omitempty"`
	RedirectURL  string    `json:"redirect_url,omitempty"`
	Description  string    `json:"description,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	AmountMinor  int64     `json:"amount_minor"`
	Sandbox      bool      `json:"sandbox"`
	CreatedAt    time.Time `json:"created_at"`
}

// CallbackSource identifies how a gateway outcome reached us.
type CallbackSource string

const (
	SourceCallback CallbackSource = "callback"
	SourceRedirect CallbackSource = "redirect"
	SourceQuery    CallbackSource = "query"
)

// CallbackMetadata is one recorded gateway report, raw payload included.
type CallbackMetadata struct {
	Provider    string            `json:"provider"`
	Source      CallbackSource    `json:"source"`
	Status      Status            `json:"status"`
	Fingerprint string            `json:"fingerprint"`
	Payload     map[string]string `json:"payload"`
	ReceivedAt  time.Time         `json:"received_at"`
}

const (
	keyCreation            = "creation"
	keySuperseded          = "superseded_creations"
	keyCallbacks           = "callbacks"
	keyCallbackProcessedAt = "callback_processed_at"
)

// ParsePaymentData decodes a stored bag. Empty input and JSON null yield an empty bag.
func ParsePaymentData(raw []byte) (PaymentData, error) {
	var d PaymentData
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return d, nil
	}
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return PaymentData{}, err
	}
	return d, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *PaymentData) UnmarshalJSON(b []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return fmt.Errorf("payment_data: %w", err)
	}

	out := PaymentData{}
	for k, v := range all {
		var err error
		switch k {
		case keyCreation:
			out.Creation = &CreationMetadata{}
			err = json.Unmarshal(v, out.Creation)
		case keySuperseded:
			err = json.Unmarshal(v, &out.Superseded)
		case keyCallbacks:
			err = json.Unmarshal(v, &out.Callbacks)
		case keyCallbackProcessedAt:
			var t time.Time
			if err = json.Unmarshal(v, &t); err == nil {
				out.CallbackProcessedAt = &t
			}
		default:
			if out.extra == nil {
				out.extra = make(map[string]json.RawMessage)
			}
			out.extra[k] = v
			continue
		}
		if err != nil {
			return fmt.Errorf("payment_data.%s: %w", k, err)
		}
	}
	*d = out
	return nil
}

// MarshalJSON implements json.Marshaler
func (d PaymentData) MarshalJSON() ([]byte, error) {
	all := make(map[string]any, len(d.extra)+4)
	for k, v := range d.extra {
		all[k] = v
	}
	if d.Creation != nil {
		all[keyCreation] = d.Creation
	}
	if len(d.Superseded) > 0 {
		all[keySuperseded] = d.Superseded
	}
	if len(d.Callbacks) > 0 {
		all[keyCallbacks] = d.Callbacks
	}
	if d.CallbackProcessedAt != nil {
		all[keyCallbackProcessedAt] = d.CallbackProcessedAt
	}
	return json.Marshal(all)
}

// Extra returns a legacy key that is not part of the typed sections.
func (d PaymentData) Extra(key string) (json.RawMessage, bool) {
	v, ok := d.extra[key]
	return v, ok
}

// Clone returns a deep copy so callers can merge without touching the original.
func (d PaymentData) Clone() PaymentData {
	out := PaymentData{}
	if d.Creation != nil {
		c := *d.Creation
		out.Creation = &c
	}
	out.Superseded = append([]CreationMetadata(nil), d.Superseded...)
	out.Callbacks = make([]CallbackMetadata, 0, len(d.Callbacks))
	for _, cb := range d.Callbacks {
		cb.Payload = copyPayload(cb.Payload)
		out.Callbacks = append(out.Callbacks, cb)
	}
	if d.CallbackProcessedAt != nil {
		t := *d.CallbackProcessedAt
		out.CallbackProcessedAt = &t
	}
	if d.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(d.extra))
		for k, v := range d.extra {
			out.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// SetCreation records bill creation. A previous creation for a different bill
// moves to Superseded instead of being dropped.
func (d *PaymentData) SetCreation(m CreationMetadata) {
	if d.Creation != nil && d.Creation.BillID != m.BillID {
		d.Superseded = append(d.Superseded, *d.Creation)
	}
	d.Creation = &m
}

// HasCallback reports whether a report with this fingerprint is already recorded.
func (d PaymentData) HasCallback(fingerprint string) bool {
	for _, cb := range d.Callbacks {
		if cb.Fingerprint == fingerprint {
			return true
		}
	}
	return false
}

// AppendCallback records a gateway report and stamps CallbackProcessedAt.
// It returns false when the same fingerprint was already recorded.
func (d *PaymentData) AppendCallback(m CallbackMetadata, processedAt time.Time) bool {
	if d.HasCallback(m.Fingerprint) {
		return false
	}
	m.Payload = copyPayload(m.Payload)
	d.Callbacks = append(d.Callbacks, m)
	t := processedAt.UTC()
	d.CallbackProcessedAt = &t
	return true
}

// LastCallback returns the most recently recorded report, if any.
func (d PaymentData) LastCallback() (CallbackMetadata, bool) {
	if len(d.Callbacks) == 0 {
		return CallbackMetadata{}, false
	}
	return d.Callbacks[len(d.Callbacks)-1], true
}

// Fingerprint identifies a gateway payload independent of key order.
func Fingerprint(provider string, payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(provider))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(payload[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func copyPayload(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
