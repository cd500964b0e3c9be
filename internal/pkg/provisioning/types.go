package provisioning

import "github.com/hexleylabs/keyhaven/internal/pkg/keycodec"

// PurchaseEvent is the provider-agnostic shape of a completed-purchase
// webhook after transport decoding and signature verification.
type PurchaseEvent struct {
	Provider       string
	EventID        string
	EventType      string
	SessionID      string
	CustomerEmail  string
	LineItems      []LineItem
	RawPayloadJSON string
	SignatureValid bool
}

// LineItem is one purchased position. Discount positions carry a negative
// amount and never mint licenses.
type LineItem struct {
	SKU         string
	Quantity    int
	AmountCents int
}

// bundle maps a storefront SKU to the key prefix and the number of keys a
// single unit mints. A family bundle is five single-device keys; the family
// experience is the set of keys, not one key with five slots.
type bundle struct {
	Prefix string
	Seats  int
}

var skuTable = map[string]bundle{
	"note-personal": {Prefix: keycodec.PrefixNotePersonal, Seats: 1},
	"note-family":   {Prefix: keycodec.PrefixNoteFamily, Seats: 5},
	"draw-personal": {Prefix: keycodec.PrefixDrawPersonal, Seats: 1},
	"draw-family":   {Prefix: keycodec.PrefixDrawFamily, Seats: 5},
}

// Result reports what a webhook delivery did. Duplicate deliveries are
// absorbed, not errors.
type Result struct {
	Duplicate  bool     `json:"duplicate"`
	LedgerID   uint     `json:"-"`
	MintedKeys []string `json:"minted_keys,omitempty"`
}
