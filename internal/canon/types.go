package canon

import (
	"slices"
)

// EntityType classifies an entity mentioned in a business event.
type EntityType string

const (
	EntityPerson       EntityType = "Person"
	EntityOrganization EntityType = "Organization"
	EntityProduct      EntityType = "Product"
	EntityLocation     EntityType = "Location"
)

// Action is the business verb of an event.
type Action string

const (
	ActionSale        Action = "sale"
	ActionPurchase    Action = "purchase"
	ActionReturn      Action = "return"
	ActionExchange    Action = "exchange"
	ActionPayment     Action = "payment"
	ActionDelivery    Action = "delivery"
	ActionReservation Action = "reservation"
	ActionInquiry     Action = "inquiry"
)

// RevenueActions are the actions counted by revenue aggregates.
// Returns, purchases and the rest are deliberately excluded.
var RevenueActions = []Action{ActionSale, ActionPayment}

// IsRevenue reports whether a counts toward revenue aggregates.
func (a Action) IsRevenue() bool {
	return slices.Contains(RevenueActions, a)
}

// PaymentMethod is how an event was settled.
type PaymentMethod string

const (
	PaymentCash        PaymentMethod = "cash"
	PaymentCredit      PaymentMethod = "credit"
	PaymentDebit       PaymentMethod = "debit"
	PaymentPix         PaymentMethod = "pix"
	PaymentStoreCredit PaymentMethod = "store_credit"
	PaymentVoucher     PaymentMethod = "voucher"
	PaymentTransfer    PaymentMethod = "transfer"
)

// Outcome is the result of an event.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomePending        Outcome = "pending"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeSatisfied      Outcome = "satisfied"
	OutcomeUnsatisfied    Outcome = "unsatisfied"
	OutcomePartialFailure Outcome = "partial_failure"
)

// Canonical is one structured business event as produced by the extraction
// layer. It is appended to the ledger exactly once and never modified.
type Canonical struct {
	Entities      []Entity       `json:"entities,omitempty"`
	Events        []Event        `json:"events,omitempty"`
	Temporal      *Temporal      `json:"temporal,omitempty"`
	Location      *Location      `json:"location,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Sentiment     string         `json:"sentiment,omitempty"`
	RawFacts      []string       `json:"raw_facts,omitempty"`
}

// Entity is a person, organization, product or place mentioned in an event.
type Entity struct {
	ID      string     `json:"id,omitempty"`
	Name    string     `json:"name"`
	Type    EntityType `json:"type"`
	Role    string     `json:"role,omitempty"`
	Aliases []string   `json:"aliases,omitempty"`
	Notes   string     `json:"notes,omitempty"`
}

// Event is a single business action within a Canonical.
type Event struct {
	Action        Action         `json:"action"`
	Subject       string         `json:"subject"`
	Quantity      *float64       `json:"quantity,omitempty"`
	Value         *float64       `json:"value,omitempty"`
	Currency      string         `json:"currency,omitempty"`
	PaymentMethod PaymentMethod  `json:"payment_method,omitempty"`
	Outcome       Outcome        `json:"outcome,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// Temporal carries the when-hints of an event.
type Temporal struct {
	When         string `json:"when,omitempty"`
	InferredDate string `json:"inferred_date,omitempty"`
}

// Location carries the where-hints of an event.
type Location struct {
	Mentioned string `json:"mentioned,omitempty"`
	Inferred  string `json:"inferred,omitempty"`
}

// Relationship links two named entities.
type Relationship struct {
	Entity1  string `json:"entity1"`
	Relation string `json:"relation"`
	Entity2  string `json:"entity2"`
}

// Float returns a pointer to v, for populating optional numeric fields.
func Float(v float64) *float64 {
	return &v
}

// PrimaryEntity returns the first entity, or nil when there is none.
func (c *Canonical) PrimaryEntity() *Entity {
	if len(c.Entities) == 0 {
		return nil
	}
	return &c.Entities[0]
}

// PrimaryEvent returns the first event, or nil when there is none.
func (c *Canonical) PrimaryEvent() *Event {
	if len(c.Events) == 0 {
		return nil
	}
	return &c.Events[0]
}

// TemporalHint returns the free-text "when", falling back to the inferred date.
func (c *Canonical) TemporalHint() string {
	if c.Temporal == nil {
		return ""
	}
	if c.Temporal.When != "" {
		return c.Temporal.When
	}
	return c.Temporal.InferredDate
}

// LocationHint returns the mentioned location, if any.
func (c *Canonical) LocationHint() string {
	if c.Location == nil {
		return ""
	}
	return c.Location.Mentioned
}

// Missing field names reported by IncompleteFields.
const (
	MissingPersonIdentity   = "person_identity"
	MissingTransactionValue = "transaction_value"
	MissingPaymentMethod    = "payment_method"
)

// IncompleteFields lists the facts a producer should still ask for before the
// event is complete: who it was, how much a sale was worth, and how a sale or
// payment was settled. The result is sorted and free of duplicates.
func (c *Canonical) IncompleteFields() []string {
	missing := map[string]struct{}{}
	if len(c.Entities) == 0 {
		missing[MissingPersonIdentity] = struct{}{}
	}
	for _, e := range c.Events {
		if e.Action == ActionSale && e.Value == nil {
			missing[MissingTransactionValue] = struct{}{}
		}
		if (e.Action == ActionSale || e.Action == ActionPayment) && e.PaymentMethod == "" {
			missing[MissingPaymentMethod] = struct{}{}
		}
	}

	out := make([]string, 0, len(missing))
	for k := range missing {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
