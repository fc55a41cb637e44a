package testutil

import "github.com/roach88/logline/internal/canon"

// AmandaSale is the reference sale: Amanda Barros buys two shirts for
// 120 BRL, paid with Pix.
func AmandaSale() *canon.Canonical {
	return &canon.Canonical{
		Entities: []canon.Entity{{
			Name: "Amanda Barros",
			Type: canon.EntityPerson,
			Role: "customer",
		}},
		Events: []canon.Event{{
			Action:        canon.ActionSale,
			Subject:       "camisetas",
			Quantity:      canon.Float(2),
			Value:         canon.Float(120),
			Currency:      "BRL",
			PaymentMethod: canon.PaymentPix,
			Outcome:       canon.OutcomeCompleted,
		}},
		Temporal:  &canon.Temporal{When: "today"},
		Sentiment: "positive",
	}
}

// Sale returns a completed sale of subject to entity.
func Sale(entity, subject string, value float64) *canon.Canonical {
	return event(entity, canon.ActionSale, subject, value)
}

// Payment returns a payment from entity.
func Payment(entity, subject string, value float64) *canon.Canonical {
	return event(entity, canon.ActionPayment, subject, value)
}

// Return returns a product return by entity.
func Return(entity, subject string, value float64) *canon.Canonical {
	return event(entity, canon.ActionReturn, subject, value)
}

// Inquiry returns an event with no entity and no value.
func Inquiry(subject string) *canon.Canonical {
	return &canon.Canonical{
		Events: []canon.Event{{Action: canon.ActionInquiry, Subject: subject}},
	}
}

func event(entity string, action canon.Action, subject string, value float64) *canon.Canonical {
	return &canon.Canonical{
		Entities: []canon.Entity{{Name: entity, Type: canon.EntityPerson, Role: "customer"}},
		Events: []canon.Event{{
			Action:        action,
			Subject:       subject,
			Value:         canon.Float(value),
			Currency:      "BRL",
			PaymentMethod: canon.PaymentPix,
		}},
	}
}
