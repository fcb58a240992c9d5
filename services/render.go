package services

import (
	"regexp"
	"strings"

	"pickup-notify/models"
)

// Message is a rendered notification ready for dispatch.
type Message struct {
	To          string
	Subject     string
	Body        string
	InlineImage string // file path of an inline image, empty for none
}

// Default templates per variant. Placeholder sets are fixed and enumerated by
// the per-variant map builders below; overrides substitute against the same
// map.
const (
	mealSubjectTemplate = "{description} Pick Up Reminder (Order #{reference})"

	standardMealBodyTemplate = `Hi {first_name},

This is a reminder that your order '{description}' is scheduled for pickup at {pickup_time}.

Thank you,
The Kitchen Team`

	bulkItemBodyTemplate = `Hi {first_name},

This is a reminder for your order on {pickup_date} scheduled for pickup around {pickup_time}.

Thank you,
The Kitchen Team`

	invoiceSubjectTemplate = "{description}_{member_name}_#({reference})"

	invoiceBodyTemplate = `Dear {payer_name},

Please find {member_name}'s {description} in the amount of {amount}:

{document_url}

Payment is due upon receipt. Please include invoice #{reference} in the payment memo.

Thanks for your attention.

Best regards`
)

var placeholderToken = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Renderer produces the (subject, body, attachments) triple for an order.
type Renderer struct {
	// InlineImagePath is attached inline to meal-style notifications.
	// Invoice notifications never carry attachments (the document is a link).
	InlineImagePath string
}

// Render selects the variant's templates, applies per-order overrides and
// substitutes the variant's placeholder map. An unresolved placeholder is a
// TemplateError; the caller reports it and the order stays pending.
func (r *Renderer) Render(o *models.Order) (*Message, error) {
	vals := placeholderValues(o)

	subject := defaultSubject(o.Variant)
	if o.SubjectOverride != "" {
		subject = o.SubjectOverride
	}
	body := defaultBody(o.Variant)
	if o.BodyOverride != "" {
		body = o.BodyOverride
	}

	subject, err := substitute(subject, vals)
	if err != nil {
		return nil, err
	}
	body, err = substitute(body, vals)
	if err != nil {
		return nil, err
	}

	msg := &Message{To: o.Recipient, Subject: subject, Body: body}
	if o.Variant != models.VariantInvoice {
		msg.InlineImage = r.InlineImagePath
	}
	return msg, nil
}

func defaultSubject(variant string) string {
	if variant == models.VariantInvoice {
		return invoiceSubjectTemplate
	}
	return mealSubjectTemplate
}

func defaultBody(variant string) string {
	switch variant {
	case models.VariantInvoice:
		return invoiceBodyTemplate
	case models.VariantBulkItem:
		return bulkItemBodyTemplate
	default:
		return standardMealBodyTemplate
	}
}

// placeholderValues builds the complete, fixed placeholder map for the
// order's variant. Every key the variant's templates may reference is always
// present, even when its value is empty.
func placeholderValues(o *models.Order) map[string]string {
	if o.Variant == models.VariantInvoice {
		return map[string]string{
			"payer_name":   firstToken(o.DisplayName),
			"member_name":  o.RawPickupText,
			"reference":    o.ReferenceNumber,
			"description":  o.Description,
			"amount":       o.Amount,
			"document_url": o.DocumentURL,
		}
	}
	return map[string]string{
		"first_name":  firstToken(o.DisplayName),
		"reference":   o.ReferenceNumber,
		"description": o.Description,
		"pickup_time": FormatPickupClock(o.RawPickupText),
		"pickup_date": firstToken(o.Description),
	}
}

// substitute replaces {name} tokens with values from vals. A token with no
// entry in vals fails the whole render; silent pass-through would leak raw
// templates to recipients.
func substitute(tpl string, vals map[string]string) (string, error) {
	missing := ""
	out := placeholderToken.ReplaceAllStringFunc(tpl, func(tok string) string {
		key := tok[1 : len(tok)-1]
		v, ok := vals[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return tok
		}
		return v
	})
	if missing != "" {
		return "", &TemplateError{Placeholder: missing}
	}
	return out, nil
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
