// Package ui is the surface the voice core exposes to a rendering layer:
// chat messages with optional rich attachments, and discrete UI signals.
package ui

import (
	"time"

	"github.com/google/uuid"

	"github.com/room4-2/billvoice/catalog"
)

// Message senders
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// AttachmentKind tells the renderer what rich content to draw
type AttachmentKind string

const (
	AttachBills          AttachmentKind = "bill_selection"
	AttachPaymentPlans   AttachmentKind = "payment_plans"
	AttachPaymentSummary AttachmentKind = "payment_summary"
	AttachAccount        AttachmentKind = "account"
)

type Attachment struct {
	Kind    AttachmentKind   `json:"type"`
	Bills   []catalog.Bill   `json:"bills,omitempty"`
	Plans   []catalog.Plan   `json:"plans,omitempty"`
	BillID  string           `json:"billId,omitempty"`
	Payment *PaymentSummary  `json:"payment,omitempty"`
	Account *catalog.Account `json:"account,omitempty"`
}

type PaymentSummary struct {
	TransactionID string    `json:"transactionId"`
	BillID        string    `json:"billId"`
	Amount        float64   `json:"amount"`
	Method        string    `json:"method"`
	Timestamp     time.Time `json:"timestamp"`
}

// ChatMessage is owned by the host once delivered.
type ChatMessage struct {
	ID         string      `json:"id"`
	Sender     string      `json:"sender"`
	Text       string      `json:"text"`
	Timestamp  time.Time   `json:"timestamp"`
	Attachment *Attachment `json:"metadata,omitempty"`
}

func NewMessage(sender, text string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// WithAttachment returns a copy of m carrying a.
func (m ChatMessage) WithAttachment(a Attachment) ChatMessage {
	m.Attachment = &a
	return m
}

// MessageSink receives chat messages. Delivery is fire-and-forget.
type MessageSink interface {
	AddMessage(msg ChatMessage)
}

// MessageFunc adapts a plain function to MessageSink
type MessageFunc func(ChatMessage)

func (f MessageFunc) AddMessage(msg ChatMessage) { f(msg) }

// Signal names
const (
	SignalBillsRequested        = "bills_requested"
	SignalBillSelected          = "bill_selected"
	SignalPlanSelected          = "plan_selected"
	SignalPaymentOptionSelected = "payment_option_selected"
	SignalAccountSelected       = "account_selected"
	SignalPaymentProcessed      = "payment_processed"
)

// Signals is the side channel to the renderer. Each call carries only the
// identifiers the renderer needs; every visual consequence is its concern.
type Signals interface {
	BillsRequested(accountID string)
	BillSelected(billID string)
	PlanSelected(planID, billID string)
	PaymentOptionSelected(option, billID string)
	AccountSelected(accountID string)
	PaymentProcessed(summary PaymentSummary)
}
