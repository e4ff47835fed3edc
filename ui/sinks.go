package ui

import (
	"sync"

	"go.uber.org/zap"
)

// Signal is one recorded UI signal
type Signal struct {
	Name    string
	Payload map[string]string
}

// Recorder keeps every signal and message it receives. The text client
// prints from it and tests assert on it.
type Recorder struct {
	mu       sync.Mutex
	signals  []Signal
	messages []ChatMessage
}

func (r *Recorder) record(name string, payload map[string]string) {
	r.mu.Lock()
	r.signals = append(r.signals, Signal{Name: name, Payload: payload})
	r.mu.Unlock()
}

func (r *Recorder) BillsRequested(accountID string) {
	r.record(SignalBillsRequested, map[string]string{"accountId": accountID})
}

func (r *Recorder) BillSelected(billID string) {
	r.record(SignalBillSelected, map[string]string{"billId": billID})
}

func (r *Recorder) PlanSelected(planID, billID string) {
	r.record(SignalPlanSelected, map[string]string{"planId": planID, "billId": billID})
}

func (r *Recorder) PaymentOptionSelected(option, billID string) {
	r.record(SignalPaymentOptionSelected, map[string]string{"option": option, "billId": billID})
}

func (r *Recorder) AccountSelected(accountID string) {
	r.record(SignalAccountSelected, map[string]string{"accountId": accountID})
}

func (r *Recorder) PaymentProcessed(summary PaymentSummary) {
	r.record(SignalPaymentProcessed, map[string]string{
		"transactionId": summary.TransactionID,
		"billId":        summary.BillID,
	})
}

func (r *Recorder) AddMessage(msg ChatMessage) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

func (r *Recorder) Signals() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.signals...)
}

func (r *Recorder) Messages() []ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChatMessage(nil), r.messages...)
}

// Last returns the most recent signal with the given name
func (r *Recorder) Last(name string) (Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.signals) - 1; i >= 0; i-- {
		if r.signals[i].Name == name {
			return r.signals[i], true
		}
	}
	return Signal{}, false
}

// LogSink renders signals and messages as log lines, for headless clients.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) BillsRequested(accountID string) {
	s.Log.Info("🧾 Bills requested", zap.String("account", accountID))
}

func (s LogSink) BillSelected(billID string) {
	s.Log.Info("🧾 Bill selected", zap.String("bill", billID))
}

func (s LogSink) PlanSelected(planID, billID string) {
	s.Log.Info("🧾 Plan selected", zap.String("plan", planID), zap.String("bill", billID))
}

func (s LogSink) PaymentOptionSelected(option, billID string) {
	s.Log.Info("🧾 Payment option selected", zap.String("option", option), zap.String("bill", billID))
}

func (s LogSink) AccountSelected(accountID string) {
	s.Log.Info("🧾 Account selected", zap.String("account", accountID))
}

func (s LogSink) PaymentProcessed(summary PaymentSummary) {
	s.Log.Info("💳 Payment processed",
		zap.String("transaction", summary.TransactionID),
		zap.String("bill", summary.BillID),
		zap.Float64("amount", summary.Amount),
	)
}

func (s LogSink) AddMessage(msg ChatMessage) {
	fields := []zap.Field{zap.String("sender", msg.Sender), zap.String("text", msg.Text)}
	if msg.Attachment != nil {
		fields = append(fields, zap.String("attachment", string(msg.Attachment.Kind)))
	}
	s.Log.Info("💬 Message", fields...)
}

var (
	_ Signals     = (*Recorder)(nil)
	_ MessageSink = (*Recorder)(nil)
	_ Signals     = LogSink{}
	_ MessageSink = LogSink{}
)
