package tools

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/catalog"
	"github.com/room4-2/billvoice/logger"
	"github.com/room4-2/billvoice/messages"
	"github.com/room4-2/billvoice/ui"
)

// Result is what goes back to the model: always a success flag plus
// operation-specific fields, or an error string.
type Result map[string]any

func (r Result) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// Err returns the failure text, or "" for a successful result
func (r Result) Err() string {
	s, _ := r["error"].(string)
	return s
}

func success(fields Result) Result {
	fields["success"] = true
	return fields
}

func failure(format string, args ...any) Result {
	return Result{"success": false, "error": fmt.Sprintf(format, args...)}
}

// Submitter delivers a result for a call id back over the transport.
type Submitter interface {
	SendFunctionResult(callID string, result any)
}

// Dispatcher resolves function calls and submits exactly one result per
// call id.
type Dispatcher struct {
	submit  Submitter
	signals ui.Signals
	sink    ui.MessageSink
	log     *zap.Logger

	// Clock stamps synthesized transactions
	Clock func() time.Time

	mu        sync.Mutex
	submitted map[string]struct{}
}

// NewDispatcher wires the dispatcher to its collaborators. sink may be nil.
func NewDispatcher(submit Submitter, signals ui.Signals, sink ui.MessageSink, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		submit:    submit,
		signals:   signals,
		sink:      sink,
		log:       logger.OrGet(log),
		Clock:     time.Now,
		submitted: make(map[string]struct{}),
	}
}

// Handle executes call and submits its result. A call id seen before is a
// protocol desync: it is reported loudly and never submitted twice.
func (d *Dispatcher) Handle(call messages.FunctionCall) Result {
	d.mu.Lock()
	_, dup := d.submitted[call.CallID]
	if !dup {
		d.submitted[call.CallID] = struct{}{}
	}
	d.mu.Unlock()

	if dup {
		d.log.DPanic("❌ Duplicate function call id, result not resubmitted",
			zap.String("call_id", call.CallID),
			zap.String("name", call.Name),
		)
		return failure("duplicate call id %s", call.CallID)
	}

	d.log.Info("🔧 Function call", zap.String("name", call.Name), zap.String("call_id", call.CallID))
	result := d.execute(call)
	if !result.Success() {
		d.log.Warn("🔧 Function call failed", zap.String("name", call.Name), zap.String("error", result.Err()))
	}
	d.submit.SendFunctionResult(call.CallID, result)
	return result
}

// Submitted reports whether a result was already sent for callID
func (d *Dispatcher) Submitted(callID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.submitted[callID]
	return ok
}

func (d *Dispatcher) execute(call messages.FunctionCall) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("❌ Function panicked", zap.String("name", call.Name), zap.String("panic", fmt.Sprint(r)))
			result = failure("internal error in %s", call.Name)
		}
	}()

	def, ok := Lookup(call.Name)
	if !ok {
		return failure("Unknown function: %s", call.Name)
	}

	args, parseErr := parseArgs(call.Arguments)
	if parseErr != nil {
		d.log.Warn("⚠️ Malformed function arguments", zap.String("name", call.Name), zap.Error(parseErr))
		return failure("arguments were not valid JSON: %v", parseErr)
	}
	if missing := args.missing(def); len(missing) > 0 {
		return failure("missing required argument(s): %s", strings.Join(missing, ", "))
	}

	switch call.Name {
	case LookupAccount:
		return d.lookupAccount(args)
	case GetBills:
		return d.getBills(args)
	case ShowPaymentPlans:
		return d.showPaymentPlans(args)
	case SelectPaymentPlan:
		return d.selectPaymentPlan(args)
	case SelectPaymentOption:
		return d.selectPaymentOption(args)
	case ProcessPayment:
		return d.processPayment(args)
	case SendReceipt:
		return d.sendReceipt(args)
	default:
		return failure("Unknown function: %s", call.Name)
	}
}

func (d *Dispatcher) say(text string, attach *ui.Attachment) {
	if d.sink == nil {
		return
	}
	msg := ui.NewMessage(ui.SenderBot, text)
	if attach != nil {
		msg = msg.WithAttachment(*attach)
	}
	d.sink.AddMessage(msg)
}

func (d *Dispatcher) lookupAccount(args arguments) Result {
	id := args.str("identifier")
	first, last := args.str("first_name"), args.str("last_name")

	var acc catalog.Account
	ok := false
	switch {
	case first != "" && last != "":
		acc, ok = catalog.FindAccountByName(first, last)
		id = first + " " + last
	case id != "":
		acc, ok = catalog.FindAccount(id)
	default:
		return failure("provide an identifier, or first_name and last_name")
	}
	if !ok {
		return failure("account not found for %q", id)
	}
	d.signals.AccountSelected(acc.ID)
	return success(Result{
		"account_id": acc.ID,
		"account": map[string]any{
			"id":        acc.ID,
			"firstName": acc.FirstName,
			"lastName":  acc.LastName,
			"lastFour":  acc.LastFour,
		},
	})
}

func (d *Dispatcher) getBills(args arguments) Result {
	accountID := args.str("account_id")
	bills := catalog.Bills()
	d.signals.BillsRequested(accountID)
	d.say("Here are your bills. Please select one to continue:", &ui.Attachment{Kind: ui.AttachBills, Bills: bills})

	r := success(Result{
		"message":    "Bills are now displayed on screen. Do not read them aloud; ask which bill the user would like to pay.",
		"bill_count": len(bills),
		"account_id": accountID,
	})
	if acc, ok := catalog.AccountByID(accountID); ok {
		r["customer_first_name"] = acc.FirstName
	}
	return r
}

func (d *Dispatcher) showPaymentPlans(args arguments) Result {
	ref := args.str("bill_id")
	bill, ok := catalog.ResolveBill(ref)
	if !ok {
		r := failure("bill not found: %q. Available providers: %s", ref, strings.Join(catalog.ProviderNames(), ", "))
		r["available_providers"] = catalog.ProviderNames()
		return r
	}

	d.signals.BillSelected(bill.ID)
	d.say(fmt.Sprintf("Here are the payment plans for your %s bill:", bill.Provider),
		&ui.Attachment{Kind: ui.AttachPaymentPlans, Plans: bill.PaymentPlans, BillID: bill.ID})

	return success(Result{
		"message":  fmt.Sprintf("Payment plans for %s are now displayed on screen.", bill.Provider),
		"bill_id":  bill.ID,
		"provider": bill.Provider,
	})
}

func (d *Dispatcher) selectPaymentPlan(args arguments) Result {
	ref, planID := args.str("bill_id"), args.str("plan_id")
	bill, ok := catalog.ResolveBill(ref)
	if !ok {
		return failure("bill not found: %q. Valid bills: %s (providers: %s)",
			ref, strings.Join(catalog.BillIDs(), ", "), strings.Join(catalog.ProviderNames(), ", "))
	}
	plan, ok := bill.Plan(planID)
	if !ok {
		return failure("plan %q is not available for %s (%s). Valid plans: %s. Valid bills: %s",
			planID, bill.ID, bill.Provider, strings.Join(bill.PlanIDs(), ", "), strings.Join(catalog.BillIDs(), ", "))
	}

	d.signals.PlanSelected(plan.ID, bill.ID)
	return success(Result{
		"message": fmt.Sprintf("Selected %s for the %s bill. The payment details are now displayed on screen.",
			plan.Label, bill.Provider),
		"bill_id":         bill.ID,
		"plan_id":         plan.ID,
		"months":          plan.Months,
		"monthly_payment": plan.MonthlyPayment,
	})
}

func (d *Dispatcher) selectPaymentOption(args arguments) Result {
	option := NormalizeOption(args.str("option"))
	billID := ""
	if bill, ok := catalog.ResolveBill(args.str("bill_id")); ok {
		billID = bill.ID
	}

	if option == OptionPlan && billID != "" {
		d.signals.BillSelected(billID)
	} else {
		d.signals.PaymentOptionSelected(string(option), billID)
	}
	return success(Result{
		"option":  string(option),
		"bill_id": billID,
		"message": fmt.Sprintf("Payment option %s selected.", option),
	})
}

func (d *Dispatcher) processPayment(args arguments) Result {
	now := d.Clock()
	// an unreadable amount is recorded as 0
	amount, ok := args.number("amount")
	if !ok && args["amount"] != nil {
		d.log.Warn("⚠️ Unreadable payment amount", zap.Any("amount", args["amount"]))
	}
	billID := args.str("bill_id")
	if bill, ok := catalog.ResolveBill(billID); ok {
		billID = bill.ID
	}
	method := args.str("payment_method")
	if method == "" {
		method = "card"
	}

	summary := ui.PaymentSummary{
		TransactionID: fmt.Sprintf("TXN%d", now.UnixMilli()),
		BillID:        billID,
		Amount:        amount,
		Method:        method,
		Timestamp:     now,
	}
	d.signals.PaymentProcessed(summary)
	d.say(fmt.Sprintf("Payment of $%.2f processed successfully", amount),
		&ui.Attachment{Kind: ui.AttachPaymentSummary, BillID: billID, Payment: &summary})

	return success(Result{
		"transaction_id": summary.TransactionID,
		"amount":         amount,
		"bill_id":        billID,
		"payment_method": method,
		"timestamp":      now.UTC().Format(time.RFC3339),
	})
}

func (d *Dispatcher) sendReceipt(args arguments) Result {
	now := d.Clock()
	method, recipient := args.str("method"), args.str("recipient")

	d.say(fmt.Sprintf("Receipt sent via %s to %s", method, recipient), nil)

	r := Result{
		"method":     method,
		"recipient":  recipient,
		"receipt_id": fmt.Sprintf("RCPT%d", now.UnixMilli()),
		"sent_at":    now.UTC().Format(time.RFC3339),
	}
	if txn := args.str("transaction_id"); txn != "" {
		r["transaction_id"] = txn
	}
	return success(r)
}

type arguments map[string]any

// parseArgs never fails the call: malformed or non-object input yields an
// empty bundle alongside the parse error.
func parseArgs(raw string) (arguments, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return arguments{}, nil
	}
	var args map[string]any
	if err := sonic.UnmarshalString(raw, &args); err != nil {
		return arguments{}, fmt.Errorf("parse arguments: %w", err)
	}
	if args == nil {
		return arguments{}, fmt.Errorf("parse arguments: not an object")
	}
	return args, nil
}

func (a arguments) str(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (a arguments) number(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case string:
		v = strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(v), "$"), ",", "")
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (a arguments) missing(def Definition) []string {
	var out []string
	for _, name := range def.Required() {
		if a.str(name) == "" {
			out = append(out, name)
		}
	}
	return out
}
