package tools

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/messages"
	"github.com/room4-2/billvoice/ui"
)

type submission struct {
	callID string
	result any
}

type fakeSubmitter struct {
	mu   sync.Mutex
	sent []submission
}

func (f *fakeSubmitter) SendFunctionResult(callID string, result any) {
	f.mu.Lock()
	f.sent = append(f.sent, submission{callID, result})
	f.mu.Unlock()
}

func (f *fakeSubmitter) count(callID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.callID == callID {
			n++
		}
	}
	return n
}

func newTestDispatcher() (*Dispatcher, *fakeSubmitter, *ui.Recorder) {
	sub := &fakeSubmitter{}
	rec := &ui.Recorder{}
	d := NewDispatcher(sub, rec, rec, zap.NewNop())
	d.Clock = func() time.Time { return time.UnixMilli(1700000000000) }
	return d, sub, rec
}

func call(id, name, args string) messages.FunctionCall {
	return messages.FunctionCall{CallID: id, Name: name, Arguments: args}
}

func TestScenarioShowBills(t *testing.T) {
	d, sub, rec := newTestDispatcher()

	r := d.Handle(call("call_a", GetBills, `{"account_id":"acc_1"}`))

	require.True(t, r.Success())
	assert.Contains(t, r["message"], "Bills are now displayed")

	sig, ok := rec.Last(ui.SignalBillsRequested)
	require.True(t, ok)
	assert.Equal(t, "acc_1", sig.Payload["accountId"])
	assert.Equal(t, 1, sub.count("call_a"))

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Attachment)
	assert.Equal(t, ui.AttachBills, msgs[0].Attachment.Kind)
	assert.Len(t, msgs[0].Attachment.Bills, 3)
}

func TestScenarioSelectPlan(t *testing.T) {
	d, sub, rec := newTestDispatcher()

	r := d.Handle(call("call_b", SelectPaymentPlan, `{"bill_id":"bill_1","plan_id":"plan_12mo"}`))

	require.True(t, r.Success())
	assert.Contains(t, r["message"], "12 Months No Interest")
	assert.Contains(t, r["message"], "Medical Center")
	assert.InDelta(t, 104.17, r["monthly_payment"], 0.001)
	assert.Equal(t, 12, r["months"])

	sig, ok := rec.Last(ui.SignalPlanSelected)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"planId": "plan_12mo", "billId": "bill_1"}, sig.Payload)
	assert.Equal(t, 1, sub.count("call_b"))
}

func TestScenarioUnknownBillListsProviders(t *testing.T) {
	d, sub, rec := newTestDispatcher()

	r := d.Handle(call("call_c", SelectPaymentPlan, `{"bill_id":"nonexistent","plan_id":"plan_1"}`))

	assert.False(t, r.Success())
	for _, p := range []string{"Medical Center", "Dental Care", "Vision Care"} {
		assert.Contains(t, r.Err(), p)
	}
	assert.Empty(t, rec.Signals())
	assert.Equal(t, 1, sub.count("call_c"))
}

func TestSelectPlanUnknownPlanListsValidPlans(t *testing.T) {
	d, _, _ := newTestDispatcher()

	r := d.Handle(call("c", SelectPaymentPlan, `{"bill_id":"Dental","plan_id":"plan_18mo"}`))

	assert.False(t, r.Success())
	assert.Contains(t, r.Err(), "plan_6mo, plan_12mo")
	assert.Contains(t, r.Err(), "bill_1, bill_2, bill_3")
}

func TestInvalidJSONArgumentsStillSubmitOnce(t *testing.T) {
	d, sub, _ := newTestDispatcher()

	for _, name := range []string{LookupAccount, GetBills, SelectPaymentPlan, ProcessPayment, SendReceipt, ShowPaymentPlans, SelectPaymentOption} {
		id := "bad_" + name
		var r Result
		assert.NotPanics(t, func() { r = d.Handle(call(id, name, `{"identifier": `)) })
		assert.False(t, r.Success(), name)
		assert.Contains(t, r.Err(), "not valid JSON", name)
		assert.Equal(t, 1, sub.count(id), name)
	}
}

func TestDuplicateCallIDIsNotResubmitted(t *testing.T) {
	d, sub, _ := newTestDispatcher()

	first := d.Handle(call("dup", LookupAccount, `{"identifier":"9166065168"}`))
	second := d.Handle(call("dup", LookupAccount, `{"identifier":"9166065168"}`))

	assert.True(t, first.Success())
	assert.False(t, second.Success())
	assert.Equal(t, 1, sub.count("dup"))
	assert.True(t, d.Submitted("dup"))
}

func TestLookupAccountPhoneForms(t *testing.T) {
	d, _, rec := newTestDispatcher()

	a := d.Handle(call("1", LookupAccount, `{"identifier":"+1 (916) 606-5168"}`))
	b := d.Handle(call("2", LookupAccount, `{"identifier":"9166065168"}`))

	require.True(t, a.Success())
	require.True(t, b.Success())
	assert.Equal(t, a["account_id"], b["account_id"])

	sig, _ := rec.Last(ui.SignalAccountSelected)
	assert.Equal(t, "acc_1", sig.Payload["accountId"])

	miss := d.Handle(call("3", LookupAccount, `{"identifier":"000"}`))
	assert.False(t, miss.Success())
	assert.Contains(t, miss.Err(), "account not found")
}

func TestGetBillsAlwaysShowsBills(t *testing.T) {
	for _, args := range []string{`{}`, ``, `{"account_id":"sample_account_id"}`} {
		d, sub, rec := newTestDispatcher()

		r := d.Handle(call("x", GetBills, args))

		require.True(t, r.Success(), args)
		assert.Contains(t, r["message"], "Bills are now displayed", args)
		_, ok := rec.Last(ui.SignalBillsRequested)
		assert.True(t, ok, args)
		assert.NotContains(t, r, "customer_first_name", args)
		assert.Equal(t, 1, sub.count("x"), args)
	}

	d, _, rec := newTestDispatcher()
	r := d.Handle(call("y", GetBills, `{"account_id":"sample_account_id"}`))
	assert.Equal(t, "sample_account_id", r["account_id"])
	sig, _ := rec.Last(ui.SignalBillsRequested)
	assert.Equal(t, "sample_account_id", sig.Payload["accountId"])
}

func TestLookupAccountBySeparateNames(t *testing.T) {
	d, _, rec := newTestDispatcher()

	r := d.Handle(call("n1", LookupAccount, `{"first_name":"john","last_name":"DOE"}`))
	require.True(t, r.Success())
	assert.Equal(t, "acc_2", r["account_id"])
	sig, ok := rec.Last(ui.SignalAccountSelected)
	require.True(t, ok)
	assert.Equal(t, "acc_2", sig.Payload["accountId"])

	miss := d.Handle(call("n2", LookupAccount, `{"first_name":"John","last_name":"Smith"}`))
	assert.False(t, miss.Success())
	assert.Contains(t, miss.Err(), "account not found")

	empty := d.Handle(call("n3", LookupAccount, `{}`))
	assert.False(t, empty.Success())
	assert.Contains(t, empty.Err(), "first_name")
}

func TestShowPaymentPlansByProvider(t *testing.T) {
	d, _, rec := newTestDispatcher()

	r := d.Handle(call("p", ShowPaymentPlans, `{"bill_id":"dental care"}`))
	require.True(t, r.Success())
	assert.Equal(t, "bill_2", r["bill_id"])

	sig, ok := rec.Last(ui.SignalBillSelected)
	require.True(t, ok)
	assert.Equal(t, "bill_2", sig.Payload["billId"])

	miss := d.Handle(call("q", ShowPaymentPlans, `{"bill_id":"gym"}`))
	assert.False(t, miss.Success())
	assert.Equal(t, []string{"Medical Center", "Dental Care", "Vision Care"}, miss["available_providers"])
}

func TestSelectPaymentOptionRoutes(t *testing.T) {
	d, _, rec := newTestDispatcher()

	r := d.Handle(call("o1", SelectPaymentOption, `{"option":"I have a CareCredit card"}`))
	assert.Equal(t, "carecredit-card", r["option"])
	sig, _ := rec.Last(ui.SignalPaymentOptionSelected)
	assert.Equal(t, "carecredit-card", sig.Payload["option"])

	r = d.Handle(call("o2", SelectPaymentOption, `{"option":"monthly installments","bill_id":"bill_3"}`))
	assert.Equal(t, "plan", r["option"])
	sig, _ = rec.Last(ui.SignalBillSelected)
	assert.Equal(t, "bill_3", sig.Payload["billId"])
}

func TestProcessPaymentAndReceipt(t *testing.T) {
	d, _, rec := newTestDispatcher()

	r := d.Handle(call("pay", ProcessPayment, `{"bill_id":"bill_2","amount":"850.50"}`))
	require.True(t, r.Success())
	assert.Equal(t, "TXN1700000000000", r["transaction_id"])
	assert.Equal(t, 850.50, r["amount"])
	assert.Equal(t, "card", r["payment_method"])
	assert.Equal(t, "2023-11-14T22:13:20Z", r["timestamp"])

	sig, ok := rec.Last(ui.SignalPaymentProcessed)
	require.True(t, ok)
	assert.Equal(t, "TXN1700000000000", sig.Payload["transactionId"])

	receipt := d.Handle(call("rcpt", SendReceipt, `{"method":"email","recipient":"siva.kumar@example.com"}`))
	require.True(t, receipt.Success())
	assert.Equal(t, "RCPT1700000000000", receipt["receipt_id"])
	assert.NotContains(t, receipt, "transaction_id")

}

func TestPaymentAndReceiptAlwaysSucceed(t *testing.T) {
	d, sub, _ := newTestDispatcher()

	cases := map[string]float64{
		`{"bill_id":"bill_1"}`:                      0,
		`{"bill_id":"bill_1","amount":"lots"}`:      0,
		`{"bill_id":"bill_1","amount":"1,250.00"}`:  1250,
		`{"bill_id":"bill_1","amount":"$1,250.00"}`: 1250,
		`{}`:                                        0,
	}
	i := 0
	for args, want := range cases {
		i++
		id := fmt.Sprintf("pay_%d", i)
		r := d.Handle(call(id, ProcessPayment, args))
		require.True(t, r.Success(), args)
		assert.Equal(t, want, r["amount"], args)
		assert.Equal(t, 1, sub.count(id), args)
	}

	receipt := d.Handle(call("rcpt", SendReceipt, `{}`))
	require.True(t, receipt.Success())
	assert.Equal(t, "", receipt["method"])
	assert.Equal(t, "", receipt["recipient"])
	assert.Equal(t, "RCPT1700000000000", receipt["receipt_id"])
}

func TestUnknownFunction(t *testing.T) {
	d, sub, _ := newTestDispatcher()
	r := d.Handle(call("u", "transfer_funds", `{}`))
	assert.False(t, r.Success())
	assert.Contains(t, r.Err(), "Unknown function")
	assert.Equal(t, 1, sub.count("u"))
}

func TestRegistrySchemasStayInSync(t *testing.T) {
	openai := OpenAITools()
	gemini := GeminiTools()
	require.Len(t, gemini, 1)
	require.Len(t, gemini[0].FunctionDeclarations, len(openai))

	for i, def := range Definitions() {
		assert.Equal(t, def.Name, openai[i].Name)
		assert.Equal(t, def.Name, gemini[0].FunctionDeclarations[i].Name)
		assert.Equal(t, def.Required(), openai[i].Parameters["required"])
	}

	data, err := sonic.Marshal(openai[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type":"function",
		"name":"lookup_account",
		"description":"Look up customer account by phone number, email, or full name. Call this when the user provides their contact info to view bills or access their account.",
		"parameters":{
			"type":"object",
			"properties":{
				"identifier":{"type":"string","description":"Phone number, email address, or first and last name"},
				"first_name":{"type":"string","description":"Customer first name, when given separately"},
				"last_name":{"type":"string","description":"Customer last name, when given separately"}
			},
			"required":[]
		}
	}`, string(data))
}

func TestNormalizeOption(t *testing.T) {
	cases := map[string]Option{
		"apply for a new card":        OptionApplyNew,
		"Sign up":                     OptionApplyNew,
		"care credit":                 OptionCareCreditCard,
		"use my card":                 OptionCareCreditCard,
		"look up my existing account": OptionAccountLookup,
		"Lookup":                      OptionAccountLookup,
		"6 month plan":                OptionPlan,
		"":                            OptionPlan,
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeOption(in), in)
	}
}
