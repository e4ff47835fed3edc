// Package tools declares the operations the model may call and executes
// them against the catalog. The same definitions produce the OpenAI
// session tools, the Gemini function declarations, and the argument
// validation the dispatcher applies, so the three cannot drift apart.
package tools

import (
	"google.golang.org/genai"

	"github.com/room4-2/billvoice/messages"
)

// Tool names
const (
	LookupAccount       = "lookup_account"
	GetBills            = "get_bills"
	ShowPaymentPlans    = "show_payment_plans"
	SelectPaymentPlan   = "select_payment_plan"
	SelectPaymentOption = "select_payment_option"
	ProcessPayment      = "process_payment"
	SendReceipt         = "send_receipt"
)

type Param struct {
	Name        string
	Type        string
	Description string
	Enum        []string
	Required    bool
}

type Definition struct {
	Name        string
	Description string
	Params      []Param
}

// Schema renders the JSON-schema object both vendors accept.
func (d Definition) Schema() map[string]any {
	props := make(map[string]any, len(d.Params))
	for _, p := range d.Params {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   d.Required(),
	}
}

func (d Definition) Required() []string {
	req := []string{}
	for _, p := range d.Params {
		if p.Required {
			req = append(req, p.Name)
		}
	}
	return req
}

var definitions = []Definition{
	{
		Name:        LookupAccount,
		Description: "Look up customer account by phone number, email, or full name. Call this when the user provides their contact info to view bills or access their account.",
		Params: []Param{
			{Name: "identifier", Type: "string", Description: "Phone number, email address, or first and last name"},
			{Name: "first_name", Type: "string", Description: "Customer first name, when given separately"},
			{Name: "last_name", Type: "string", Description: "Customer last name, when given separately"},
		},
	},
	{
		Name:        GetBills,
		Description: "Show the customer's bills on screen. Pass the account_id from lookup_account when you have one; never make one up. The bills are displayed on screen; do not read them aloud.",
		Params: []Param{
			{Name: "account_id", Type: "string", Description: "Account identifier obtained from lookup_account"},
		},
	},
	{
		Name:        ShowPaymentPlans,
		Description: "Show available payment plans for a specific bill. Call this when user asks about installment or payment plan options. You can use either the bill ID or the provider name (e.g., 'Medical Center', 'Dental Care', 'Vision Care').",
		Params: []Param{
			{Name: "bill_id", Type: "string", Description: "Bill identifier (e.g., bill_1, bill_2) OR provider name (e.g., 'Medical Center', 'Dental Care', 'Vision Care')", Required: true},
		},
	},
	{
		Name:        SelectPaymentPlan,
		Description: "Select a specific payment plan after user has chosen one from the displayed options",
		Params: []Param{
			{Name: "bill_id", Type: "string", Description: "Bill identifier or provider name", Required: true},
			{Name: "plan_id", Type: "string", Description: "Payment plan identifier (e.g., plan_6mo, plan_12mo, plan_18mo, plan_24mo_reduced)", Required: true},
		},
	},
	{
		Name:        SelectPaymentOption,
		Description: "Record how the user wants to pay: apply for new financing, use an existing CareCredit card, look up an existing account, or choose a payment plan",
		Params: []Param{
			{Name: "option", Type: "string", Description: "The user's choice in their own words", Required: true},
			{Name: "bill_id", Type: "string", Description: "Bill identifier or provider name, when known"},
		},
	},
	{
		Name:        ProcessPayment,
		Description: "Process a payment for a bill",
		Params: []Param{
			{Name: "bill_id", Type: "string", Description: "Bill identifier"},
			{Name: "amount", Type: "number", Description: "Payment amount"},
			{Name: "payment_method", Type: "string", Description: "Payment method (card, bank)", Enum: []string{"card", "bank"}},
		},
	},
	{
		Name:        SendReceipt,
		Description: "Send payment receipt via email or SMS",
		Params: []Param{
			{Name: "method", Type: "string", Description: "Delivery method", Enum: []string{"email", "sms"}},
			{Name: "recipient", Type: "string", Description: "Email address or phone number"},
			{Name: "transaction_id", Type: "string", Description: "Transaction identifier"},
		},
	},
}

// Definitions returns the registry in declaration order
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}

func Lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// OpenAITools renders the registry for session.update
func OpenAITools() []messages.ToolDefinition {
	out := make([]messages.ToolDefinition, len(definitions))
	for i, d := range definitions {
		out[i] = messages.ToolDefinition{
			Type:        "function",
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema(),
		}
	}
	return out
}

// GeminiTools renders the registry as Live API function declarations
func GeminiTools() []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(definitions))
	for i, d := range definitions {
		decls[i] = &genai.FunctionDeclaration{
			Name:                 d.Name,
			Description:          d.Description,
			ParametersJsonSchema: d.Schema(),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
