// Package catalog is the read-only account and bill table the tool
// dispatcher queries. Nothing here is ever mutated at runtime.
package catalog

import (
	"slices"
	"strconv"
	"strings"
)

type Account struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	LastFour  string `json:"lastFour"`
}

// PlanType distinguishes promotional financing from reduced-rate plans
type PlanType string

const (
	PlanNoInterest PlanType = "no_interest"
	PlanReducedAPR PlanType = "reduced_apr"
)

type Plan struct {
	ID             string   `json:"id"`
	Type           PlanType `json:"type"`
	Months         int      `json:"months"`
	MonthlyPayment float64  `json:"monthlyPayment"`
	Label          string   `json:"label"`
	Details        string   `json:"details"`
}

type PaymentOption struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Action string `json:"action"`
}

type Bill struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider"`
	Amount         float64         `json:"amount"`
	PaymentOptions []PaymentOption `json:"paymentOptions"`
	PaymentPlans   []Plan          `json:"paymentPlans"`
}

// Plan returns the bill's plan with the given id
func (b Bill) Plan(id string) (Plan, bool) {
	for _, p := range b.PaymentPlans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// PlanIDs lists the bill's plan ids in display order
func (b Bill) PlanIDs() []string {
	ids := make([]string, len(b.PaymentPlans))
	for i, p := range b.PaymentPlans {
		ids[i] = p.ID
	}
	return ids
}

var standardOptions = []PaymentOption{
	{ID: "full", Label: "Pay in Full", Action: "pay_full"},
	{ID: "installment", Label: "Installment Plan", Action: "pay_installment"},
}

func noInterest(id string, months int, monthly float64) Plan {
	return Plan{
		ID:             id,
		Type:           PlanNoInterest,
		Months:         months,
		MonthlyPayment: monthly,
		Label:          strconv.Itoa(months) + " Months No Interest",
		Details:        "No interest if paid in full within " + strconv.Itoa(months) + " months",
	}
}

var accounts = []Account{
	{ID: "acc_1", FirstName: "Siva", LastName: "Kumar", Phone: "9166065168", Email: "siva.kumar@example.com", LastFour: "5678"},
	{ID: "acc_2", FirstName: "John", LastName: "Doe", Phone: "555-0123", Email: "john.doe@example.com", LastFour: "9876"},
}

var bills = []Bill{
	{
		ID:             "bill_1",
		Provider:       "Medical Center",
		Amount:         1250.00,
		PaymentOptions: standardOptions,
		PaymentPlans: []Plan{
			noInterest("plan_6mo", 6, 208.33),
			noInterest("plan_12mo", 12, 104.17),
			noInterest("plan_18mo", 18, 69.44),
			{
				ID:             "plan_24mo_reduced",
				Type:           PlanReducedAPR,
				Months:         24,
				MonthlyPayment: 58.00,
				Label:          "24 Months Reduced APR",
				Details:        "14.90% APR for 24 months",
			},
		},
	},
	{
		ID:             "bill_2",
		Provider:       "Dental Care",
		Amount:         850.50,
		PaymentOptions: standardOptions,
		PaymentPlans: []Plan{
			noInterest("plan_6mo", 6, 141.75),
			noInterest("plan_12mo", 12, 70.88),
		},
	},
	{
		ID:             "bill_3",
		Provider:       "Vision Care",
		Amount:         450.00,
		PaymentOptions: standardOptions,
		PaymentPlans: []Plan{
			noInterest("plan_6mo", 6, 75.00),
		},
	},
}

// Accounts returns a copy of the account table
func Accounts() []Account {
	return slices.Clone(accounts)
}

// Bills returns a copy of the bill table
func Bills() []Bill {
	out := make([]Bill, len(bills))
	for i, b := range bills {
		out[i] = b.clone()
	}
	return out
}

func (b Bill) clone() Bill {
	b.PaymentOptions = slices.Clone(b.PaymentOptions)
	b.PaymentPlans = slices.Clone(b.PaymentPlans)
	return b
}

// AccountByID looks an account up by its id
func AccountByID(id string) (Account, bool) {
	for _, a := range accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// NormalizePhone keeps only digits and drops a leading country code 1
// from an 11-digit number.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// FindAccount matches identifier by normalized phone, case-insensitive
// email, or "first last" name.
func FindAccount(identifier string) (Account, bool) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Account{}, false
	}
	phone := NormalizePhone(identifier)
	name := strings.Fields(strings.ToLower(identifier))

	for _, a := range accounts {
		if phone != "" && NormalizePhone(a.Phone) == phone {
			return a, true
		}
		if strings.EqualFold(a.Email, identifier) {
			return a, true
		}
		if len(name) == 2 && strings.ToLower(a.FirstName) == name[0] && strings.ToLower(a.LastName) == name[1] {
			return a, true
		}
	}
	return Account{}, false
}

// FindAccountByName matches first and last name, ignoring case
func FindAccountByName(first, last string) (Account, bool) {
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if first == "" || last == "" {
		return Account{}, false
	}
	for _, a := range accounts {
		if strings.EqualFold(a.FirstName, first) && strings.EqualFold(a.LastName, last) {
			return a, true
		}
	}
	return Account{}, false
}

// ResolveBill finds a bill by exact id, then by case-insensitive
// substring of the provider name.
func ResolveBill(ref string) (Bill, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Bill{}, false
	}
	for _, b := range bills {
		if b.ID == ref {
			return b.clone(), true
		}
	}
	needle := strings.ToLower(ref)
	for _, b := range bills {
		if strings.Contains(strings.ToLower(b.Provider), needle) {
			return b.clone(), true
		}
	}
	return Bill{}, false
}

func ProviderNames() []string {
	names := make([]string, len(bills))
	for i, b := range bills {
		names[i] = b.Provider
	}
	return names
}

func BillIDs() []string {
	ids := make([]string, len(bills))
	for i, b := range bills {
		ids[i] = b.ID
	}
	return ids
}

