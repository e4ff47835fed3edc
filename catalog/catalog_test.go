package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+1 (916) 606-5168": "9166065168",
		"9166065168":        "9166065168",
		"1-916-606-5168":    "9166065168",
		"555-0123":          "5550123",
		"21234567890":       "21234567890",
		"no digits":         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestFindAccountPhoneFormsAgree(t *testing.T) {
	a, okA := FindAccount("+1 (916) 606-5168")
	b, okB := FindAccount("9166065168")
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, a, b)
	assert.Equal(t, "acc_1", a.ID)
}

func TestFindAccountByEmailAndName(t *testing.T) {
	a, ok := FindAccount("John.Doe@Example.com")
	require.True(t, ok)
	assert.Equal(t, "acc_2", a.ID)

	a, ok = FindAccount("siva kumar")
	require.True(t, ok)
	assert.Equal(t, "acc_1", a.ID)

	a, ok = FindAccountByName("JOHN", "doe")
	require.True(t, ok)
	assert.Equal(t, "acc_2", a.ID)

	_, ok = FindAccount("nobody@example.com")
	assert.False(t, ok)
	_, ok = FindAccount("   ")
	assert.False(t, ok)
}

func TestResolveBill(t *testing.T) {
	b, ok := ResolveBill("bill_2")
	require.True(t, ok)
	assert.Equal(t, "Dental Care", b.Provider)

	b, ok = ResolveBill("dental")
	require.True(t, ok)
	assert.Equal(t, "bill_2", b.ID)

	b, ok = ResolveBill("Vision Care")
	require.True(t, ok)
	assert.Equal(t, "bill_3", b.ID)

	_, ok = ResolveBill("nonexistent")
	assert.False(t, ok)
}

func TestBillPlans(t *testing.T) {
	b, ok := ResolveBill("bill_1")
	require.True(t, ok)

	p, ok := b.Plan("plan_12mo")
	require.True(t, ok)
	assert.Equal(t, 12, p.Months)
	assert.InDelta(t, 104.17, p.MonthlyPayment, 0.001)
	assert.Equal(t, "12 Months No Interest", p.Label)

	_, ok = b.Plan("plan_1")
	assert.False(t, ok)
	assert.Equal(t, []string{"plan_6mo", "plan_12mo", "plan_18mo", "plan_24mo_reduced"}, b.PlanIDs())
}

func TestTablesAreReadOnly(t *testing.T) {
	got := Bills()
	got[0].PaymentPlans[0].MonthlyPayment = 0
	got[0].Provider = "changed"

	b, _ := ResolveBill("bill_1")
	assert.Equal(t, "Medical Center", b.Provider)
	assert.InDelta(t, 208.33, b.PaymentPlans[0].MonthlyPayment, 0.001)

	assert.Equal(t, []string{"Medical Center", "Dental Care", "Vision Care"}, ProviderNames())
	assert.Equal(t, []string{"bill_1", "bill_2", "bill_3"}, BillIDs())
	assert.Len(t, Accounts(), 2)
}
