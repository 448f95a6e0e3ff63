package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffModules(t *testing.T) {
	tests := []struct {
		name       string
		current    []string
		next       []string
		activate   []string
		deactivate []string
	}{
		{name: "upgrade adds", current: []string{"e_signature"}, next: []string{"e_signature", "ai_assistant"}, activate: []string{"ai_assistant"}, deactivate: []string{}},
		{name: "downgrade removes", current: []string{"b", "a"}, next: []string{"a"}, activate: []string{}, deactivate: []string{"b"}},
		{name: "swap", current: []string{"a", "b"}, next: []string{"b", "c"}, activate: []string{"c"}, deactivate: []string{"a"}},
		{name: "same set", current: []string{"a", "b"}, next: []string{"b", " a "}, activate: []string{}, deactivate: []string{}},
		{name: "from nothing", current: nil, next: []string{"z", "y"}, activate: []string{"y", "z"}, deactivate: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := DiffModules(tt.current, tt.next)
			assert.Equal(t, tt.activate, diff.Activate)
			assert.Equal(t, tt.deactivate, diff.Deactivate)
		})
	}
}

func TestNormalizeModules(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, NormalizeModules([]string{"b", "a", " b", ""}))
}

func TestAllowanceMath(t *testing.T) {
	a := PlanAllowance{Resource: ResourceSignatures, Included: 100, OverageUnitPrice: decimal.RequireFromString("0.50")}

	assert.Equal(t, int64(0), a.OverageUnits(100))
	assert.Equal(t, int64(10), a.OverageUnits(110))
	assert.True(t, decimal.RequireFromString("5").Equal(a.OverageCost(110)))
	assert.InDelta(t, 0.8, a.Fraction(80), 1e-9)
	assert.InDelta(t, 1.1, a.Fraction(110), 1e-9)

	unlimited := PlanAllowance{Resource: ResourceStorage}
	assert.True(t, unlimited.Unlimited())
	assert.Zero(t, unlimited.Fraction(1_000_000))
	assert.True(t, unlimited.OverageCost(1_000_000).IsZero())
}

func TestPlanAccruedCost(t *testing.T) {
	plan := Plan{Allowances: []PlanAllowance{
		{Resource: ResourceSignatures, Included: 100, OverageUnitPrice: decimal.RequireFromString("0.50")},
		{Resource: ResourceAITokens, Included: 1000, OverageUnitPrice: decimal.RequireFromString("0.01")},
	}}
	cost := plan.AccruedCost(map[ResourceKind]int64{
		ResourceSignatures: 110,
		ResourceAITokens:   1500,
		ResourceStorage:    99,
	})
	assert.Equal(t, "10", cost.String())
}

func TestDirectionOf(t *testing.T) {
	assert.Equal(t, ChangeUpgrade, DirectionOf(decimal.NewFromInt(10)))
	assert.Equal(t, ChangeDowngrade, DirectionOf(decimal.NewFromInt(-1)))
	assert.Equal(t, ChangeLateral, DirectionOf(decimal.Zero))
}

func TestParseResource(t *testing.T) {
	r, err := ParseResource(" AI_Tokens ")
	require.NoError(t, err)
	assert.Equal(t, ResourceAITokens, r)

	_, err = ParseResource("pages")
	assert.ErrorIs(t, err, ErrInvalidResource)
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	_, err = LoadLocation("Nowhere/City")
	assert.ErrorIs(t, err, ErrInvalidTimezone)
}

func TestPlanSameTerms(t *testing.T) {
	base := Plan{
		ID:            "basic",
		Name:          "Basic",
		PricePerMonth: decimal.RequireFromString("29"),
		Modules:       []string{"e_signature", "archive"},
		Allowances: []PlanAllowance{
			{Resource: ResourceSignatures, Included: 100, OverageUnitPrice: decimal.RequireFromString("0.50")},
			{Resource: ResourceMessaging, Included: 10, OverageUnitPrice: decimal.RequireFromString("0.10"), HardCap: true},
		},
	}
	edit := func(fn func(p *Plan)) Plan {
		p := base
		p.Modules = append([]string(nil), base.Modules...)
		p.Allowances = append([]PlanAllowance(nil), base.Allowances...)
		fn(&p)
		return p
	}

	tests := []struct {
		name  string
		other Plan
		same  bool
	}{
		{name: "identical", other: edit(func(p *Plan) {}), same: true},
		{name: "renamed", other: edit(func(p *Plan) { p.Name = "Basic (legacy)" }), same: true},
		{name: "module order", other: edit(func(p *Plan) { p.Modules = []string{"archive", "e_signature"} }), same: true},
		{name: "price scale", other: edit(func(p *Plan) { p.PricePerMonth = decimal.RequireFromString("29.00") }), same: true},
		{name: "allowance order", other: edit(func(p *Plan) { p.Allowances[0], p.Allowances[1] = p.Allowances[1], p.Allowances[0] }), same: true},
		{name: "price", other: edit(func(p *Plan) { p.PricePerMonth = decimal.RequireFromString("39") }), same: false},
		{name: "module added", other: edit(func(p *Plan) { p.Modules = append(p.Modules, "ai_assistant") }), same: false},
		{name: "included", other: edit(func(p *Plan) { p.Allowances[0].Included = 150 }), same: false},
		{name: "overage price", other: edit(func(p *Plan) { p.Allowances[0].OverageUnitPrice = decimal.RequireFromString("0.40") }), same: false},
		{name: "hard cap", other: edit(func(p *Plan) { p.Allowances[1].HardCap = false }), same: false},
		{name: "allowance dropped", other: edit(func(p *Plan) { p.Allowances = p.Allowances[:1] }), same: false},
		{name: "allowance swapped for another resource", other: edit(func(p *Plan) { p.Allowances[1].Resource = ResourceStorage }), same: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.same, base.SameTerms(tt.other))
			assert.Equal(t, tt.same, tt.other.SameTerms(base))
		})
	}
}
