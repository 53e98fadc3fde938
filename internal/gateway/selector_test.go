package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectFiltersKindAndEnabled(t *testing.T) {
	instances := []Instance{
		{ID: "g-mellat", ServiceID: "svc-1", Kind: KindMellat, Enabled: true, Priority: 1},
		{ID: "g-disabled", ServiceID: "svc-1", Kind: KindSaman, Enabled: false, Priority: 1},
		{ID: "g-saman", ServiceID: "svc-1", Kind: KindSaman, Enabled: true, Priority: 50},
	}

	inst, err := Select(instances, KindSaman, nil)
	require.NoError(t, err)
	assert.Equal(t, "g-saman", inst.ID)
}

func TestSelectLowestPriorityWins(t *testing.T) {
	instances := []Instance{
		{ID: "g-backup", Kind: KindSaman, Enabled: true, Priority: 100},
		{ID: "g-primary", Kind: KindSaman, Enabled: true, Priority: 10},
	}

	inst, err := Select(instances, KindSaman, nil)
	require.NoError(t, err)
	assert.Equal(t, "g-primary", inst.ID)
}

func TestSelectAppliesSelectionRule(t *testing.T) {
	instances := []Instance{
		{ID: "g-large", Kind: KindSaman, Enabled: true, Priority: 1, SelectionRule: "amount >= 50000"},
		{ID: "g-any", Kind: KindSaman, Enabled: true, Priority: 2},
	}

	inst, err := Select(instances, KindSaman, RuleParams{"amount": float64(1000)})
	require.NoError(t, err)
	assert.Equal(t, "g-any", inst.ID, "rule excludes the low-amount order from g-large")

	inst, err = Select(instances, KindSaman, RuleParams{"amount": float64(60000)})
	require.NoError(t, err)
	assert.Equal(t, "g-large", inst.ID)
}

func TestSelectBadRuleExcludesInstance(t *testing.T) {
	instances := []Instance{
		{ID: "g-broken", Kind: KindSaman, Enabled: true, Priority: 1, SelectionRule: "amount >>>"},
		{ID: "g-ok", Kind: KindSaman, Enabled: true, Priority: 2},
	}

	inst, err := Select(instances, KindSaman, RuleParams{"amount": float64(1000)})
	require.NoError(t, err)
	assert.Equal(t, "g-ok", inst.ID)
}

func TestSelectNoEligibleInstance(t *testing.T) {
	instances := []Instance{
		{ID: "g-mellat", Kind: KindMellat, Enabled: true},
	}

	_, err := Select(instances, KindBazaar, nil)
	assert.ErrorIs(t, err, ErrNoEligibleInstance)

	_, err = Select(nil, KindSaman, nil)
	assert.ErrorIs(t, err, ErrNoEligibleInstance)
}
