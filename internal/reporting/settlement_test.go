package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateAggregates(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 8, d, 12, 0, 0, 0, time.UTC) }
	records := []Record{
		{GatewayKind: "saman", Status: "paid", Price: 1000, UpdatedAt: day(3)},
		{GatewayKind: "saman", Status: "failed", Price: 500, UpdatedAt: day(1)},
		{GatewayKind: "mellat", Status: "paid", Price: 2500, UpdatedAt: day(5)},
		{GatewayKind: "bazaar", Status: "pending", Price: 100, UpdatedAt: day(4)},
	}

	report := NewSettlementReporter().Generate(records)

	assert.Equal(t, 4, report.TotalOrders)
	assert.Equal(t, 2, report.Paid)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Pending)
	assert.EqualValues(t, 3500, report.AmountPaid)
	assert.EqualValues(t, 1000, report.AmountPaidByKind["saman"])
	assert.EqualValues(t, 2500, report.AmountPaidByKind["mellat"])
	assert.Equal(t, 2, report.OrdersByKind["saman"])
	assert.Equal(t, 1, report.FailuresByKind["saman"])
	assert.Equal(t, day(1), report.From)
	assert.Equal(t, day(5), report.To)
}

func TestGenerateEmpty(t *testing.T) {
	report := NewSettlementReporter().Generate(nil)

	assert.Zero(t, report.TotalOrders)
	assert.NotNil(t, report.AmountPaidByKind)
	assert.NotNil(t, report.OrdersByKind)
	assert.NotNil(t, report.FailuresByKind)
}
