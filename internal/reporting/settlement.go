// Package reporting summarizes settlement activity for operators: how
// many orders closed, how much was captured, and where failed
// verifications stopped.
package reporting

import (
	"time"
)

// Record is one order's settlement facts, decoupled from the storage
// model so the reporter works over any order source.
type Record struct {
	ServiceID         string
	GatewayKind       string
	Status            string // pending, paid, failed
	Price             uint64
	ProviderReference string
	UpdatedAt         time.Time
}

// SettlementReport aggregates a window of records.
type SettlementReport struct {
	TotalOrders      int
	Paid             int
	Failed           int
	Pending          int
	AmountPaid       uint64
	AmountPaidByKind map[string]uint64
	OrdersByKind     map[string]int
	FailuresByKind   map[string]int
	From             time.Time
	To               time.Time
}

type SettlementReporter struct{}

func NewSettlementReporter() *SettlementReporter {
	return &SettlementReporter{}
}

// Generate aggregates the records. An empty input yields an empty report
// with initialized maps.
func (r *SettlementReporter) Generate(records []Record) *SettlementReport {
	report := &SettlementReport{
		AmountPaidByKind: make(map[string]uint64),
		OrdersByKind:     make(map[string]int),
		FailuresByKind:   make(map[string]int),
	}

	for _, rec := range records {
		report.TotalOrders++
		report.OrdersByKind[rec.GatewayKind]++

		if report.From.IsZero() || rec.UpdatedAt.Before(report.From) {
			report.From = rec.UpdatedAt
		}
		if rec.UpdatedAt.After(report.To) {
			report.To = rec.UpdatedAt
		}

		switch rec.Status {
		case "paid":
			report.Paid++
			report.AmountPaid += rec.Price
			report.AmountPaidByKind[rec.GatewayKind] += rec.Price
		case "failed":
			report.Failed++
			report.FailuresByKind[rec.GatewayKind]++
		default:
			report.Pending++
		}
	}
	return report
}
