// Package attendance implements proof-of-presence check-in: daily course tokens, validated
// student scans, the attendance ledger, retroactive absence reconciliation and rates.
package attendance

import (
	"rollcall/attendance/internal/calendar"
	"rollcall/attendance/internal/enrollment"
	"rollcall/attendance/internal/geo"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/metrics"
)

type Deps struct {
	Store        Store
	Oracle       enrollment.Oracle
	Calendar     *calendar.Calendar
	Anchors      []geo.Point
	RadiusMeters float64
	Notifier     Notifier
	Logger       logging.Logger
	Metrics      *metrics.Metrics
}

// Service wires the components over one store and one calendar.
type Service struct {
	Issuer     *TokenIssuer
	Validator  *ScanValidator
	Ledger     *Ledger
	Reconciler *Reconciler
	Rates      *RateCalculator
}

func NewService(d Deps) *Service {
	ledger := NewLedger(d.Store, d.Oracle)
	rates := NewRateCalculator(d.Store, d.Oracle)
	return &Service{
		Issuer: NewTokenIssuer(d.Store, d.Oracle, d.Calendar, d.Anchors, d.Metrics),
		Validator: NewScanValidator(d.Store, d.Oracle, d.Calendar, ledger, rates, d.Notifier, ValidatorConfig{
			Anchors:      d.Anchors,
			RadiusMeters: d.RadiusMeters,
		}, d.Logger, d.Metrics),
		Ledger:     ledger,
		Reconciler: NewReconciler(d.Store, d.Oracle, d.Calendar, d.Logger, d.Metrics),
		Rates:      rates,
	}
}
