// Package ledger is the append-only record of detected faults and repair
// attempts. Records are immutable once appended and read back in order.
package ledger

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/hostfix/pkg/events"
	"github.com/cuemby/hostfix/pkg/log"
	"github.com/cuemby/hostfix/pkg/metrics"
	"github.com/cuemby/hostfix/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store persists ledger records
type Store interface {
	AppendFault(rec *types.FaultRecord) error
	ListFaults() ([]*types.FaultRecord, error)
	AppendRepair(rec *types.RepairRecord) error
	ListRepairs() ([]*types.RepairRecord, error)
}

// Ledger appends fault and repair records
type Ledger struct {
	store  Store
	broker *events.Broker
	clock  clock.Clock
	logger zerolog.Logger
}

// Option configures a Ledger
type Option func(*Ledger)

// WithBroker publishes an event for every appended record
func WithBroker(b *events.Broker) Option {
	return func(l *Ledger) {
		l.broker = b
	}
}

// WithClock sets the clock used for record timestamps
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// New creates a ledger over store
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		clock:  clock.New(),
		logger: log.WithComponent("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordFault stamps rec with an ID and timestamp and appends it. The
// stamped record is returned even when persistence fails.
func (l *Ledger) RecordFault(rec types.FaultRecord) (types.FaultRecord, error) {
	rec.ID = uuid.New().String()
	rec.Timestamp = l.clock.Now()

	metrics.LedgerRecordsTotal.WithLabelValues("fault", string(rec.FaultType)).Inc()
	l.logger.Warn().
		Str("fault_id", rec.ID).
		Str("fault_type", string(rec.FaultType)).
		Str("classification", string(rec.Classification)).
		Float64("latency_ms", rec.LatencyMs).
		Msg("Fault recorded")

	if l.broker != nil {
		l.broker.Publish(&events.Event{
			ID:        rec.ID,
			Type:      events.EventFaultRecorded,
			Timestamp: rec.Timestamp,
			Message:   string(rec.FaultType),
			Metadata:  rec.Details,
		})
	}

	if err := l.store.AppendFault(&rec); err != nil {
		l.logger.Error().Err(err).Str("fault_id", rec.ID).Msg("Failed to persist fault record")
		return rec, fmt.Errorf("append fault: %w: %v", types.ErrPersistence, err)
	}
	return rec, nil
}

// RecordRepair stamps rec with an ID and timestamp and appends it
func (l *Ledger) RecordRepair(rec types.RepairRecord) (types.RepairRecord, error) {
	rec.ID = uuid.New().String()
	rec.Timestamp = l.clock.Now()

	result := "failure"
	if rec.Success {
		result = "success"
	}
	metrics.LedgerRecordsTotal.WithLabelValues("repair", string(rec.Scheme)).Inc()
	l.logger.Info().
		Str("repair_id", rec.ID).
		Str("scheme", string(rec.Scheme)).
		Str("result", result).
		Strs("tried", rec.AddressesTried).
		Msg("Repair recorded")

	if l.broker != nil {
		l.broker.Publish(&events.Event{
			ID:        rec.ID,
			Type:      events.EventRepairRecorded,
			Timestamp: rec.Timestamp,
			Message:   string(rec.Scheme) + " " + result,
			Metadata:  rec.Details,
		})
	}

	if err := l.store.AppendRepair(&rec); err != nil {
		l.logger.Error().Err(err).Str("repair_id", rec.ID).Msg("Failed to persist repair record")
		return rec, fmt.Errorf("append repair: %w: %v", types.ErrPersistence, err)
	}
	return rec, nil
}

// Faults returns every fault record in append order
func (l *Ledger) Faults() ([]*types.FaultRecord, error) {
	return l.store.ListFaults()
}

// Repairs returns every repair record in append order
func (l *Ledger) Repairs() ([]*types.RepairRecord, error) {
	return l.store.ListRepairs()
}
