package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/hostfix/pkg/events"
	"github.com/cuemby/hostfix/pkg/storage"
	"github.com/cuemby/hostfix/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFaultAndRepair(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	mock := clock.NewMock()
	now := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	mock.Set(now)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	l := New(store, WithBroker(broker), WithClock(mock))

	fault, err := l.RecordFault(types.FaultRecord{
		FaultType:      types.FaultTLSFailure,
		Classification: types.ClassificationBad,
		Details:        map[string]string{"target": "homepage"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, fault.ID)
	assert.True(t, now.Equal(fault.Timestamp))

	repair, err := l.RecordRepair(types.RepairRecord{
		Scheme:         types.SchemeHostsUpdate,
		FaultType:      types.FaultTLSFailure,
		Success:        true,
		AddressesTried: []string{"1.1.1.1"},
		Mapping:        map[string]string{"github.com": "1.1.1.1"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, fault.ID, repair.ID)

	faults, err := l.Faults()
	require.NoError(t, err)
	require.Len(t, faults, 1)
	assert.Equal(t, fault.ID, faults[0].ID)
	assert.Equal(t, "homepage", faults[0].Details["target"])

	repairs, err := l.Repairs()
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.True(t, repairs[0].Success)

	var seen []events.EventType
	for len(seen) < 2 {
		select {
		case ev := <-sub:
			seen = append(seen, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for ledger events")
		}
	}
	assert.Equal(t, []events.EventType{events.EventFaultRecorded, events.EventRepairRecorded}, seen)
}

type brokenStore struct {
	*storage.MemoryStore
}

func (brokenStore) AppendFault(*types.FaultRecord) error {
	return errors.New("read-only filesystem")
}

func TestRecordFaultPersistenceFailure(t *testing.T) {
	l := New(brokenStore{storage.NewMemoryStore()})

	rec, err := l.RecordFault(types.FaultRecord{FaultType: types.FaultTimeout})
	assert.ErrorIs(t, err, types.ErrPersistence)
	assert.NotEmpty(t, rec.ID)
}
