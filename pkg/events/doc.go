/*
Package events provides the in-process pub/sub broker that mirrors repair
progress and ledger activity to interested listeners.

# Architecture

	┌──────────────── EVENT BROKER ────────────────┐
	│                                              │
	│  Publish ──► event channel (buffer: 100)     │
	│                  │                           │
	│             broadcast loop                   │
	│                  │                           │
	│     subscriber channels (buffer: 50 each)    │
	│                                              │
	└──────────────────────────────────────────────┘

Publish never blocks. A full queue or a slow subscriber loses events
rather than stalling a repair cycle.

# Event Types

	cycle.started     a repair cycle began (CycleID set)
	stage.changed     the orchestrator entered a stage (Stage, Percent)
	hosts.updated     the hosts file was rewritten
	fault.recorded    a fault record was appended to the ledger
	repair.recorded   a repair record was appended to the ledger
	cycle.completed   the cycle finished; Metadata["action"] holds the result

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Stage, ev.Message)
		}
	}()
*/
package events
