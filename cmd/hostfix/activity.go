package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/cuemby/hostfix/pkg/events"
)

// watchEvents are the broker events echoed while watching
var watchEvents = []events.EventType{
	events.EventFaultRecorded,
	events.EventRepairRecorded,
	events.EventHostsUpdated,
}

// followEvents prints events of the given types to w until ctx is done or
// the broker drops the subscription. The returned channel closes when the
// follower exits.
func followEvents(ctx context.Context, broker *events.Broker, w io.Writer, kinds ...events.EventType) <-chan struct{} {
	sub := broker.Subscribe(kinds...)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer broker.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				fmt.Fprintln(w, formatEvent(ev))
			}
		}
	}()
	return done
}

func formatEvent(ev *events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-16s %s", ev.Timestamp.Local().Format(time.DateTime), ev.Type, ev.Message)
	for _, k := range slices.Sorted(maps.Keys(ev.Metadata)) {
		fmt.Fprintf(&b, " %s=%s", k, ev.Metadata[k])
	}
	return b.String()
}
