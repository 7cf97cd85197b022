package peripheral

import (
	"fmt"

	"github.com/srg/gattsim/internal/engine"
	"github.com/srg/gattsim/internal/profile"
)

// EventType identifies what a peripheral event asks the simulator to do.
type EventType int

const (
	EventStart EventType = iota
	EventStop
	EventRead
	EventWrite
	EventSubscribe
	EventUnsubscribe
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventSubscribe:
		return "subscribe"
	case EventUnsubscribe:
		return "unsubscribe"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is a request from the BLE binding. Reply, when set, receives exactly
// one Result and must be buffered.
type Event struct {
	Type           EventType
	Profile        *profile.Profile
	Characteristic string
	Central        string
	Action         engine.Action
	Data           []byte
	Reply          chan Result
}

// Result answers an Event.
type Result struct {
	Data   []byte
	Report *engine.BuildReport
	Err    error
}

func (e Event) reply(r Result) {
	if e.Reply != nil {
		e.Reply <- r
	}
}
