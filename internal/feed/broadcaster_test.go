package feed

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/dgnsrekt/leadfeed/internal/availability"
	"github.com/dgnsrekt/leadfeed/internal/wire"
)

// scriptedRand replays fixed values; it returns 0 once exhausted.
type scriptedRand struct {
	values []int
}

func (r *scriptedRand) IntN(n int) int {
	if len(r.values) == 0 {
		return 0
	}
	v := r.values[0]
	r.values = r.values[1:]
	return v % n
}

type recordingPublisher struct {
	messages    []wire.Message
	disconnects []int
}

func (p *recordingPublisher) Broadcast(msg wire.Message) int {
	p.messages = append(p.messages, msg)
	return 1
}

func (p *recordingPublisher) Disconnect(code int, reason string) int {
	p.disconnects = append(p.disconnects, code)
	return 1
}

func TestBroadcaster_TickAppliesDelta(t *testing.T) {
	log := availability.NewEventLog(availability.DefaultCapacity,
		[]availability.Record{{ID: "adv-001", Name: "Jordan Lee", AvailableSlots: 3}})
	pub := &recordingPublisher{}
	// advisor index 0, delta index 0 -> -1
	rng := &scriptedRand{values: []int{0, 0}}
	b := NewBroadcaster(log, pub, BroadcasterConfig{RestartEvery: 8}, rng, nil, zaptest.NewLogger(t))

	ev := b.Tick()
	if ev.Seq != 1 || ev.Records[0].AvailableSlots != 2 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(pub.messages) != 1 || pub.messages[0].Type != wire.TypeAvailability || pub.messages[0].Seq != 1 {
		t.Errorf("unexpected broadcast: %+v", pub.messages)
	}
	if len(pub.disconnects) != 0 {
		t.Errorf("no restart expected at seq 1")
	}
}

func TestBroadcaster_DeltaIsClamped(t *testing.T) {
	log := availability.NewEventLog(10, []availability.Record{
		{ID: "adv-001", AvailableSlots: 0},
		{ID: "adv-002", AvailableSlots: 8},
	})
	// pick 0 with -1, then pick 1 with +2
	rng := &scriptedRand{values: []int{0, 0, 1, 3}}
	b := NewBroadcaster(log, &recordingPublisher{}, BroadcasterConfig{}, rng, nil, zaptest.NewLogger(t))

	b.Tick()
	ev := b.Tick()
	if ev.Records[0].AvailableSlots != 0 || ev.Records[1].AvailableSlots != 8 {
		t.Errorf("slots escaped [0, 8]: %+v", ev.Records)
	}
}

func TestBroadcaster_RestartEveryEighthEvent(t *testing.T) {
	log := availability.NewEventLog(10, availability.DefaultRecords())
	pub := &recordingPublisher{}
	b := NewBroadcaster(log, pub, BroadcasterConfig{RestartEvery: 8}, &scriptedRand{}, nil, zaptest.NewLogger(t))

	for i := 0; i < 17; i++ {
		b.Tick()
	}
	if len(pub.disconnects) != 2 {
		t.Fatalf("expected restarts at seq 8 and 16, got %d", len(pub.disconnects))
	}
	for _, code := range pub.disconnects {
		if code != CloseServiceRestart {
			t.Errorf("restart code = %d, want %d", code, CloseServiceRestart)
		}
	}
	// The event that triggers the restart is still delivered first.
	if pub.messages[7].Seq != 8 {
		t.Errorf("expected seq 8 broadcast before restart, got %d", pub.messages[7].Seq)
	}
}

func TestBroadcaster_HeartbeatLeavesStateAlone(t *testing.T) {
	log := availability.NewEventLog(10, availability.DefaultRecords())
	pub := &recordingPublisher{}
	b := NewBroadcaster(log, pub, BroadcasterConfig{}, &scriptedRand{}, nil, zaptest.NewLogger(t))

	b.Heartbeat()
	if log.Seq() != 0 {
		t.Errorf("heartbeat advanced seq to %d", log.Seq())
	}
	if len(pub.messages) != 1 || pub.messages[0].Type != wire.TypeHeartbeat || pub.messages[0].TS == 0 {
		t.Errorf("unexpected heartbeat: %+v", pub.messages)
	}
}
