package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"avaneesh/malspp-go/pkg/channel"
	"avaneesh/malspp-go/pkg/codec"
	"avaneesh/malspp-go/pkg/header"
	"avaneesh/malspp-go/pkg/internal/clock"
	"avaneesh/malspp-go/pkg/mal"
	"avaneesh/malspp-go/pkg/registry"
	"avaneesh/malspp-go/pkg/spp"
)

const testQualifier = 247

var (
	groundAddr = NewAddress(testQualifier, 100)
	spaceAddr  = NewAddress(testQualifier, 200)
)

// link is a ground transport sending telecommands and a space transport
// sending telemetry, connected by an in-memory pipe.
type link struct {
	ground, space         *Transport
	groundPipe, spacePipe *channel.PipeChannel
}

type linkOptions struct {
	ground, space []Option
	mutate        func(ground, space *TransportConfig)
	drop          func([]byte) bool // applied to ground -> space packets
}

func newLink(t *testing.T, lo linkOptions) *link {
	t.Helper()

	groundConfig := DefaultTransportConfig()
	groundConfig.APIDQualifier = testQualifier
	groundConfig.PacketDataFieldLimit = 85
	spaceConfig := groundConfig
	spaceConfig.PacketType = spp.TypeTelemetry
	if lo.mutate != nil {
		lo.mutate(&groundConfig, &spaceConfig)
	}

	l := &link{}
	l.groundPipe, l.spacePipe = channel.NewPipe()
	l.groundPipe.Drop = lo.drop

	var err error
	l.ground, err = New(groundConfig, l.groundPipe, append([]Option{WithID("ground")}, lo.ground...)...)
	if err != nil {
		t.Fatalf("Failed to create ground transport: %v", err)
	}
	l.space, err = New(spaceConfig, l.spacePipe, append([]Option{WithID("space")}, lo.space...)...)
	if err != nil {
		t.Fatalf("Failed to create space transport: %v", err)
	}
	if err := l.ground.Open(); err != nil {
		t.Fatalf("Failed to open ground transport: %v", err)
	}
	if err := l.space.Open(); err != nil {
		t.Fatalf("Failed to open space transport: %v", err)
	}

	t.Cleanup(func() {
		l.ground.Close()
		l.space.Close()
	})
	return l
}

// inbox collects the messages delivered to an endpoint.
type inbox chan *Message

func (in inbox) OnMessage(msg *Message) { in <- msg }

func (in inbox) next(t *testing.T) *Message {
	t.Helper()
	select {
	case msg := <-in:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
		return nil
	}
}

func (in inbox) empty(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-in:
		t.Fatalf("Unexpected message %s", msg)
	case <-time.After(wait):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func createEndpoint(t *testing.T, tr *Transport, addr Address) (*Endpoint, inbox) {
	t.Helper()
	in := make(inbox, 16)
	ep, err := tr.CreateEndpoint(addr, in)
	if err != nil {
		t.Fatalf("Failed to create endpoint %s: %v", addr, err)
	}
	return ep, in
}

func TestTransport_FragmentedSubmitAndAck(t *testing.T) {
	l := newLink(t, linkOptions{})
	groundEP, groundIn := createEndpoint(t, l.ground, groundAddr)

	// The space endpoint acknowledges every submit with the body reversed
	_, err := l.space.CreateEndpoint(spaceAddr, HandlerFunc(func(msg *Message) {
		ack := msg.Header.Clone()
		ack.SDUType = mal.SDUSubmitAck
		body := make([]byte, len(msg.Body))
		for i, b := range msg.Body {
			body[len(body)-1-i] = b
		}
		if err := l.space.Send(context.Background(), &Message{Header: ack, From: msg.To, To: msg.From, Body: body}); err != nil {
			t.Errorf("Ack failed: %v", err)
		}
	}))
	if err != nil {
		t.Fatalf("Failed to create space endpoint: %v", err)
	}

	body := make([]byte, 1000)
	for i := range body {
		body[i] = byte(i)
	}
	h := testHeader()
	h.TransactionID = groundEP.NextTransactionID()
	h.SetDomain("esa", "mission")

	if err := groundEP.Send(context.Background(), &Message{Header: h, To: spaceAddr, Body: body}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ack := groundIn.next(t)
	if ack.Header.SDUType != mal.SDUSubmitAck {
		t.Errorf("Expected SUBMIT_ACK, got %s", ack.Header.SDUType)
	}
	if ack.From != spaceAddr || ack.To != groundAddr {
		t.Errorf("Expected %s->%s, got %s->%s", spaceAddr, groundAddr, ack.From, ack.To)
	}
	if ack.Header.TransactionID != h.TransactionID {
		t.Errorf("Expected transaction %d, got %d", h.TransactionID, ack.Header.TransactionID)
	}
	if ack.Header.DomainString() != "esa.mission" {
		t.Errorf("Expected domain esa.mission, got %q", ack.Header.DomainString())
	}
	if len(ack.Body) != len(body) || ack.Body[0] != body[len(body)-1] {
		t.Error("Ack body is not the reversed submit body")
	}
	if ack.Received.IsZero() {
		t.Error("Received time not set")
	}

	if got := l.ground.Statistics().GetTxPackets(); got < 2 {
		t.Errorf("Expected a fragmented send, got %d packets", got)
	}
	if l.ground.Statistics().GetTxMessages() != 1 || l.space.Statistics().GetRxMessages() != 1 {
		t.Error("Message counters not updated")
	}
	if l.space.Reassembling() != 0 || l.ground.Reassembling() != 0 {
		t.Error("Contexts left after delivery")
	}
}

func TestTransport_AddressesWithInstanceIDs(t *testing.T) {
	l := newLink(t, linkOptions{})
	from := groundAddr.WithID(1)
	to := spaceAddr.WithID(9)
	groundEP, _ := createEndpoint(t, l.ground, from)
	_, spaceIn := createEndpoint(t, l.space, to)
	_, plainIn := createEndpoint(t, l.space, spaceAddr)

	h := testHeader()
	h.SDUType = mal.SDUSend
	if err := groundEP.Send(context.Background(), &Message{Header: h, To: to, Body: []byte{1}}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msg := spaceIn.next(t)
	if msg.From != from || msg.To != to {
		t.Errorf("Expected %s->%s, got %s->%s", from, to, msg.From, msg.To)
	}
	plainIn.empty(t, 50*time.Millisecond)
}

func TestTransport_UnknownDestinationReply(t *testing.T) {
	l := newLink(t, linkOptions{})
	groundEP, groundIn := createEndpoint(t, l.ground, groundAddr)
	createEndpoint(t, l.space, spaceAddr)

	missing := NewAddress(testQualifier, 300)
	h := testHeader()
	h.TransactionID = groundEP.NextTransactionID()
	if err := groundEP.Send(context.Background(), &Message{Header: h, To: missing, Body: []byte{0x80}}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	reply := groundIn.next(t)
	if reply.Header.SDUType != mal.SDUSubmitAck || !reply.Header.IsError {
		t.Fatalf("Expected SUBMIT_ACK error, got %s error=%t", reply.Header.SDUType, reply.Header.IsError)
	}
	if reply.From != missing {
		t.Errorf("Expected reply from %s, got %s", missing, reply.From)
	}
	if reply.Header.TransactionID != h.TransactionID {
		t.Errorf("Expected transaction %d, got %d", h.TransactionID, reply.Header.TransactionID)
	}

	var code uint32
	var uri string
	if err := codec.Default().Decode(reply.Body, &code, &uri); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if code != mal.ErrorDestinationUnknown {
		t.Errorf("Expected error %d, got %d", mal.ErrorDestinationUnknown, code)
	}
	if uri != "malspp:247/300" {
		t.Errorf("Expected malspp:247/300, got %s", uri)
	}
	if got := l.space.Statistics().GetUnknownDestinations(); got != 1 {
		t.Errorf("Expected 1 unknown destination, got %d", got)
	}
}

func TestTransport_UnknownDestinationSendDropped(t *testing.T) {
	l := newLink(t, linkOptions{})
	groundEP, groundIn := createEndpoint(t, l.ground, groundAddr)

	h := testHeader()
	h.SDUType = mal.SDUSend
	if err := groundEP.Send(context.Background(), &Message{Header: h, To: NewAddress(testQualifier, 300), Body: []byte{0x80}}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitFor(t, "unknown destination", func() bool {
		return l.space.Statistics().GetUnknownDestinations() == 1
	})
	groundIn.empty(t, 100*time.Millisecond)
	if got := l.space.Statistics().GetTxMessages(); got != 0 {
		t.Errorf("Expected no reply, got %d messages sent", got)
	}
}

func TestTransport_MalformedPacketDiscarded(t *testing.T) {
	l := newLink(t, linkOptions{})
	_, spaceIn := createEndpoint(t, l.space, spaceAddr)

	// Secondary header flag set but only three bytes of header
	raw, err := spp.NewPacket(spp.TypeTelecommand, spaceAddr.APID, spp.SeqUnsegmented, 0, []byte{1, 2, 3}).Serialize(false)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if err := l.ground.channel.Write(context.Background(), raw); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, "malformed packet", func() bool {
		return l.space.Statistics().GetMalformedPackets() == 1
	})
	spaceIn.empty(t, 50*time.Millisecond)

	// The transport keeps working afterwards
	h := testHeader()
	h.SDUType = mal.SDUSend
	if err := l.ground.Send(context.Background(), &Message{Header: h, From: groundAddr, To: spaceAddr, Body: []byte{1}}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	spaceIn.next(t)
}

func TestTransport_InteractionMismatchDropped(t *testing.T) {
	reg := registry.NewStatic()
	err := reg.Load([]byte(`
areas:
  - name: Test
    number: 1000
    version: 1
    services:
      - name: Echo
        number: 1
        operations:
          - name: submitValue
            number: 1
            interaction: SUBMIT
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	l := newLink(t, linkOptions{space: []Option{WithRegistry(reg)}})
	_, spaceIn := createEndpoint(t, l.space, spaceAddr)

	send := func(sdu mal.SDUType, op uint16) {
		h := testHeader()
		h.SDUType = sdu
		h.Operation = op
		if err := l.ground.Send(context.Background(), &Message{Header: h, From: groundAddr, To: spaceAddr, Body: []byte{1}}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	send(mal.SDURequest, 1)
	waitFor(t, "mismatch discard", func() bool {
		return l.space.Statistics().GetMalformedPackets() == 1
	})
	spaceIn.empty(t, 50*time.Millisecond)

	// Matching interaction and unregistered operations are delivered
	send(mal.SDUSubmit, 1)
	if msg := spaceIn.next(t); msg.Header.SDUType != mal.SDUSubmit {
		t.Errorf("Expected SUBMIT, got %s", msg.Header.SDUType)
	}
	send(mal.SDURequest, 42)
	if msg := spaceIn.next(t); msg.Header.Operation != 42 {
		t.Errorf("Expected operation 42, got %d", msg.Header.Operation)
	}
}

func TestTransport_SweeperEvictsIncompleteMessage(t *testing.T) {
	clk := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	dropLast := func(data []byte) bool {
		pkt, _, err := spp.Parse(data, false)
		return err == nil && pkt.SequenceFlags == spp.SeqLast
	}
	l := newLink(t, linkOptions{
		space: []Option{WithClock(clk)},
		mutate: func(_, space *TransportConfig) {
			space.ReassemblyTimeout = 10 * time.Second
			space.ContextIdleTimeout = 10 * time.Second
			space.SweepInterval = time.Second
		},
		drop: dropLast,
	})
	_, spaceIn := createEndpoint(t, l.space, spaceAddr)

	h := testHeader()
	h.SDUType = mal.SDUSend
	if err := l.ground.Send(context.Background(), &Message{Header: h, From: groundAddr, To: spaceAddr, Body: make([]byte, 300)}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitFor(t, "partial message", func() bool {
		return l.space.Reassembling() == 1 && l.space.Statistics().GetRxPackets() == 4
	})
	if keys := l.space.PendingKeys(); len(keys) != 1 || keys[0].TransactionID != h.TransactionID {
		t.Errorf("Unexpected pending keys %v", keys)
	}

	waitFor(t, "idle eviction", func() bool {
		clk.Advance(2 * time.Second)
		return l.space.Reassembling() == 0
	})
	if got := l.space.Statistics().GetEvictedContexts(); got != 1 {
		t.Errorf("Expected 1 evicted context, got %d", got)
	}
	if got := l.space.Statistics().GetTimeoutErrors(); got != 4 {
		t.Errorf("Expected 4 timed out segments, got %d", got)
	}
	spaceIn.empty(t, 20*time.Millisecond)
}

func TestTransport_AbortReassembly(t *testing.T) {
	l := newLink(t, linkOptions{
		drop: func(data []byte) bool {
			pkt, _, err := spp.Parse(data, false)
			return err == nil && pkt.SequenceFlags == spp.SeqLast
		},
	})
	createEndpoint(t, l.space, spaceAddr)

	h := testHeader()
	h.SDUType = mal.SDUSend
	if err := l.ground.Send(context.Background(), &Message{Header: h, From: groundAddr, To: spaceAddr, Body: make([]byte, 200)}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitFor(t, "partial message", func() bool {
		return l.space.Statistics().GetRxPackets() == 3
	})

	if !l.space.AbortReassembly(l.space.PendingKeys()[0]) {
		t.Fatal("AbortReassembly found no context")
	}
	if l.space.Reassembling() != 0 {
		t.Error("Context survived abort")
	}
}

func TestTransport_EndpointLifecycle(t *testing.T) {
	l := newLink(t, linkOptions{})
	createEndpoint(t, l.space, spaceAddr)

	if _, err := l.space.CreateEndpoint(spaceAddr, make(inbox)); !errors.Is(err, ErrEndpointExists) {
		t.Errorf("Expected ErrEndpointExists, got %v", err)
	}
	if _, err := l.space.CreateEndpoint(NewAddress(1, 4000), make(inbox)); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress, got %v", err)
	}
	if _, ok := l.space.GetEndpoint(spaceAddr); !ok {
		t.Error("GetEndpoint did not find endpoint")
	}
	if !l.space.RemoveEndpoint(spaceAddr) {
		t.Error("RemoveEndpoint reported no endpoint")
	}
	if l.space.RemoveEndpoint(spaceAddr) {
		t.Error("Second RemoveEndpoint reported an endpoint")
	}

	// Removed endpoints are unknown destinations
	_, groundIn := createEndpoint(t, l.ground, groundAddr)
	h := testHeader()
	if err := l.ground.Send(context.Background(), &Message{Header: h, From: groundAddr, To: spaceAddr, Body: []byte{1}}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply := groundIn.next(t); !reply.Header.IsError {
		t.Error("Expected error reply for removed endpoint")
	}
}

func TestTransport_SendErrors(t *testing.T) {
	l := newLink(t, linkOptions{})
	ctx := context.Background()

	if err := l.ground.Send(ctx, &Message{To: spaceAddr}); !errors.Is(err, ErrNoHeader) {
		t.Errorf("Expected ErrNoHeader, got %v", err)
	}

	h := testHeader()
	h.SDUType = mal.SDUSend
	h.IsError = true
	if err := l.ground.Send(ctx, &Message{Header: h, To: spaceAddr}); !errors.Is(err, mal.ErrErrorNotAllowed) {
		t.Errorf("Expected ErrErrorNotAllowed, got %v", err)
	}

	h = testHeader()
	h.SetSessionName(string(bytes.Repeat([]byte("s"), 100)))
	if err := l.ground.Send(ctx, &Message{Header: h, To: spaceAddr, Body: []byte{1}}); !errors.Is(err, ErrSizeBudgetExceeded) {
		t.Errorf("Expected ErrSizeBudgetExceeded, got %v", err)
	}

	if err := l.ground.Open(); !errors.Is(err, ErrTransportOpen) {
		t.Errorf("Expected ErrTransportOpen, got %v", err)
	}

	l.ground.Close()
	if err := l.ground.Send(ctx, &Message{Header: testHeader(), To: spaceAddr}); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Expected ErrTransportClosed, got %v", err)
	}
	if err := l.ground.Open(); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Expected ErrTransportClosed on reopen, got %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	a, _ := channel.NewPipe()

	config := DefaultTransportConfig()
	config.PacketDataFieldLimit = header.BaseFixedSize - 1
	if _, err := New(config, a); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for small limit, got %v", err)
	}

	config = DefaultTransportConfig()
	config.TimeCodec = "gps"
	if _, err := New(config, a); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for time codec, got %v", err)
	}

	config = DefaultTransportConfig()
	config.PacketErrorControl = true
	config.PacketDataFieldLimit = spp.MaxDataFieldSize
	if _, err := New(config, a); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for limit with CRC, got %v", err)
	}
}
