package malspp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"avaneesh/malspp-go/pkg/codec"
	"avaneesh/malspp-go/pkg/header"
	"avaneesh/malspp-go/pkg/mal"
	"avaneesh/malspp-go/pkg/registry"
	"avaneesh/malspp-go/pkg/transport"
)

var (
	ErrNotInitiator = errors.New("stage does not start an interaction")
	ErrNotReply     = errors.New("stage does not answer an interaction")
)

// EndpointConfig holds the header defaults and body encoding of an
// endpoint.
type EndpointConfig struct {
	// Registry validates body element counts. Optional.
	Registry registry.Registry

	// Codec encodes body elements. Defaults to codec.Default().
	Codec codec.Codec

	// Compression is applied to every body after encoding. Both peers
	// must agree on it.
	Compression codec.Compression

	QoS         mal.QoSLevel
	Session     mal.SessionType
	SessionName string
	Domain      []string
	NetworkZone string

	// Priority is carried when non-zero.
	Priority uint32

	// Timestamps stamps every outgoing header with the send time.
	Timestamps bool
}

// Delivery is a received message together with the interaction stage it
// carries.
type Delivery struct {
	*transport.Message
	Interaction mal.InteractionType
	Stage       mal.Stage

	endpoint *Endpoint
}

// Handler receives deliveries for an endpoint
type Handler interface {
	OnDelivery(d *Delivery)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(d *Delivery)

// OnDelivery calls f
func (f HandlerFunc) OnDelivery(d *Delivery) {
	f(d)
}

// Endpoint exchanges MAL interactions with remote endpoints.
type Endpoint struct {
	ep      *transport.Endpoint
	config  EndpointConfig
	handler Handler
}

// NewEndpoint registers an endpoint at addr on tr.
func NewEndpoint(tr *transport.Transport, addr transport.Address, config EndpointConfig, handler Handler) (*Endpoint, error) {
	if handler == nil {
		return nil, fmt.Errorf("endpoint %s: handler is required", addr)
	}
	if config.Codec == nil {
		config.Codec = codec.Default()
	}
	e := &Endpoint{config: config, handler: handler}
	ep, err := tr.CreateEndpoint(addr, transport.HandlerFunc(e.onMessage))
	if err != nil {
		return nil, err
	}
	e.ep = ep
	return e, nil
}

// CreateEndpoint registers an endpoint on the transport with the given ID.
func (m *Manager) CreateEndpoint(transportID string, addr transport.Address, config EndpointConfig, handler Handler) (*Endpoint, error) {
	tr, exists := m.GetTransport(transportID)
	if !exists {
		return nil, fmt.Errorf("transport %s not found", transportID)
	}
	return NewEndpoint(tr, addr, config, handler)
}

// Address returns the endpoint's address
func (e *Endpoint) Address() transport.Address {
	return e.ep.Address()
}

// Close unregisters the endpoint
func (e *Endpoint) Close() error {
	return e.ep.Close()
}

// Initiate starts an interaction with to by sending an initiator stage
// of op. It returns the transaction id that replies will carry.
func (e *Endpoint) Initiate(ctx context.Context, to transport.Address, op registry.Operation, stage mal.Stage, elements ...any) (uint64, error) {
	sdu, err := mal.ResolveSDU(op.Interaction, stage, false)
	if err != nil {
		return 0, err
	}
	if !sdu.Initiator() {
		return 0, fmt.Errorf("%w: %s", ErrNotInitiator, sdu)
	}

	h := e.newHeader(op, sdu)
	h.TransactionID = e.ep.NextTransactionID()
	if err := e.send(ctx, h, to, false, elements); err != nil {
		return 0, err
	}
	return h.TransactionID, nil
}

// Send sends a SEND interaction.
func (e *Endpoint) Send(ctx context.Context, to transport.Address, op registry.Operation, elements ...any) error {
	op.Interaction = mal.InteractionSend
	_, err := e.Initiate(ctx, to, op, mal.StageSend, elements...)
	return err
}

// Submit starts a SUBMIT interaction.
func (e *Endpoint) Submit(ctx context.Context, to transport.Address, op registry.Operation, elements ...any) (uint64, error) {
	op.Interaction = mal.InteractionSubmit
	return e.Initiate(ctx, to, op, mal.StageSubmit, elements...)
}

// Request starts a REQUEST interaction.
func (e *Endpoint) Request(ctx context.Context, to transport.Address, op registry.Operation, elements ...any) (uint64, error) {
	op.Interaction = mal.InteractionRequest
	return e.Initiate(ctx, to, op, mal.StageRequest, elements...)
}

// Invoke starts an INVOKE interaction.
func (e *Endpoint) Invoke(ctx context.Context, to transport.Address, op registry.Operation, elements ...any) (uint64, error) {
	op.Interaction = mal.InteractionInvoke
	return e.Initiate(ctx, to, op, mal.StageInvoke, elements...)
}

// Progress starts a PROGRESS interaction.
func (e *Endpoint) Progress(ctx context.Context, to transport.Address, op registry.Operation, elements ...any) (uint64, error) {
	op.Interaction = mal.InteractionProgress
	return e.Initiate(ctx, to, op, mal.StageProgress, elements...)
}

// Reply answers req with the given stage of its interaction. Error
// replies carry the error number and extra information as elements.
func (e *Endpoint) Reply(ctx context.Context, req *Delivery, stage mal.Stage, isError bool, elements ...any) error {
	sdu, err := mal.ResolveSDU(req.Interaction, stage, isError)
	if err != nil {
		return err
	}
	if sdu.Initiator() && sdu != mal.SDUPublish {
		return fmt.Errorf("%w: %s", ErrNotReply, sdu)
	}

	h := req.Header.Clone()
	h.SDUType = sdu
	e.applyDefaults(h)
	return e.send(ctx, h, req.From, isError, elements)
}

// ReplyError answers req with an error stage carrying code and info.
func (e *Endpoint) ReplyError(ctx context.Context, req *Delivery, stage mal.Stage, code uint32, info any) error {
	return e.Reply(ctx, req, stage, true, code, info)
}

func (e *Endpoint) newHeader(op registry.Operation, sdu mal.SDUType) *header.SecondaryHeader {
	h := &header.SecondaryHeader{
		SDUType:     sdu,
		Area:        op.Area,
		AreaVersion: op.AreaVersion,
		Service:     op.Service,
		Operation:   op.Number,
		QoS:         e.config.QoS,
		Session:     e.config.Session,
	}
	if e.config.SessionName != "" {
		h.SetSessionName(e.config.SessionName)
	}
	if len(e.config.Domain) > 0 {
		h.SetDomain(e.config.Domain...)
	}
	if e.config.NetworkZone != "" {
		h.SetNetworkZone(e.config.NetworkZone)
	}
	if e.config.Priority != 0 {
		h.SetPriority(e.config.Priority)
	}
	e.applyDefaults(h)
	return h
}

// applyDefaults sets the per-send header fields.
func (e *Endpoint) applyDefaults(h *header.SecondaryHeader) {
	if e.config.Timestamps {
		h.SetTimestamp(time.Now())
	}
}

func (e *Endpoint) send(ctx context.Context, h *header.SecondaryHeader, to transport.Address, isError bool, elements []any) error {
	h.IsError = isError
	if !isError {
		if err := e.checkElements(h, len(elements)); err != nil {
			return err
		}
	}

	body, err := e.config.Codec.Encode(elements...)
	if err != nil {
		return err
	}
	body, err = codec.Compress(body, e.config.Compression)
	if err != nil {
		return err
	}
	return e.ep.Send(ctx, &transport.Message{Header: h, To: to, Body: body})
}

// checkElements compares n to the registry's stage descriptor. Unknown
// operations are not checked.
func (e *Endpoint) checkElements(h *header.SecondaryHeader, n int) error {
	if e.config.Registry == nil {
		return nil
	}
	desc, err := e.config.Registry.ResolveStage(h.Area, h.AreaVersion, h.Service, h.Operation, h.SDUType.Stage())
	if err != nil {
		if errors.Is(err, registry.ErrUnknownStage) {
			return err
		}
		return nil
	}
	if len(desc.ElementTypes) != n {
		return fmt.Errorf("%w: %s has %d elements, want %d %v",
			codec.ErrElementCount, h.SDUType, n, len(desc.ElementTypes), desc.ElementTypes)
	}
	return nil
}

func (e *Endpoint) onMessage(msg *transport.Message) {
	interaction, stage, err := mal.LookupSDU(msg.Header.SDUType)
	if err != nil {
		return
	}
	e.handler.OnDelivery(&Delivery{Message: msg, Interaction: interaction, Stage: stage, endpoint: e})
}

// Reply answers d from the endpoint that received it.
func (d *Delivery) Reply(ctx context.Context, stage mal.Stage, isError bool, elements ...any) error {
	return d.endpoint.Reply(ctx, d, stage, isError, elements...)
}

// Body returns the decompressed message body.
func (d *Delivery) Body() ([]byte, error) {
	return codec.Decompress(d.Message.Body, d.endpoint.config.Compression)
}

// Decode decodes the body elements into targets. The number of targets
// must match the registered stage when the endpoint has a registry.
func (d *Delivery) Decode(targets ...any) error {
	body, err := d.Body()
	if err != nil {
		return err
	}
	if !d.Header.IsError {
		if err := d.endpoint.checkElements(d.Header, len(targets)); err != nil {
			return err
		}
	}
	return d.endpoint.config.Codec.Decode(body, targets...)
}

// Elements decodes every body element into its generic form.
func (d *Delivery) Elements() ([]any, error) {
	body, err := d.Body()
	if err != nil {
		return nil, err
	}
	n, err := d.endpoint.config.Codec.Count(body)
	if err != nil {
		return nil, err
	}
	values := make([]any, n)
	targets := make([]any, n)
	for i := range values {
		targets[i] = &values[i]
	}
	if err := d.endpoint.config.Codec.Decode(body, targets...); err != nil {
		return nil, err
	}
	return values, nil
}

// DecodeError decodes an error body: the error number and its extra
// information into info, which must be a non-nil pointer. Errors
// generated by a transport, such as DESTINATION_UNKNOWN, are never
// compressed.
func (d *Delivery) DecodeError(info any) (uint32, error) {
	if !d.Header.IsError {
		return 0, fmt.Errorf("%s is not an error", d.Header.SDUType)
	}
	if body, err := d.Body(); err == nil {
		if code, err := d.decodeError(body, info); err == nil {
			return code, nil
		}
	}
	return d.decodeError(d.Message.Body, info)
}

func (d *Delivery) decodeError(body []byte, info any) (uint32, error) {
	var code uint32
	if err := d.endpoint.config.Codec.Decode(body, &code, info); err != nil {
		return 0, err
	}
	return code, nil
}

// String returns a short description of the delivery
func (d *Delivery) String() string {
	return fmt.Sprintf("Delivery{%s stage %d, tid=%d, %s->%s}",
		d.Interaction, d.Stage, d.Header.TransactionID, d.From, d.To)
}
