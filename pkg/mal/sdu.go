package mal

import (
	"errors"
	"fmt"
)

// SDUType is the 5-bit code in the secondary header that names an
// interaction pattern and stage together.
type SDUType uint8

const (
	SDUSend                 SDUType = 0
	SDUSubmit               SDUType = 1
	SDUSubmitAck            SDUType = 2
	SDURequest              SDUType = 3
	SDURequestResponse      SDUType = 4
	SDUInvoke               SDUType = 5
	SDUInvokeAck            SDUType = 6
	SDUInvokeResponse       SDUType = 7
	SDUProgress             SDUType = 8
	SDUProgressAck          SDUType = 9
	SDUProgressUpdate       SDUType = 10
	SDUProgressResponse     SDUType = 11
	SDURegister             SDUType = 12
	SDURegisterAck          SDUType = 13
	SDUPublishRegister      SDUType = 14
	SDUPublishRegisterAck   SDUType = 15
	SDUPublish              SDUType = 16
	SDUNotify               SDUType = 17
	SDUDeregister           SDUType = 18
	SDUDeregisterAck        SDUType = 19
	SDUPublishDeregister    SDUType = 20
	SDUPublishDeregisterAck SDUType = 21
)

// Errors
var (
	ErrUnknownSDUType   = errors.New("unknown SDU type")
	ErrUnknownStage     = errors.New("unknown interaction stage")
	ErrErrorNotAllowed  = errors.New("stage cannot carry an error")
	ErrNoErrorReplyPath = errors.New("interaction stage has no error reply")
)

type sduEntry struct {
	name        string
	interaction InteractionType
	stage       Stage
	// errorCapable stages may be sent with the isError bit set.
	errorCapable bool
	// initiator stages are sent by the consumer or provider that starts
	// an exchange; the others answer a previous stage.
	initiator bool
}

var sduTable = [...]sduEntry{
	SDUSend:                 {"SEND", InteractionSend, StageSend, false, true},
	SDUSubmit:               {"SUBMIT", InteractionSubmit, StageSubmit, false, true},
	SDUSubmitAck:            {"SUBMIT_ACK", InteractionSubmit, StageSubmitAck, true, false},
	SDURequest:              {"REQUEST", InteractionRequest, StageRequest, false, true},
	SDURequestResponse:      {"REQUEST_RESPONSE", InteractionRequest, StageRequestResponse, true, false},
	SDUInvoke:               {"INVOKE", InteractionInvoke, StageInvoke, false, true},
	SDUInvokeAck:            {"INVOKE_ACK", InteractionInvoke, StageInvokeAck, true, false},
	SDUInvokeResponse:       {"INVOKE_RESPONSE", InteractionInvoke, StageInvokeResponse, true, false},
	SDUProgress:             {"PROGRESS", InteractionProgress, StageProgress, false, true},
	SDUProgressAck:          {"PROGRESS_ACK", InteractionProgress, StageProgressAck, true, false},
	SDUProgressUpdate:       {"PROGRESS_UPDATE", InteractionProgress, StageProgressUpdate, true, false},
	SDUProgressResponse:     {"PROGRESS_RESPONSE", InteractionProgress, StageProgressResponse, true, false},
	SDURegister:             {"REGISTER", InteractionPubSub, StageRegister, false, true},
	SDURegisterAck:          {"REGISTER_ACK", InteractionPubSub, StageRegisterAck, true, false},
	SDUPublishRegister:      {"PUBLISH_REGISTER", InteractionPubSub, StagePublishRegister, false, true},
	SDUPublishRegisterAck:   {"PUBLISH_REGISTER_ACK", InteractionPubSub, StagePublishRegisterAck, true, false},
	SDUPublish:              {"PUBLISH", InteractionPubSub, StagePublish, true, true},
	SDUNotify:               {"NOTIFY", InteractionPubSub, StageNotify, true, false},
	SDUDeregister:           {"DEREGISTER", InteractionPubSub, StageDeregister, false, true},
	SDUDeregisterAck:        {"DEREGISTER_ACK", InteractionPubSub, StageDeregisterAck, false, false},
	SDUPublishDeregister:    {"PUBLISH_DEREGISTER", InteractionPubSub, StagePublishDeregister, false, true},
	SDUPublishDeregisterAck: {"PUBLISH_DEREGISTER_ACK", InteractionPubSub, StagePublishDeregisterAck, false, false},
}

// sduIndex maps (interaction, stage) to its SDU type.
var sduIndex = func() map[[2]uint8]SDUType {
	m := make(map[[2]uint8]SDUType, len(sduTable))
	for code, e := range sduTable {
		m[[2]uint8{uint8(e.interaction), uint8(e.stage)}] = SDUType(code)
	}
	return m
}()

// Valid reports whether t is a defined SDU type.
func (t SDUType) Valid() bool {
	return int(t) < len(sduTable)
}

// String returns string representation of SDUType
func (t SDUType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
	return sduTable[t].name
}

// Interaction returns the pattern t belongs to, or 0 if t is unknown.
func (t SDUType) Interaction() InteractionType {
	if !t.Valid() {
		return 0
	}
	return sduTable[t].interaction
}

// Stage returns the stage t encodes, or 0 if t is unknown.
func (t SDUType) Stage() Stage {
	if !t.Valid() {
		return 0
	}
	return sduTable[t].stage
}

// ErrorCapable reports whether t may be sent with the isError bit set.
func (t SDUType) ErrorCapable() bool {
	return t.Valid() && sduTable[t].errorCapable
}

// Initiator reports whether t starts an exchange rather than answering one.
func (t SDUType) Initiator() bool {
	return t.Valid() && sduTable[t].initiator
}

// ResolveSDU maps an interaction pattern and stage to its SDU type. The
// isError flag does not change the code; it is rejected on stages that
// cannot carry an error.
func ResolveSDU(interaction InteractionType, stage Stage, isError bool) (SDUType, error) {
	code, ok := sduIndex[[2]uint8{uint8(interaction), uint8(stage)}]
	if !ok {
		return 0, fmt.Errorf("%w: %s stage %d", ErrUnknownStage, interaction, stage)
	}
	if isError && !sduTable[code].errorCapable {
		return 0, fmt.Errorf("%w: %s", ErrErrorNotAllowed, code)
	}
	return code, nil
}

// LookupSDU is the inverse of ResolveSDU.
func LookupSDU(t SDUType) (InteractionType, Stage, error) {
	if !t.Valid() {
		return 0, 0, fmt.Errorf("%w: %d", ErrUnknownSDUType, uint8(t))
	}
	e := sduTable[t]
	return e.interaction, e.stage, nil
}

// ErrorReplySDU returns the SDU type used to report a delivery error back
// to the sender of a message with type t. Only initiator stages whose
// pattern has an error-capable answer have one.
func ErrorReplySDU(t SDUType) (SDUType, error) {
	switch t {
	case SDUSubmit:
		return SDUSubmitAck, nil
	case SDURequest:
		return SDURequestResponse, nil
	case SDUInvoke:
		return SDUInvokeAck, nil
	case SDUProgress:
		return SDUProgressAck, nil
	case SDURegister:
		return SDURegisterAck, nil
	case SDUPublishRegister:
		return SDUPublishRegisterAck, nil
	case SDUPublish:
		return SDUPublish, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNoErrorReplyPath, t)
}
