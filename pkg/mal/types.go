// Package mal defines the Message Abstraction Layer vocabulary shared by
// the header codec and the transport: interaction patterns, stages,
// quality of service, session types and the SDU type resolver.
package mal

import "fmt"

// InteractionType identifies a MAL interaction pattern
type InteractionType uint8

const (
	InteractionSend     InteractionType = 1
	InteractionSubmit   InteractionType = 2
	InteractionRequest  InteractionType = 3
	InteractionInvoke   InteractionType = 4
	InteractionProgress InteractionType = 5
	InteractionPubSub   InteractionType = 6
)

// String returns string representation of InteractionType
func (i InteractionType) String() string {
	switch i {
	case InteractionSend:
		return "SEND"
	case InteractionSubmit:
		return "SUBMIT"
	case InteractionRequest:
		return "REQUEST"
	case InteractionInvoke:
		return "INVOKE"
	case InteractionProgress:
		return "PROGRESS"
	case InteractionPubSub:
		return "PUBSUB"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(i))
	}
}

// ParseInteractionType converts a pattern name to an InteractionType.
func ParseInteractionType(s string) (InteractionType, error) {
	for i := InteractionSend; i <= InteractionPubSub; i++ {
		if i.String() == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown interaction type %q", s)
}

// Stage is the interaction stage number. Values are scoped by pattern.
type Stage uint8

// SEND has a single stage.
const StageSend Stage = 1

// SUBMIT
const (
	StageSubmit    Stage = 1
	StageSubmitAck Stage = 2
)

// REQUEST
const (
	StageRequest         Stage = 1
	StageRequestResponse Stage = 2
)

// INVOKE
const (
	StageInvoke         Stage = 1
	StageInvokeAck      Stage = 2
	StageInvokeResponse Stage = 3
)

// PROGRESS
const (
	StageProgress         Stage = 1
	StageProgressAck      Stage = 2
	StageProgressUpdate   Stage = 3
	StageProgressResponse Stage = 4
)

// PUBSUB
const (
	StageRegister             Stage = 1
	StageRegisterAck          Stage = 2
	StagePublishRegister      Stage = 3
	StagePublishRegisterAck   Stage = 4
	StagePublish              Stage = 5
	StageNotify               Stage = 6
	StageDeregister           Stage = 7
	StageDeregisterAck        Stage = 8
	StagePublishDeregister    Stage = 9
	StagePublishDeregisterAck Stage = 10
)

// QoSLevel is the MAL quality of service carried in two header bits
type QoSLevel uint8

const (
	QoSBestEffort QoSLevel = 0
	QoSAssured    QoSLevel = 1
	QoSQueued     QoSLevel = 2
	QoSTimely     QoSLevel = 3
)

// String returns string representation of QoSLevel
func (q QoSLevel) String() string {
	switch q {
	case QoSBestEffort:
		return "BESTEFFORT"
	case QoSAssured:
		return "ASSURED"
	case QoSQueued:
		return "QUEUED"
	case QoSTimely:
		return "TIMELY"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(q))
	}
}

// SessionType is the MAL session carried in two header bits
type SessionType uint8

const (
	SessionLive       SessionType = 0
	SessionSimulation SessionType = 1
	SessionReplay     SessionType = 2
)

// String returns string representation of SessionType
func (s SessionType) String() string {
	switch s {
	case SessionLive:
		return "LIVE"
	case SessionSimulation:
		return "SIMULATION"
	case SessionReplay:
		return "REPLAY"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Standard MAL error numbers used by the transport.
const (
	ErrorDeliveryFailed       uint32 = 65536
	ErrorDeliveryTimedOut     uint32 = 65537
	ErrorDeliveryDelayed      uint32 = 65538
	ErrorDestinationUnknown   uint32 = 65539
	ErrorDestinationTransient uint32 = 65540
	ErrorDestinationLost      uint32 = 65541
	ErrorUnsupportedArea      uint32 = 65545
	ErrorUnsupportedOperation uint32 = 65546
	ErrorBadEncoding          uint32 = 65548
)
