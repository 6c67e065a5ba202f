package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Decode error types.
var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidEnvelope    = errors.New("invalid message envelope")
)

// DecodeClient parses a client-to-server message into its typed payload.
// The switch is exhaustive over the client message set; anything else is
// ErrUnknownMessageType.
func DecodeClient(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	switch env.Type {
	case TypeSetReady:
		return decodePayload[SetReady](env)
	case TypeReleaseMaterial:
		return decodePayload[ReleaseMaterial](env)
	case TypeReleaseChecklist:
		return decodePayload[ReleaseChecklist](env)
	case TypeUpdateScores:
		return decodePayload[UpdateScores](env)
	case TypeSubmitEvaluation:
		return decodePayload[SubmitEvaluation](env)
	case TypeStopTimer:
		return decodePayload[StopTimer](env)
	case TypePauseTimer:
		return decodePayload[PauseTimer](env)
	case TypeResumeTimer:
		return decodePayload[ResumeTimer](env)
	case TypeResync:
		return decodePayload[Resync](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

// DecodeServer parses a server-to-client message into its typed payload.
// Used by the client package's event stream.
func DecodeServer(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	switch env.Type {
	case TypeJoined:
		return decodePayload[Joined](env)
	case TypeLeft:
		return decodePayload[Left](env)
	case TypeParticipantDisconnected:
		return decodePayload[ParticipantDisconnected](env)
	case TypeParticipantReconnected:
		return decodePayload[ParticipantReconnected](env)
	case TypeExistingParticipants:
		return decodePayload[ExistingParticipants](env)
	case TypeReadyChanged:
		return decodePayload[ReadyChanged](env)
	case TypeBothReady:
		return decodePayload[BothReady](env)
	case TypeSimulationStart:
		return decodePayload[SimulationStart](env)
	case TypeTimerUpdate:
		return decodePayload[TimerUpdate](env)
	case TypeTimerEnd:
		return decodePayload[TimerEnd](env)
	case TypeTimerStopped:
		return decodePayload[TimerStopped](env)
	case TypeSimulationPaused:
		return decodePayload[SimulationPaused](env)
	case TypeSimulationResumed:
		return decodePayload[SimulationResumed](env)
	case TypeMaterialReleased:
		return decodePayload[MaterialReleased](env)
	case TypeChecklistVisible:
		return decodePayload[ChecklistVisible](env)
	case TypeScoresUpdated:
		return decodePayload[ScoresUpdated](env)
	case TypeCandidateSubmitted:
		return decodePayload[CandidateSubmitted](env)
	case TypeSubmissionConfirmed:
		return decodePayload[SubmissionConfirmed](env)
	case TypeResyncState:
		return decodePayload[ResyncState](env)
	case TypeServerError:
		return decodePayload[ServerError](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

func decodePayload[T any](env Envelope) (T, error) {
	var payload T
	if len(env.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: bad %s payload: %v", ErrInvalidEnvelope, env.Type, err)
	}
	return payload, nil
}
