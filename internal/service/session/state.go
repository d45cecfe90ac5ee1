package session

import (
	"fmt"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

// Trigger is an input to the session state machine.
type Trigger int

const (
	TriggerAuthenticated Trigger = iota
	TriggerAuthFailed
	TriggerReady
	TriggerUtteranceComplete
	TriggerAbort
	TriggerReplyReady
	TriggerReplySent
	TriggerEndRequested
	TriggerClose
	TriggerReleased
)

func (t Trigger) String() string {
	switch t {
	case TriggerAuthenticated:
		return "authenticated"
	case TriggerAuthFailed:
		return "auth_failed"
	case TriggerReady:
		return "ready"
	case TriggerUtteranceComplete:
		return "utterance_complete"
	case TriggerAbort:
		return "abort"
	case TriggerReplyReady:
		return "reply_ready"
	case TriggerReplySent:
		return "reply_sent"
	case TriggerEndRequested:
		return "end_requested"
	case TriggerClose:
		return "close"
	case TriggerReleased:
		return "released"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

type transitionKey struct {
	from    domain.SessionState
	trigger Trigger
}

var transitions = map[transitionKey]domain.SessionState{
	{domain.SessionConnecting, TriggerAuthenticated}:    domain.SessionAuthenticated,
	{domain.SessionConnecting, TriggerAuthFailed}:       domain.SessionClosing,
	{domain.SessionAuthenticated, TriggerReady}:         domain.SessionListening,
	{domain.SessionListening, TriggerUtteranceComplete}: domain.SessionProcessing,
	{domain.SessionProcessing, TriggerAbort}:            domain.SessionListening,
	{domain.SessionProcessing, TriggerReplyReady}:       domain.SessionResponding,
	{domain.SessionResponding, TriggerReplySent}:        domain.SessionListening,
	{domain.SessionResponding, TriggerEndRequested}:     domain.SessionClosing,
	{domain.SessionClosing, TriggerReleased}:            domain.SessionClosed,
}

// Transition is the session state machine. Close is accepted from every
// state except Closing and Closed.
func Transition(from domain.SessionState, trigger Trigger) (domain.SessionState, error) {
	if trigger == TriggerClose {
		if from == domain.SessionClosing || from == domain.SessionClosed {
			return from, fmt.Errorf("invalid transition: %s on %s", trigger, from)
		}
		return domain.SessionClosing, nil
	}
	to, ok := transitions[transitionKey{from, trigger}]
	if !ok {
		return from, fmt.Errorf("invalid transition: %s on %s", trigger, from)
	}
	return to, nil
}
