package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/ratelimit"
	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
	"github.com/seu-repo/voice-gateway/internal/service/voice"
)

// Replies used when a stage fails. Each failure class has its own wording.
const (
	MsgRateLimited          = "You've reached your request limit. Please try again in %s."
	MsgHearingTrouble       = "I'm having trouble hearing you right now. Please try again in a moment."
	MsgNoSpeech             = "Sorry, I didn't catch that. Could you say it again?"
	MsgUnderstandingTrouble = "I'm having trouble understanding right now. Please try again shortly."
	MsgUpstreamTrouble      = "I can't reach that service right now. Please try again later."
	MsgGenericTrouble       = "Something went wrong on my side. Please try again."
)

// Turn outcomes, used as metric labels and event payloads.
const (
	OutcomeOK            = "ok"
	OutcomeClarification = "clarification"
	OutcomeRateLimited   = "rate_limited"
	OutcomeDegraded      = "degraded"
	OutcomeAbandoned     = "abandoned"
)

type PipelineConfig struct {
	// MinTranscriptConfidence below which the user is asked to repeat
	// instead of classifying the transcript.
	MinTranscriptConfidence float64
}

// TurnInput is one utterance. Text, when set, bypasses transcription.
type TurnInput struct {
	SessionID    string
	Audio        *domain.AudioInput
	Text         string
	LanguageHint string
	History      []domain.Turn
}

// TurnHooks lets the caller forward partial results as they are produced.
// When Abandoned reports true the turn stops after the call in flight.
type TurnHooks struct {
	OnTranscript func(*domain.TranscriptResult)
	OnIntent     func(*domain.IntentResult)
	Abandoned    func() bool
}

func (h TurnHooks) abandoned() bool {
	return h.Abandoned != nil && h.Abandoned()
}

// TurnResult carries a response to speak unless the turn was abandoned.
// Err is the failure that was absorbed into it, if any.
type TurnResult struct {
	Transcript *domain.TranscriptResult
	Intent     *domain.IntentResult
	Response   *domain.ActionResponse
	Outcome    string
	Stage      string
	Err        error
	RetryAfter time.Duration
}

// RateLimited reports whether the turn was rejected before any provider
// call.
func (r *TurnResult) RateLimited() bool { return r.Outcome == OutcomeRateLimited }

// Pipeline runs transcription, classification and routing for one turn.
// Synthesis is left to the caller so it can stream or buffer.
type Pipeline struct {
	transcriber *voice.Transcriber
	classifier  *voice.Classifier
	router      *voice.Router
	synthesizer *voice.Synthesizer
	limiter     *ratelimit.Limiter
	cfg         PipelineConfig
	log         *zap.Logger
}

func NewPipeline(t *voice.Transcriber, c *voice.Classifier, r *voice.Router, s *voice.Synthesizer, limiter *ratelimit.Limiter, cfg PipelineConfig, log *zap.Logger) *Pipeline {
	return &Pipeline{
		transcriber: t,
		classifier:  c,
		router:      r,
		synthesizer: s,
		limiter:     limiter,
		cfg:         cfg,
		log:         log.With(zap.String("component", "pipeline")),
	}
}

func (p *Pipeline) Synthesizer() *voice.Synthesizer { return p.synthesizer }
func (p *Pipeline) Limiter() *ratelimit.Limiter     { return p.limiter }

// Process runs one turn. The voice rate limit is checked first; a rejected
// turn makes no provider call at all.
func (p *Pipeline) Process(ctx context.Context, principal *domain.Principal, in TurnInput, hooks TurnHooks) *TurnResult {
	log := p.log.With(zap.String("session_id", in.SessionID), zap.String("user_id", principal.UserID))
	res := p.process(ctx, log, principal, in, hooks)

	intent := "none"
	if res.Intent != nil {
		intent = res.Intent.Intent
	}
	telemetry.TurnsTotal.WithLabelValues(intent, res.Outcome).Inc()
	return res
}

func (p *Pipeline) process(ctx context.Context, log *zap.Logger, principal *domain.Principal, in TurnInput, hooks TurnHooks) *TurnResult {
	if p.limiter != nil {
		decision, err := p.limiter.Allow(ctx, principal.UserID)
		if err != nil {
			log.Error("Rate limiter unavailable", zap.String("stage", "rate_limit"), zap.Error(err))
			return degraded("rate_limit", err, MsgGenericTrouble)
		}
		if !decision.Allowed {
			rlErr := &domain.RateLimitError{Limit: p.limiter.Limit(), RetryAfter: decision.RetryAfter}
			log.Warn("Voice turn rate limited",
				zap.String("stage", "rate_limit"),
				zap.String("error_kind", string(domain.KindRateLimited)),
				zap.Duration("retry_after", decision.RetryAfter),
			)
			return &TurnResult{
				Response:   &domain.ActionResponse{Text: fmt.Sprintf(MsgRateLimited, humanDuration(decision.RetryAfter))},
				Outcome:    OutcomeRateLimited,
				Stage:      "rate_limit",
				Err:        rlErr,
				RetryAfter: decision.RetryAfter,
			}
		}
	}

	res := &TurnResult{}

	if in.Text != "" {
		res.Transcript = &domain.TranscriptResult{Text: in.Text, Language: in.LanguageHint, Confidence: 1, IsFinal: true}
	} else {
		if in.Audio == nil {
			return degraded(voice.StageTranscribe, &domain.TranscriptionError{Kind: domain.KindInvalidAudio, Err: errors.New("no audio")}, MsgNoSpeech)
		}
		transcript, err := p.transcriber.Transcribe(ctx, *in.Audio, in.LanguageHint)
		if err != nil {
			logStageError(log, voice.StageTranscribe, err)
			msg := MsgHearingTrouble
			if domain.KindOf(err) == domain.KindInvalidAudio {
				msg = MsgNoSpeech
			}
			return degraded(voice.StageTranscribe, err, msg)
		}
		res.Transcript = transcript
	}
	if hooks.abandoned() {
		res.Outcome = OutcomeAbandoned
		return res
	}
	if hooks.OnTranscript != nil {
		hooks.OnTranscript(res.Transcript)
	}

	if res.Transcript.Confidence < p.cfg.MinTranscriptConfidence {
		log.Info("Transcript confidence too low, asking to repeat",
			zap.Float64("confidence", res.Transcript.Confidence),
		)
		res.Response = &domain.ActionResponse{Text: MsgNoSpeech}
		res.Outcome = OutcomeClarification
		return res
	}

	intent, err := p.classifier.Classify(ctx, res.Transcript.Text, in.History)
	if err != nil {
		logStageError(log, voice.StageClassify, err)
		r := degraded(voice.StageClassify, err, MsgUnderstandingTrouble)
		r.Transcript = res.Transcript
		return r
	}
	res.Intent = intent
	if hooks.abandoned() {
		res.Outcome = OutcomeAbandoned
		return res
	}
	if hooks.OnIntent != nil {
		hooks.OnIntent(intent)
	}

	resp, err := p.router.Route(ctx, principal, intent)
	if err != nil {
		logStageError(log, voice.StageRoute, err)
		r := degraded(voice.StageRoute, err, MsgUpstreamTrouble)
		r.Transcript, r.Intent = res.Transcript, res.Intent
		return r
	}
	res.Response = resp
	res.Outcome = OutcomeOK
	if intent.NeedsClarification {
		res.Outcome = OutcomeClarification
	}
	return res
}

func degraded(stage string, err error, message string) *TurnResult {
	return &TurnResult{
		Response: &domain.ActionResponse{Text: message},
		Outcome:  OutcomeDegraded,
		Stage:    stage,
		Err:      err,
	}
}

func logStageError(log *zap.Logger, stage string, err error) {
	log.Warn("Pipeline stage failed",
		zap.String("stage", stage),
		zap.String("error_kind", string(domain.KindOf(err))),
		zap.Bool("circuit_open", circuitbreaker.Rejected(err)),
		zap.Error(err),
	)
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= time.Minute:
		return fmt.Sprintf("%d seconds", retryAfterSeconds(d))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int((d+time.Minute-1)/time.Minute))
	default:
		return d.Round(time.Minute).String()
	}
}
