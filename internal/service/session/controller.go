package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/internal/service/voice"
)

// Conn is the client connection a session runs on. Implementations must
// allow one reader and one writer concurrently.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Close reasons.
const (
	ReasonUnauthorized = "unauthorized"
	ReasonSessionLimit = "session_limit"
	ReasonDisconnect   = "disconnect"
	ReasonClientClose  = "client_close"
	ReasonEndSession   = "end_session"
	ReasonIdleTimeout  = "idle_timeout"
	ReasonShutdown     = "shutdown"
)

type Config struct {
	MaxAudioBytes      int
	ContextTurns       int
	IdleTimeout        time.Duration
	TurnTimeout        time.Duration
	AuthTimeout        time.Duration
	MaxFramesPerSecond int
	MaxSessionsPerUser int
	DefaultVoice       string
	LanguageHint       string
}

type inbound struct {
	messageType int
	data        []byte
	err         error
}

// Controller drives one voice session: authentication, the per-utterance
// pipeline and the reply stream.
type Controller struct {
	id       string
	conn     Conn
	token    string
	auth     ports.AuthService
	pipeline *Pipeline
	events   ports.EventPublisher
	cfg      Config
	log      *zap.Logger

	admit   func(*Controller) error
	release func(*Controller)

	stateMu sync.Mutex
	state   domain.SessionState

	writeMu  sync.Mutex
	connGone atomic.Bool
	discard  atomic.Bool
	stop     chan struct{}

	principal    *domain.Principal
	createdAt    time.Time
	lastActivity time.Time
	buffer       []byte
	oversize     bool
	history      []domain.Turn
	turns        int
	language     string
	voiceName    string
	flooding     bool
	busyNotified bool
	inflight     chan *TurnResult
}

func newController(id string, conn Conn, token string, auth ports.AuthService, pipeline *Pipeline, events ports.EventPublisher, cfg Config, log *zap.Logger) *Controller {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 5 * time.Second
	}
	if cfg.MaxFramesPerSecond <= 0 {
		cfg.MaxFramesPerSecond = 100
	}
	return &Controller{
		id:        id,
		conn:      conn,
		token:     token,
		auth:      auth,
		pipeline:  pipeline,
		events:    events,
		cfg:       cfg,
		log:       log.With(zap.String("session_id", id)),
		state:     domain.SessionConnecting,
		stop:      make(chan struct{}),
		language:  cfg.LanguageHint,
		voiceName: cfg.DefaultVoice,
	}
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) Principal() *domain.Principal { return c.principal }

func (c *Controller) State() domain.SessionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Controller) transition(trigger Trigger) {
	c.stateMu.Lock()
	from := c.state
	to, err := Transition(from, trigger)
	if err == nil {
		c.state = to
	}
	c.stateMu.Unlock()

	if err != nil {
		c.log.Debug("Ignored session transition", zap.Error(err))
		return
	}
	c.log.Debug("Session state changed", zap.Stringer("from", from), zap.Stringer("to", to), zap.Stringer("trigger", trigger))
}

// Run serves the session until it closes. Only authentication and session
// admission failures are returned as errors.
func (c *Controller) Run(ctx context.Context) error {
	c.createdAt = time.Now()
	c.lastActivity = c.createdAt

	reason, err := c.run(ctx)
	c.shutdown(reason)
	return err
}

func (c *Controller) run(ctx context.Context) (string, error) {
	authCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	principal, err := c.auth.ValidateToken(authCtx, c.token)
	cancel()
	if err != nil {
		c.transition(TriggerAuthFailed)
		c.log.Warn("Session authentication failed",
			zap.String("error_kind", string(domain.KindUnauthorized)),
			zap.Error(err),
		)
		c.send(errorFrame(CodeUnauthorized, "authentication failed"))
		if !errors.Is(err, domain.ErrAuthentication) {
			err = fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
		}
		return ReasonUnauthorized, err
	}

	c.principal = principal
	c.log = c.log.With(zap.String("user_id", principal.UserID))
	c.transition(TriggerAuthenticated)

	if c.admit != nil {
		if err := c.admit(c); err != nil {
			c.log.Warn("Session refused", zap.Error(err))
			c.send(errorFrame(CodeSessionLimit, err.Error()))
			c.transition(TriggerClose)
			return ReasonSessionLimit, err
		}
	}

	c.transition(TriggerReady)
	c.send(ServerFrame{Type: FrameConnected, SessionID: c.id, UserID: principal.UserID})
	c.reportQuota(ctx)
	c.publish(domain.EventSessionStarted, nil)
	c.log.Info("Voice session started")

	return c.loop(ctx), nil
}

// reportQuota tells the client how many voice turns it has left.
func (c *Controller) reportQuota(ctx context.Context) {
	limiter := c.pipeline.Limiter()
	if limiter == nil {
		return
	}
	remaining, err := limiter.Remaining(ctx, c.principal.UserID)
	if err != nil {
		c.log.Debug("Could not read remaining quota", zap.Error(err))
		return
	}
	f := statusFrame("listening")
	f.Remaining = &remaining
	if remaining == 0 {
		f.Message = "voice request limit reached"
	}
	c.send(f)
}

func (c *Controller) loop(ctx context.Context) string {
	frames := make(chan inbound, 16)
	go c.readLoop(frames)

	idle := time.NewTimer(c.cfg.IdleTimeout)
	defer idle.Stop()
	flood := rate.NewLimiter(rate.Limit(c.cfg.MaxFramesPerSecond), c.cfg.MaxFramesPerSecond)

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown

		case <-idle.C:
			if c.inflight != nil {
				continue
			}
			c.log.Info("Closing idle session", zap.Duration("idle", time.Since(c.lastActivity)))
			return ReasonIdleTimeout

		case res := <-c.inflight:
			c.inflight = nil
			c.finishTurn(res)
			if res.Response != nil && res.Response.SideEffect != nil && res.Response.SideEffect.Action == domain.SideEffectSessionClose {
				c.transition(TriggerEndRequested)
				return ReasonEndSession
			}
			c.transition(TriggerReplySent)
			resetTimer(idle, c.cfg.IdleTimeout)

		case in, ok := <-frames:
			if !ok || in.err != nil {
				c.connGone.Store(true)
				if in.err != nil && !errors.Is(in.err, io.EOF) {
					c.log.Debug("Connection read ended", zap.Error(in.err))
				}
				return ReasonDisconnect
			}
			c.lastActivity = time.Now()
			if c.inflight == nil {
				resetTimer(idle, c.cfg.IdleTimeout)
			}

			if !flood.Allow() {
				telemetry.FramesDropped.WithLabelValues("flood").Inc()
				if !c.flooding {
					c.flooding = true
					c.send(errorFrame(CodeTooManyFrames, "too many frames, slow down"))
				}
				continue
			}
			c.flooding = false

			if reason := c.handleFrame(ctx, in); reason != "" {
				return reason
			}
		}
	}
}

func (c *Controller) handleFrame(ctx context.Context, in inbound) string {
	if in.messageType == MessageBinary {
		c.onAudio(in.data)
		return ""
	}

	var f ClientFrame
	if err := json.Unmarshal(in.data, &f); err != nil || f.Type == "" {
		c.send(errorFrame(CodeBadFrame, "frames must be JSON objects with a type"))
		return ""
	}

	switch f.Type {
	case FrameAudioComplete:
		c.onAudioComplete(ctx, f)
	case FrameTextFallback:
		if c.inflight != nil {
			c.notifyBusy()
			return ""
		}
		if f.Text == "" {
			c.send(errorFrame(CodeEmptyUtterance, "text_fallback requires text"))
			return ""
		}
		c.startTurn(ctx, TurnInput{Text: f.Text})
	case FrameKeepalive:
	case FrameStart:
		if f.Language != "" {
			c.language = f.Language
		}
		if f.Voice != "" {
			c.voiceName = f.Voice
		}
		c.send(statusFrame("ready"))
	case FrameClose:
		return ReasonClientClose
	default:
		c.send(errorFrame(CodeUnknownType, "unknown frame type "+f.Type))
	}
	return ""
}

func (c *Controller) onAudio(data []byte) {
	if c.inflight != nil {
		telemetry.FramesDropped.WithLabelValues("busy").Inc()
		c.notifyBusy()
		return
	}
	if c.oversize {
		telemetry.FramesDropped.WithLabelValues("oversize").Inc()
		return
	}
	if c.cfg.MaxAudioBytes > 0 && len(c.buffer)+len(data) > c.cfg.MaxAudioBytes {
		telemetry.FramesDropped.WithLabelValues("oversize").Inc()
		c.buffer = nil
		c.oversize = true
		c.send(errorFrame(CodeAudioTooLarge, fmt.Sprintf("utterance exceeds %d bytes and was discarded", c.cfg.MaxAudioBytes)))
		return
	}
	c.buffer = append(c.buffer, data...)
}

func (c *Controller) onAudioComplete(ctx context.Context, f ClientFrame) {
	if c.inflight != nil {
		c.notifyBusy()
		return
	}
	if c.oversize {
		c.oversize = false
		return
	}

	data := c.buffer
	c.buffer = nil
	if len(data) == 0 {
		c.transition(TriggerUtteranceComplete)
		c.transition(TriggerAbort)
		c.send(errorFrame(CodeEmptyUtterance, "no audio received before audio_complete"))
		return
	}

	c.startTurn(ctx, TurnInput{Audio: &domain.AudioInput{
		Data: data,
		Format: domain.AudioFormat{
			Encoding:   domain.AudioEncoding(f.Format),
			SampleRate: f.SampleRate,
			Channels:   f.Channels,
		},
	}})
}

func (c *Controller) notifyBusy() {
	if c.busyNotified {
		return
	}
	c.busyNotified = true
	c.send(errorFrame(CodeBusy, "still answering the previous utterance"))
}

func (c *Controller) startTurn(ctx context.Context, in TurnInput) {
	c.transition(TriggerUtteranceComplete)
	c.busyNotified = false

	in.SessionID = c.id
	in.LanguageHint = c.language
	in.History = append([]domain.Turn(nil), c.history...)

	voiceName := c.voiceName
	done := make(chan *TurnResult, 1)
	c.inflight = done
	go func() { done <- c.runTurn(ctx, in, voiceName) }()
}

// runTurn processes one utterance. It is detached from the session
// context: after a disconnect the call in flight completes, so caches are
// still populated, but nothing further is sent or started.
func (c *Controller) runTurn(ctx context.Context, in TurnInput, voiceName string) *TurnResult {
	start := time.Now()
	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.TurnTimeout)
	defer cancel()
	turnCtx, span := telemetry.StartSpan(turnCtx, "session.turn")
	defer span.End()

	res := c.pipeline.Process(turnCtx, c.principal, in, TurnHooks{
		OnTranscript: func(t *domain.TranscriptResult) { c.sendTurn(transcriptFrame(t)) },
		OnIntent:     func(i *domain.IntentResult) { c.sendTurn(intentFrame(i)) },
		Abandoned:    c.discard.Load,
	})
	if res.Outcome == OutcomeAbandoned || c.discard.Load() {
		c.log.Info("Discarding turn result for closed session", zap.String("outcome", res.Outcome))
		return res
	}

	c.transition(TriggerReplyReady)
	if res.RateLimited() {
		c.sendTurn(ServerFrame{Type: FrameRateLimited, RetryAfter: retryAfterSeconds(res.RetryAfter), Message: res.Response.Text})
		c.publish(domain.EventTurnRateLimited, map[string]interface{}{"retry_after_seconds": retryAfterSeconds(res.RetryAfter)})
	}
	c.sendTurn(ServerFrame{Type: FrameResponse, Text: res.Response.Text})

	if !res.RateLimited() {
		c.speak(turnCtx, res.Response.Text, voiceName)
	}
	c.sendTurn(ServerFrame{Type: FrameAudioComplete})

	latency := time.Since(start)
	telemetry.TurnLatency.Observe(latency.Seconds())

	payload := map[string]interface{}{
		"outcome":    res.Outcome,
		"latency_ms": latency.Milliseconds(),
	}
	if res.Intent != nil {
		payload["intent"] = res.Intent.Intent
	}
	if res.Response.SideEffect != nil {
		payload["side_effect"] = res.Response.SideEffect.Action
	}
	if res.Err != nil {
		payload["stage"] = res.Stage
		payload["error_kind"] = string(domain.KindOf(res.Err))
	}
	c.publish(domain.EventTurnCompleted, payload)
	return res
}

// speak streams the reply audio. A synthesis failure leaves the client with
// the text reply already sent.
func (c *Controller) speak(ctx context.Context, text, voiceName string) {
	stream, err := c.pipeline.Synthesizer().Stream(ctx, text, voiceName)
	if err != nil {
		logStageError(c.log, voice.StageSynthesize, err)
		c.sendTurn(errorFrame(CodeSynthesisUnavailable, "audio is unavailable, showing text only"))
		return
	}
	defer stream.Close()

	if stream.Truncated() {
		c.sendTurn(statusFrame("response truncated"))
	}
	format := stream.Format()
	c.sendTurn(ServerFrame{Type: FrameAudioStart, Format: &format})

	for {
		if c.discard.Load() {
			stream.Close()
			stream.Wait()
			return
		}
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			logStageError(c.log, voice.StageSynthesize, err)
			c.sendTurn(errorFrame(CodeSynthesisUnavailable, "audio is unavailable, showing text only"))
			return
		}
		if !c.discard.Load() {
			c.write(MessageBinary, chunk)
		}
	}
}

func (c *Controller) finishTurn(res *TurnResult) {
	c.turns++
	if res.Intent == nil || res.Intent.NeedsClarification || res.Outcome != OutcomeOK {
		return
	}
	c.history = append(c.history, domain.Turn{
		Intent:   res.Intent.Intent,
		Entities: res.Intent.Entities,
		At:       time.Now(),
	})
	if k := c.cfg.ContextTurns; k > 0 && len(c.history) > k {
		c.history = append([]domain.Turn(nil), c.history[len(c.history)-k:]...)
	}
}

// History returns a copy of the remembered turns.
func (c *Controller) History() []domain.Turn {
	return append([]domain.Turn(nil), c.history...)
}

func (c *Controller) shutdown(reason string) {
	c.transition(TriggerClose)

	if reason != ReasonDisconnect && reason != ReasonUnauthorized && reason != ReasonSessionLimit {
		c.send(ServerFrame{Type: FrameClosing, Reason: reason})
	}
	c.discard.Store(true)
	close(c.stop)
	if err := c.conn.Close(); err != nil {
		c.log.Debug("Connection close failed", zap.Error(err))
	}

	if c.inflight != nil {
		<-c.inflight
		c.inflight = nil
	}
	c.buffer = nil

	if c.principal != nil && reason != ReasonSessionLimit {
		c.publish(domain.EventSessionClosed, map[string]interface{}{
			"reason":     reason,
			"turns":      c.turns,
			"duration_s": time.Since(c.createdAt).Seconds(),
		})
	}
	if c.release != nil && c.principal != nil {
		c.release(c)
	}
	telemetry.SessionsTotal.WithLabelValues(reason).Inc()
	c.transition(TriggerReleased)
	c.log.Info("Voice session closed", zap.String("reason", reason), zap.Int("turns", c.turns))
}

func (c *Controller) readLoop(out chan<- inbound) {
	for {
		mt, data, err := c.conn.ReadMessage()
		select {
		case out <- inbound{messageType: mt, data: data, err: err}:
		case <-c.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Controller) send(f ServerFrame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		c.log.Error("Failed to encode frame", zap.String("type", f.Type), zap.Error(err))
		return false
	}
	return c.write(MessageText, data)
}

// sendTurn sends a frame produced by a turn unless the session is closing.
func (c *Controller) sendTurn(f ServerFrame) {
	if c.discard.Load() {
		return
	}
	c.send(f)
}

func (c *Controller) write(messageType int, data []byte) bool {
	if c.connGone.Load() {
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.connGone.Store(true)
		c.log.Debug("Connection write failed", zap.Error(err))
		return false
	}
	return true
}

func (c *Controller) publish(eventType string, payload map[string]interface{}) {
	if c.events == nil || c.principal == nil {
		return
	}
	c.events.Publish(context.Background(), domain.Event{
		Type:      eventType,
		SessionID: c.id,
		UserID:    c.principal.UserID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
