package voice

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/cache"
	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

type SynthesizerConfig struct {
	MaxTextLength int
	MaxSegments   int
	CacheTTL      time.Duration
	Timeout       time.Duration
	ChunkBytes    int
	DefaultVoice  string
	Format        domain.AudioFormat
}

// Synthesizer turns response text into audio through the TTS provider,
// one cached segment at a time.
type Synthesizer struct {
	provider ports.TTSProvider
	breaker  *circuitbreaker.CircuitBreaker
	cache    ports.Cache
	cfg      SynthesizerConfig
	log      *zap.Logger
}

func NewSynthesizer(provider ports.TTSProvider, breaker *circuitbreaker.CircuitBreaker, c ports.Cache, cfg SynthesizerConfig, log *zap.Logger) *Synthesizer {
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = 8192
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = 1
	}
	if cfg.Format.Encoding == "" {
		cfg.Format = domain.AudioFormat{Encoding: domain.EncodingMP3}
	}
	return &Synthesizer{
		provider: provider,
		breaker:  breaker,
		cache:    c,
		cfg:      cfg,
		log:      log.With(zap.String("component", "synthesizer")),
	}
}

// Synthesize buffers the whole reply.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (*domain.SynthesisResult, error) {
	stream, err := s.Stream(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var buf []byte
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
	}

	return &domain.SynthesisResult{
		Audio:     buf,
		Format:    stream.Format(),
		Truncated: stream.Truncated(),
		Cached:    stream.Cached(),
	}, nil
}

// Stream starts synthesis and returns a finite stream of audio chunks.
// Segments are produced in order as the provider delivers them. The stream
// cannot be restarted; Close releases it early.
func (s *Synthesizer) Stream(ctx context.Context, text, voice string) (*AudioStream, error) {
	if voice == "" {
		voice = s.cfg.DefaultVoice
	}

	segments, truncated := SplitText(text, s.cfg.MaxTextLength, s.cfg.MaxSegments)
	if len(segments) == 0 {
		err := &domain.SynthesisError{Kind: domain.KindInvalidInput, Err: errors.New("empty text")}
		telemetry.StageErrors.WithLabelValues(StageSynthesize, string(err.Kind)).Inc()
		return nil, err
	}
	if truncated {
		s.log.Warn("Response text truncated for synthesis",
			zap.Int("chars", utf8.RuneCountInString(text)),
			zap.Int("segments", len(segments)),
			zap.String("error_kind", string(domain.KindTextTooLong)),
		)
	}

	spanCtx, span := telemetry.StartSpan(ctx, "voice.synthesize")
	span.SetAttributes(
		attribute.Int("segments", len(segments)),
		attribute.Bool("truncated", truncated),
	)

	stream := &AudioStream{
		chunks:    make(chan streamItem, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		format:    s.cfg.Format,
		truncated: truncated,
	}
	go s.produce(spanCtx, span, stream, segments, voice)
	return stream, nil
}

func (s *Synthesizer) produce(ctx context.Context, span trace.Span, stream *AudioStream, segments []string, voice string) {
	start := time.Now()
	defer close(stream.done)
	defer close(stream.chunks)

	allCached := true
	var err error
	for i, segment := range segments {
		if stream.stopped() {
			break
		}
		var hit bool
		hit, err = s.segment(ctx, stream, segment, voice)
		if err != nil {
			s.log.Warn("Segment synthesis failed",
				zap.Int("segment", i),
				zap.String("error_kind", string(domain.KindOf(err))),
				zap.Error(err),
			)
			stream.send(streamItem{err: err})
			break
		}
		allCached = allCached && hit
	}

	if err == nil && !stream.stopped() {
		stream.mu.Lock()
		stream.cached = allCached
		stream.mu.Unlock()
	}
	finishStage(StageSynthesize, start, span, err)
}

// segment emits one segment, from cache when possible. The provider body is
// read to the end even after the consumer went away, so the segment is
// still cached.
func (s *Synthesizer) segment(ctx context.Context, stream *AudioStream, text, voice string) (bool, error) {
	key := cache.Key(cache.OpTTS, voice, text)
	if s.cache != nil {
		if cached, ok := cache.Lookup(ctx, s.cache, cache.OpTTS, key, s.log); ok && cached != "" {
			s.emit(stream, []byte(cached))
			return true, nil
		}
	}

	audio, err := circuitbreaker.ExecuteWithResult(ctx, s.breaker, func(ctx context.Context) ([]byte, error) {
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
		body, _, err := s.provider.Synthesize(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		defer body.Close()

		var out []byte
		buf := make([]byte, s.cfg.ChunkBytes)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				out = append(out, chunk...)
				stream.send(streamItem{data: chunk})
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, err
			}
		}
		if len(out) == 0 {
			return nil, errors.New("provider returned no audio")
		}
		return out, nil
	})
	if err != nil {
		return false, wrapSynthesisError(err)
	}

	if s.cache != nil {
		cache.Store(ctx, s.cache, cache.OpTTS, key, audio, s.cfg.CacheTTL, s.log)
	}
	return false, nil
}

func (s *Synthesizer) emit(stream *AudioStream, data []byte) {
	for len(data) > 0 {
		n := min(len(data), s.cfg.ChunkBytes)
		if !stream.send(streamItem{data: data[:n]}) {
			return
		}
		data = data[n:]
	}
}

func wrapSynthesisError(err error) error {
	if circuitbreaker.Rejected(err) {
		return &domain.SynthesisError{Kind: domain.KindProviderError, Err: err}
	}
	return &domain.SynthesisError{Kind: domain.ClassifyCallError(err), Err: err}
}

type streamItem struct {
	data []byte
	err  error
}

// AudioStream is a lazy, finite sequence of audio chunks.
type AudioStream struct {
	chunks    chan streamItem
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	format    domain.AudioFormat
	truncated bool

	mu     sync.Mutex
	cached bool
	failed bool
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
// After an error every further call returns io.EOF.
func (a *AudioStream) Next(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	failed := a.failed
	a.mu.Unlock()
	if failed {
		return nil, io.EOF
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case item, ok := <-a.chunks:
		if !ok {
			return nil, io.EOF
		}
		if item.err != nil {
			a.mu.Lock()
			a.failed = true
			a.mu.Unlock()
			return nil, item.err
		}
		return item.data, nil
	}
}

// Close stops delivery. A segment already being fetched finishes in the
// background and is cached, but its audio is discarded.
func (a *AudioStream) Close() {
	a.closeOnce.Do(func() { close(a.stop) })
}

// Wait blocks until the producer has finished.
func (a *AudioStream) Wait() {
	<-a.done
}

func (a *AudioStream) Format() domain.AudioFormat { return a.format }
func (a *AudioStream) Truncated() bool            { return a.truncated }

// Cached reports whether every segment came from the cache. Only meaningful
// once Next has returned io.EOF.
func (a *AudioStream) Cached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cached
}

func (a *AudioStream) stopped() bool {
	select {
	case <-a.stop:
		return true
	default:
		return false
	}
}

func (a *AudioStream) send(item streamItem) bool {
	select {
	case <-a.stop:
		return false
	default:
	}
	select {
	case a.chunks <- item:
		return true
	case <-a.stop:
		return false
	}
}

// SplitText cuts text into at most maxSegments pieces of at most maxLen
// runes, preferring sentence and then word boundaries. truncated is set
// when text did not fit. maxLen <= 0 disables splitting.
func SplitText(text string, maxLen, maxSegments int) (segments []string, truncated bool) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil, false
	}
	if maxLen <= 0 {
		return []string{text}, false
	}

	var pieces []string
	for _, sentence := range splitSentences(text) {
		if utf8.RuneCountInString(sentence) <= maxLen {
			pieces = append(pieces, sentence)
			continue
		}
		pieces = append(pieces, splitWords(sentence, maxLen)...)
	}

	var current string
	for _, p := range pieces {
		switch {
		case current == "":
			current = p
		case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(p) <= maxLen:
			current += " " + p
		default:
			segments = append(segments, current)
			current = p
		}
	}
	if current != "" {
		segments = append(segments, current)
	}

	if maxSegments > 0 && len(segments) > maxSegments {
		return segments[:maxSegments], true
	}
	return segments, false
}

func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func splitWords(sentence string, maxLen int) []string {
	var out []string
	var current []rune
	for _, word := range strings.Fields(sentence) {
		w := []rune(word)
		for len(w) > maxLen {
			if len(current) > 0 {
				out = append(out, string(current))
				current = nil
			}
			out = append(out, string(w[:maxLen]))
			w = w[maxLen:]
		}
		if len(w) == 0 {
			continue
		}
		switch {
		case len(current) == 0:
			current = w
		case len(current)+1+len(w) <= maxLen:
			current = append(append(current, ' '), w...)
		default:
			out = append(out, string(current))
			current = w
		}
	}
	if len(current) > 0 {
		out = append(out, string(current))
	}
	return out
}
