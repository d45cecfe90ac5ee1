package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/ratelimit"
	"github.com/seu-repo/voice-gateway/internal/mocks"
	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/internal/service/voice"
)

const testToken = "token-42"

type harness struct {
	stt      *mocks.MockSTTProvider
	intent   *mocks.MockIntentProvider
	tts      *mocks.MockTTSProvider
	users    *mocks.MockUserStore
	search   *mocks.MockSearchService
	auth     *mocks.MockAuthService
	events   *mocks.MockEventPublisher
	cache    *mocks.MockCache
	store    *ratelimit.MemoryStore
	pipeline *Pipeline
	manager  *Manager
	cfg      Config
}

type harnessOptions struct {
	voiceLimit    int
	intentTimeout time.Duration
	session       func(*Config)
}

func testBreaker(name string) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Settings{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		IsExcluded:       domain.ExcludedFromBreaker,
	}, zap.NewNop())
}

// intentFor answers like a well-behaved model for a few fixed utterances.
func intentFor(_ context.Context, req ports.IntentRequest) ([]byte, error) {
	lower := strings.ToLower(req.Text)
	switch {
	case lower == "show my profile":
		return []byte(`{"intent":"get_profile","entities":[],"confidence":0.93}`), nil
	case lower == "goodbye":
		return []byte(`{"intent":"end_session","entities":[],"confidence":0.95}`), nil
	case strings.HasPrefix(lower, "search for "):
		q := req.Text[len("search for "):]
		return []byte(fmt.Sprintf(`{"intent":"search_content","entities":[{"name":"query","value":%q}],"confidence":0.9}`, q)), nil
	default:
		return []byte(`{"intent":"help","entities":[],"confidence":0.9}`), nil
	}
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.voiceLimit == 0 {
		opts.voiceLimit = 100
	}
	if opts.intentTimeout == 0 {
		opts.intentTimeout = time.Second
	}

	log := zap.NewNop()
	h := &harness{
		stt: &mocks.MockSTTProvider{
			TranscribeFunc: func(context.Context, []byte, domain.AudioEncoding, string) (*ports.ProviderTranscript, error) {
				return &ports.ProviderTranscript{Text: "show my profile", Language: "en", Confidence: 0.92, HasConfidence: true}, nil
			},
		},
		intent: &mocks.MockIntentProvider{ClassifyFunc: intentFor},
		tts:    &mocks.MockTTSProvider{},
		users:  mocks.NewMockUserStore(&domain.Profile{UserID: "user-42", DisplayName: "Alice", Language: "en"}),
		search: &mocks.MockSearchService{},
		auth: &mocks.MockAuthService{Tokens: map[string]*domain.Principal{
			testToken: {UserID: "user-42", Role: domain.UserRoleUser},
		}},
		events: &mocks.MockEventPublisher{},
		cache:  mocks.NewMockCache(),
		store:  ratelimit.NewMemoryStore(),
	}

	registry, err := voice.DefaultRegistry()
	if err != nil {
		t.Fatal(err)
	}

	transcriber := voice.NewTranscriber(h.stt, testBreaker("stt"), nil, voice.TranscriberConfig{
		MaxAudioBytes: 2 << 20,
		MaxDuration:   30 * time.Second,
		SampleRate:    16000,
		LanguageHint:  "en",
		Timeout:       time.Second,
	}, log)
	classifier := voice.NewClassifier(h.intent, testBreaker("intent"), registry, h.cache, voice.ClassifierConfig{
		ConfidenceThreshold: 0.6,
		CacheTTL:            5 * time.Minute,
		Timeout:             opts.intentTimeout,
	}, log)
	router := voice.NewRouter(registry, h.users, h.search, log)
	synthesizer := voice.NewSynthesizer(h.tts, testBreaker("tts"), h.cache, voice.SynthesizerConfig{
		MaxTextLength: 600,
		MaxSegments:   4,
		CacheTTL:      24 * time.Hour,
		Timeout:       time.Second,
		ChunkBytes:    8,
		DefaultVoice:  "alloy",
	}, log)
	limiter := ratelimit.NewLimiter("voice", h.store, opts.voiceLimit, time.Hour, true, log)

	h.pipeline = NewPipeline(transcriber, classifier, router, synthesizer, limiter, PipelineConfig{MinTranscriptConfidence: 0.3}, log)

	h.cfg = Config{
		MaxAudioBytes:      1 << 20,
		ContextTurns:       5,
		IdleTimeout:        5 * time.Second,
		TurnTimeout:        5 * time.Second,
		MaxFramesPerSecond: 1000,
		MaxSessionsPerUser: 3,
		DefaultVoice:       "alloy",
		LanguageHint:       "en",
	}
	if opts.session != nil {
		opts.session(&h.cfg)
	}
	h.manager = NewManager(h.auth, h.pipeline, h.events, h.cfg, log)
	return h
}

// serve runs a session on a fake connection in the background.
func (h *harness) serve(t *testing.T, token string) (*fakeConn, <-chan error) {
	t.Helper()
	conn := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- h.manager.Serve(context.Background(), conn, token) }()
	return conn, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

type message struct {
	typ  int
	data []byte
}

type fakeConn struct {
	in      chan message
	readErr chan error
	out     chan message
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written []message
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan message, 64),
		readErr: make(chan error, 1),
		out:     make(chan message, 4096),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-f.in:
		return m.typ, m.data, nil
	case err := <-f.readErr:
		return 0, nil, err
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(typ int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	m := message{typ: typ, data: append([]byte(nil), data...)}
	f.mu.Lock()
	f.written = append(f.written, m)
	f.mu.Unlock()
	f.out <- m
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) sendJSON(t *testing.T, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	f.in <- message{typ: MessageText, data: data}
}

func (f *fakeConn) sendAudio(data []byte) {
	f.in <- message{typ: MessageBinary, data: data}
}

func (f *fakeConn) disconnect() {
	f.readErr <- io.ErrUnexpectedEOF
}

func (f *fakeConn) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

// frames decodes every text frame written so far.
func (f *fakeConn) frames() []ServerFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ServerFrame
	for _, m := range f.written {
		if m.typ != MessageText {
			continue
		}
		var sf ServerFrame
		if json.Unmarshal(m.data, &sf) == nil {
			out = append(out, sf)
		}
	}
	return out
}

// expect waits for the next text frame of type typ. Binary frames seen on
// the way are returned concatenated.
func (f *fakeConn) expect(t *testing.T, typ string) (ServerFrame, []byte) {
	t.Helper()
	var audio []byte
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m := <-f.out:
			if m.typ == MessageBinary {
				audio = append(audio, m.data...)
				continue
			}
			var sf ServerFrame
			if err := json.Unmarshal(m.data, &sf); err != nil {
				t.Fatalf("server sent invalid JSON: %s", m.data)
			}
			if sf.Type == typ {
				return sf, audio
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q frame", typ)
		}
	}
}

func pcm(d time.Duration) []byte {
	return make([]byte, int(d.Seconds()*16000)*2)
}
