package voice

import (
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
)

func newBreaker(name string) *circuitbreaker.CircuitBreaker {
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

func mustRegistry() *Registry {
	r, err := DefaultRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// pcmSilence returns d of 16 kHz mono PCM16.
func pcmSilence(d time.Duration) []byte {
	return make([]byte, int(d.Seconds()*16000)*2)
}
