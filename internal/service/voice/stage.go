package voice

import (
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
)

const (
	StageTranscribe = "transcribe"
	StageClassify   = "classify"
	StageRoute      = "route"
	StageSynthesize = "synthesize"
)

// finishStage records latency and error metrics for a pipeline stage and
// closes its span.
func finishStage(stage string, start time.Time, span trace.Span, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		kind := domain.KindOf(err)
		telemetry.StageErrors.WithLabelValues(stage, string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
	}
	telemetry.StageLatency.WithLabelValues(stage, status).Observe(time.Since(start).Seconds())
	span.End()
}
