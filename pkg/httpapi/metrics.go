package httpapi

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/lemonade-sdk/lemonade-server/pkg/scheduler"
)

// metricsHandler exposes the scheduler's resident-entry telemetry in
// Prometheus text exposition format, encoded with the same dto/expfmt pair
// the teacher uses to aggregate per-runner metrics — adapted here to
// synthesize metric families directly from in-process scheduler state
// rather than fetching and merging each wrapped server's own /metrics
// endpoint, since not every engine adapter exposes one.
type metricsHandler struct {
	sched *scheduler.Scheduler
}

func newMetricsHandler(sched *scheduler.Scheduler) *metricsHandler {
	return &metricsHandler{sched: sched}
}

func (h *metricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range h.families() {
		_ = encoder.Encode(family)
	}
}

func (h *metricsHandler) families() []*dto.MetricFamily {
	loaded := h.sched.ListLoaded()

	residentName := "lemonade_resident_models"
	residentHelp := "Whether a model is currently resident (1) or pending spawn (0)."
	gaugeType := dto.MetricType_GAUGE
	resident := &dto.MetricFamily{Name: &residentName, Help: &residentHelp, Type: &gaugeType}

	tpsName := "lemonade_tokens_per_second"
	tpsHelp := "Tokens per second observed in the most recent request to a resident model."
	tps := &dto.MetricFamily{Name: &tpsName, Help: &tpsHelp, Type: &gaugeType}

	ttftName := "lemonade_time_to_first_token_seconds"
	ttftHelp := "Time to first token observed in the most recent request to a resident model."
	ttft := &dto.MetricFamily{Name: &ttftName, Help: &ttftHelp, Type: &gaugeType}

	for _, e := range loaded {
		name := e.Name
		labels := []*dto.LabelPair{{Name: strPtr("model"), Value: &name}}

		residentValue := 1.0
		if e.Pending {
			residentValue = 0.0
		}
		resident.Metric = append(resident.Metric, &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: &residentValue}})

		if e.Pending {
			continue
		}
		sample, ok := h.sched.Telemetry(e.Name)
		if !ok {
			continue
		}
		tpsValue := sample.TokensPerSecond
		tps.Metric = append(tps.Metric, &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: &tpsValue}})
		ttftValue := sample.TimeToFirstToken
		ttft.Metric = append(ttft.Metric, &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: &ttftValue}})
	}

	return []*dto.MetricFamily{resident, tps, ttft}
}

func strPtr(s string) *string { return &s }
