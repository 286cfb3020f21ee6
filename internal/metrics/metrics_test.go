package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/realtime"
)

// findMetric はラベルが一致するメトリクスを返す。見つからない場合はnil。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordBrief_CountsByLanguageAndOutcome は言語と結果別にカウントされることを検証する。
func TestRecordBrief_CountsByLanguageAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBrief("he", "ok", 5)
	c.RecordBrief("he", "ok", 3)
	c.RecordBrief("ar", "error", 0)

	m := findMetric(t, reg, "newsbrief_brief_requests_total", map[string]string{"language": "he", "outcome": "ok"})
	if m == nil {
		t.Fatal("newsbrief_brief_requests_total{he,ok} not found")
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("brief_requests_total{he,ok} = %v, want 2", got)
	}

	m = findMetric(t, reg, "newsbrief_brief_requests_total", map[string]string{"language": "ar", "outcome": "error"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("brief_requests_total{ar,error} should be 1")
	}
}

// TestRecordBrief_ObservesArticlesOnlyOnResponse はエラー時に記事数を観測しないことを検証する。
func TestRecordBrief_ObservesArticlesOnlyOnResponse(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBrief("he", "ok", 12)
	c.RecordBrief("he", "empty", 0)
	c.RecordBrief("he", "error", 0)
	c.RecordBrief("he", "config_error", 0)

	m := findMetric(t, reg, "newsbrief_brief_articles", nil)
	if m == nil {
		t.Fatal("newsbrief_brief_articles not found")
	}
	h := m.GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() != 12 {
		t.Errorf("sample sum = %v, want 12", h.GetSampleSum())
	}
}

// TestObserveQuery_RecordsByTable はテーブル別にレイテンシが記録されることを検証する。
func TestObserveQuery_RecordsByTable(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveQuery("curated_articles", 150*time.Millisecond)
	c.ObserveQuery("articles", 50*time.Millisecond)

	m := findMetric(t, reg, "newsbrief_backend_query_seconds", map[string]string{"table": "curated_articles"})
	if m == nil {
		t.Fatal("newsbrief_backend_query_seconds{curated_articles} not found")
	}
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
	if got := m.GetHistogram().GetSampleSum(); got < 0.149 || got > 0.151 {
		t.Errorf("sample sum = %v, want 0.15", got)
	}
}

// TestRecordRealtimeEvent_IncrementsByLanguage は受信イベントが言語別にカウントされることを検証する。
func TestRecordRealtimeEvent_IncrementsByLanguage(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRealtimeEvent(model.CuratedInsertEvent{Language: "en"})
	c.RecordRealtimeEvent(model.CuratedInsertEvent{Language: "en"})

	m := findMetric(t, reg, "newsbrief_realtime_events_total", map[string]string{"language": "en"})
	if m == nil || m.GetCounter().GetValue() != 2 {
		t.Error("realtime_events_total{en} should be 2")
	}
}

// TestObserveListenerState_SetsGauge はリスナー状態がゲージに反映されることを検証する。
func TestObserveListenerState_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	tests := []struct {
		state realtime.State
		want  float64
	}{
		{realtime.StateSubscribing, 1},
		{realtime.StateListening, 2},
		{realtime.StateIdle, 0},
	}
	for _, tt := range tests {
		c.ObserveListenerState("he", tt.state)
		m := findMetric(t, reg, "newsbrief_listener_state", map[string]string{"language": "he"})
		if m == nil {
			t.Fatal("newsbrief_listener_state{he} not found")
		}
		if got := m.GetGauge().GetValue(); got != tt.want {
			t.Errorf("listener_state after %v = %v, want %v", tt.state, got, tt.want)
		}
	}
}

// TestRecordHTTPStatus_IncrementsByCode はHTTPステータスコード別にカウントされることを検証する。
func TestRecordHTTPStatus_IncrementsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(500)

	if m := findMetric(t, reg, "newsbrief_http_status_total", map[string]string{"status_code": "200"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Error("http_status_total{200} should be 2")
	}
	if m := findMetric(t, reg, "newsbrief_http_status_total", map[string]string{"status_code": "500"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("http_status_total{500} should be 1")
	}
}

// TestCollector_ImplementsInterface はCollectorがMetricsCollectorを満たすことを検証する。
func TestCollector_ImplementsInterface(t *testing.T) {
	var _ MetricsCollector = (*Collector)(nil)
}
