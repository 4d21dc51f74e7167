package session

// Stage names used for latency and error accounting.
const (
	StageSTT         = "stt"
	StageTranslation = "translation"
	StageTTS         = "tts"
)

// Metrics holds rolling performance counters for one session. Latencies are
// running averages in milliseconds, updated once per completed turn.
type Metrics struct {
	SessionID string `json:"session_id"`

	AvgSTTLatency         float64 `json:"avg_stt_latency"`
	AvgTranslationLatency float64 `json:"avg_translation_latency"`
	AvgTTSLatency         float64 `json:"avg_tts_latency"`
	AvgTotalLatency       float64 `json:"avg_total_latency"`

	TotalTurns      int `json:"total_turns"`
	SuccessfulTurns int `json:"successful_turns"`
	FailedTurns     int `json:"failed_turns"`

	STTErrors         int `json:"stt_errors"`
	TranslationErrors int `json:"translation_errors"`
	TTSErrors         int `json:"tts_errors"`
}

// Outcome describes one completed turn. Nil latency fields were not
// measured this turn and leave the corresponding average untouched.
type Outcome struct {
	STTLatencyMS         *float64
	TranslationLatencyMS *float64
	TTSLatencyMS         *float64
	Success              bool
	ErrorStage           string
}

// LatencyMS is a convenience constructor for Outcome latency fields.
func LatencyMS(v float64) *float64 {
	return &v
}

// record folds one turn outcome into the metrics and returns the turn's
// total latency in milliseconds (0 on failure or when nothing was measured).
func (m *Metrics) record(o Outcome) float64 {
	m.TotalTurns++

	if !o.Success {
		m.FailedTurns++
		switch o.ErrorStage {
		case StageSTT:
			m.STTErrors++
		case StageTranslation:
			m.TranslationErrors++
		case StageTTS:
			m.TTSErrors++
		}
		return 0
	}

	m.SuccessfulTurns++

	var total float64
	if o.STTLatencyMS != nil {
		m.AvgSTTLatency = updateAverage(m.AvgSTTLatency, *o.STTLatencyMS, m.TotalTurns)
		total += *o.STTLatencyMS
	}
	if o.TranslationLatencyMS != nil {
		m.AvgTranslationLatency = updateAverage(m.AvgTranslationLatency, *o.TranslationLatencyMS, m.TotalTurns)
		total += *o.TranslationLatencyMS
	}
	if o.TTSLatencyMS != nil {
		m.AvgTTSLatency = updateAverage(m.AvgTTSLatency, *o.TTSLatencyMS, m.TotalTurns)
		total += *o.TTSLatencyMS
	}

	if total > 0 {
		m.AvgTotalLatency = updateAverage(m.AvgTotalLatency, total, m.TotalTurns)
	}
	return total
}

// updateAverage applies the incremental mean formula with count as the
// post-increment sample count.
func updateAverage(currentAvg, newValue float64, count int) float64 {
	return (currentAvg*float64(count-1) + newValue) / float64(count)
}
