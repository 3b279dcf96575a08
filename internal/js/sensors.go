// internal/js/sensors.go
package js

import (
	"regexp"
	"strings"
	"sync"
)

// TriggerKind classifies which instrumented global observed a payload.
type TriggerKind string

const (
	TriggerAlert         TriggerKind = "alert"
	TriggerConfirm       TriggerKind = "confirm"
	TriggerPrompt        TriggerKind = "prompt"
	TriggerEval          TriggerKind = "eval"
	TriggerFunctionCtor  TriggerKind = "function_ctor"
	TriggerInnerHTML     TriggerKind = "innerhtml_sink"
	TriggerOuterHTML     TriggerKind = "outerhtml_sink"
	TriggerDocumentWrite TriggerKind = "document_write_sink"
)

// severityRank orders kinds from most to least conclusive.
var severityRank = map[TriggerKind]int{
	TriggerAlert:         8,
	TriggerConfirm:       7,
	TriggerPrompt:        6,
	TriggerEval:          5,
	TriggerFunctionCtor:  4,
	TriggerDocumentWrite: 3,
	TriggerInnerHTML:     2,
	TriggerOuterHTML:     1,
}

// Severity returns a comparable rank; higher is more conclusive.
func (k TriggerKind) Severity() int { return severityRank[k] }

// XssTrigger is one sensor observation.
type XssTrigger struct {
	Kind    TriggerKind `json:"kind"`
	Payload string      `json:"payload"`
	// Marker holds the matched user-supplied marker, when one matched.
	Marker string `json:"marker,omitempty"`
	// NodeID is the source DOM node when the sink is tied to an element.
	NodeID uint32 `json:"node_id,omitempty"`
	// FramePath locates the trigger's frame: iframe indices from the root.
	FramePath []int  `json:"frame_path,omitempty"`
	URL       string `json:"url,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

// SensorLog collects triggers recorded by the hooks of one page (and,
// aggregated upward, its frames).
type SensorLog struct {
	mu       sync.Mutex
	triggers []XssTrigger
	marker   string
	disabled bool
}

// NewSensorLog creates a log; marker may be empty.
func NewSensorLog(marker string) *SensorLog {
	return &SensorLog{marker: marker}
}

// Marker returns the configured user marker.
func (s *SensorLog) Marker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker
}

// SetMarker replaces the marker used for confirmation matching.
func (s *SensorLog) SetMarker(marker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = marker
}

// Disable turns the log into a sink that drops everything; used when hook
// injection is configured off but the bindings still need a log to exist.
func (s *SensorLog) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = true
}

// Record appends a trigger, upgrading it to Confirmed when its payload
// carries the configured marker.
func (s *SensorLog) Record(t XssTrigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return
	}
	if !t.Confirmed && s.marker != "" && strings.Contains(t.Payload, s.marker) {
		t.Confirmed = true
		t.Marker = s.marker
	}
	s.triggers = append(s.triggers, t)
}

// Triggers returns a copy of everything recorded so far.
func (s *SensorLog) Triggers() []XssTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]XssTrigger, len(s.triggers))
	copy(out, s.triggers)
	return out
}

// Absorb merges another log's triggers, used for frame aggregation.
func (s *SensorLog) Absorb(other *SensorLog) {
	for _, t := range other.Triggers() {
		s.mu.Lock()
		s.triggers = append(s.triggers, t)
		s.mu.Unlock()
	}
}

// Reset clears the log for page reuse.
func (s *SensorLog) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = nil
}

// evalDangerHints confirm an eval/Function payload without needing a marker.
var evalDangerHints = []string{"alert(", "document.cookie", "</script"}

// ClassifyEval decides whether a string reaching eval or the Function
// constructor is a confirmed execution of attacker-shaped code.
func ClassifyEval(code, marker string) bool {
	lower := strings.ToLower(code)
	for _, hint := range evalDangerHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return marker != "" && strings.Contains(code, marker)
}

// onEventAttr matches inline event-handler attributes inside markup.
var onEventAttr = regexp.MustCompile(`(?i)\bon\w+\s*=`)

// SinkSuspicious reports whether markup flowing into an HTML sink carries
// script content worth recording.
func SinkSuspicious(markup string) bool {
	lower := strings.ToLower(markup)
	if strings.Contains(lower, "<script") {
		return true
	}
	if strings.Contains(lower, "javascript:") {
		return true
	}
	return onEventAttr.MatchString(markup)
}
