// internal/js/sandbox_test.go
package js

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSandbox(t *testing.T, budget int64) *Sandbox {
	t.Helper()
	return NewSandbox(zap.NewNop(), NewSensorLog(""), NewTimerQueue(), budget)
}

func TestSandbox_EvaluateBasic(t *testing.T) {
	s := newTestSandbox(t, 0)
	v, err := s.Evaluate(`(5 + 5) * 2`)
	require.NoError(t, err)
	assert.Equal(t, int64(20), v.ToInteger())
}

func TestSandbox_UncaughtExceptionGoesToConsole(t *testing.T) {
	s := newTestSandbox(t, 0)
	_, err := s.Evaluate(`throw new Error("boom")`)
	require.Error(t, err)

	console := s.Console()
	require.NotEmpty(t, console)
	assert.Equal(t, "error", console[0].Level)
	assert.Contains(t, console[0].Message, "boom")

	// The sandbox must stay usable after an uncaught exception.
	v, err := s.Evaluate(`1 + 1`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.ToInteger())
}

func TestSandbox_BudgetExhaustionIsRecoverable(t *testing.T) {
	// A tiny budget and a hot loop: the watchdog interrupts, the error is
	// typed, and the isolate survives.
	s := newTestSandbox(t, 1000)
	_, err := s.Evaluate(`for(;;) {}`)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	s.SetBudget(DefaultInstructionBudget)
	v, err := s.Evaluate(`"still " + "alive"`)
	require.NoError(t, err)
	assert.Equal(t, "still alive", v.String())
}

func TestClassifyEval(t *testing.T) {
	cases := []struct {
		name    string
		code    string
		marker  string
		danger  bool
	}{
		{"alert call", `alert(1)`, "", true},
		{"cookie theft", `x = document.cookie`, "", true},
		{"script close", `y = "</script>"`, "", true},
		{"marker hit", `MARK_7=1`, "MARK_7", true},
		{"benign", `var i = 0; i++`, "", false},
		{"benign with unset marker", `MARK_7=1`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.danger, ClassifyEval(tc.code, tc.marker))
		})
	}
}

func TestSinkSuspicious(t *testing.T) {
	assert.True(t, SinkSuspicious(`<script>alert(1)</script>`))
	assert.True(t, SinkSuspicious(`<img src=x onerror=alert(1)>`))
	assert.True(t, SinkSuspicious(`<a href="javascript:void(0)">x</a>`))
	assert.False(t, SinkSuspicious(`<b>bold</b>`))
	assert.False(t, SinkSuspicious(`plain text only`))
}

func TestSensorLog_MarkerUpgradesToConfirmed(t *testing.T) {
	log := NewSensorLog("MARK_1")
	log.Record(XssTrigger{Kind: TriggerEval, Payload: "MARK_1=1"})
	log.Record(XssTrigger{Kind: TriggerEval, Payload: "benign"})

	triggers := log.Triggers()
	require.Len(t, triggers, 2)
	assert.True(t, triggers[0].Confirmed)
	assert.Equal(t, "MARK_1", triggers[0].Marker)
	assert.False(t, triggers[1].Confirmed)
}

func TestSensorLog_DisabledDropsEverything(t *testing.T) {
	log := NewSensorLog("")
	log.Disable()
	log.Record(XssTrigger{Kind: TriggerAlert, Payload: "1", Confirmed: true})
	assert.Empty(t, log.Triggers())
}
