// internal/xss/stored_test.go
package xss

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidsec/kalamari/internal/js"
)

// fakeDriver simulates a site that stores a submission and reflects it on
// selected pages.
type fakeDriver struct {
	submitted  map[string]string
	submitErr  error
	reflecting map[string]bool // url -> executes payload
	storedOnly map[string]bool // url -> reflects source without executing
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		submitted:  map[string]string{},
		reflecting: map[string]bool{},
		storedOnly: map[string]bool{},
	}
}

func (f *fakeDriver) SubmitField(_ context.Context, postURL, field, value string, _ map[string]string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted[field] = value
	return nil
}

func (f *fakeDriver) CollectTriggers(_ context.Context, pageURL, marker string) ([]js.XssTrigger, string, error) {
	stored := f.submitted["comment"]
	if f.reflecting[pageURL] && strings.Contains(stored, marker) {
		return []js.XssTrigger{{
			Kind:      js.TriggerAlert,
			Payload:   marker,
			Confirmed: true,
			URL:       pageURL,
		}}, stored, nil
	}
	if f.storedOnly[pageURL] {
		return nil, "<html>"+stored+"</html>", nil
	}
	return nil, "<html>clean</html>", nil
}

func TestStoredXss_ConfirmedRoundTrip(t *testing.T) {
	driver := newFakeDriver()
	driver.reflecting["http://t/view"] = true

	tester := NewStoredXssTester(driver, nil)
	result, err := tester.Run(context.Background(), &StoredXssTest{
		PostURL:   "http://t/post",
		Payload:   "<script>alert('MARKER')</script>",
		Field:     "comment",
		ReflectAt: []string{"http://t/other", "http://t/view"},
	})
	require.NoError(t, err)

	// A confirmed trigger carrying the marker on a reflect page makes the
	// test confirmed, and vice versa.
	assert.True(t, result.IsConfirmed())
	assert.Equal(t, "http://t/view", result.ReflectPoint)
	require.NotEmpty(t, result.Triggers)
	assert.Contains(t, result.Triggers[0].Payload, result.Test.Marker)
	assert.Equal(t, []string{"http://t/other", "http://t/view"}, result.CheckedURLs)
}

func TestStoredXss_NotConfirmedWithoutExecution(t *testing.T) {
	driver := newFakeDriver()
	driver.storedOnly["http://t/view"] = true

	tester := NewStoredXssTester(driver, nil)
	result, err := tester.Run(context.Background(), &StoredXssTest{
		PostURL:   "http://t/post",
		Payload:   "<script>alert('MARKER')</script>",
		Field:     "comment",
		ReflectAt: []string{"http://t/view"},
	})
	require.NoError(t, err)

	assert.False(t, result.IsConfirmed())
	assert.Empty(t, result.Triggers)
	// The raw marker in the page source is still a potential finding.
	assert.Equal(t, []string{"http://t/view"}, result.StoredOnly)
}

func TestStoredXss_MarkerIsMintedAndSubstituted(t *testing.T) {
	driver := newFakeDriver()
	tester := NewStoredXssTester(driver, nil)
	test := &StoredXssTest{
		PostURL:   "http://t/post",
		Payload:   "<script>alert('MARKER')</script>",
		Field:     "comment",
		ReflectAt: []string{"http://t/view"},
	}
	_, err := tester.Run(context.Background(), test)
	require.NoError(t, err)

	require.NotEmpty(t, test.Marker)
	submitted := driver.submitted["comment"]
	assert.NotContains(t, submitted, "MARKER")
	assert.Contains(t, submitted, test.Marker)
}

func TestStoredXss_FieldRequired(t *testing.T) {
	tester := NewStoredXssTester(newFakeDriver(), nil)
	_, err := tester.Run(context.Background(), &StoredXssTest{PostURL: "http://t/post"})
	require.Error(t, err)
}

func TestPayloadGenerator_MarkersAreUniqueAndPropagate(t *testing.T) {
	a := NewPayloadGenerator()
	b := NewPayloadGenerator()
	assert.NotEqual(t, a.Marker(), b.Marker())

	for _, p := range a.All() {
		assert.Contains(t, p.Value, a.Marker(), "payload %q must carry the marker", p.Description)
	}
}

func TestAnalyze_VerdictAndSeverity(t *testing.T) {
	verdict := Analyze([]js.XssTrigger{
		{Kind: js.TriggerInnerHTML, Payload: "<script>"},
		{Kind: js.TriggerAlert, Payload: "1", Confirmed: true},
		{Kind: js.TriggerEval, Payload: "x"},
	})
	assert.True(t, verdict.Vulnerable)
	assert.Equal(t, js.TriggerAlert, verdict.HighestKind)

	clean := Analyze(nil)
	assert.False(t, clean.Vulnerable)
	assert.Empty(t, string(clean.HighestKind))
}
