package metric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildTag(t *testing.T) {
	tags := BuildTag(
		NewTag(TagPath, "/predict"),
		NewTag(TagHttpStatusCode, "400"),
	)
	assert.Equal(t, []string{"path:/predict", "http_status_code:400"}, tags)
}

func TestEmitWithoutAgent(t *testing.T) {
	// statsd over UDP does not need a listener
	assert.NotPanics(t, func() {
		Incr(InferenceCount, BuildTag(NewTag(TagOutcome, TagValueSuccess)))
		Timing(InferenceLatency, 3*time.Millisecond, nil)
	})
}
