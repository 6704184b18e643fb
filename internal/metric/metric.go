package metric

import (
	"sync"
	"time"

	"github.com/Brownie44l1/leaf-infer/internal/config"
	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog/log"
)

const (
	ApiRequestCount    = "api_request_count"
	ApiRequestLatency  = "api_request_latency"
	InferenceCount     = "inference_count"
	InferenceLatency   = "inference_latency"
	ValidationRejected = "validation_rejected_count"
)

const (
	TagEnv            = "env"
	TagService        = "service"
	TagPath           = "path"
	TagMethod         = "method"
	TagHttpStatusCode = "http_status_code"
	TagOutcome        = "outcome"

	TagValueSuccess = "success"
	TagValueFailure = "failure"
)

var (
	// safe for concurrent use; nil when no client could be built
	statsDClient statsd.ClientInterface = getDefaultClient()
	samplingRate                        = 1.0
	once         sync.Once
)

// Init points the client at the configured statsd agent with env and service
// as global tags. A client that cannot be built only disables metrics.
func Init(cfg *config.Configs) {
	once.Do(func() {
		samplingRate = cfg.MetricSamplingRate
		globalTags := []string{
			TagAsString(TagEnv, cfg.AppEnv),
			TagAsString(TagService, cfg.AppName),
		}
		client, err := statsd.New(cfg.TelegrafAddress, statsd.WithTags(globalTags))
		if err != nil {
			log.Error().Err(err).Msg("StatsD client initialization failed, metrics will be unavailable")
			return
		}
		statsDClient = client
		log.Info().Msgf("Metrics client initialized with telegraf address - %s, global tags - %v, and "+
			"sampling rate - %f", cfg.TelegrafAddress, globalTags, samplingRate)
	})
}

func getDefaultClient() statsd.ClientInterface {
	client, err := statsd.New("localhost:8125")
	if err != nil {
		return nil
	}
	return client
}

func Timing(name string, value time.Duration, tags []string) {
	if statsDClient == nil {
		return
	}
	if err := statsDClient.Timing(name, value, tags, samplingRate); err != nil {
		log.Warn().Err(err).Msg("Error occurred while doing statsd timing")
	}
}

func Count(name string, value int64, tags []string) {
	if statsDClient == nil {
		return
	}
	if err := statsDClient.Count(name, value, tags, samplingRate); err != nil {
		log.Warn().Err(err).Msg("Error occurred while doing statsd count")
	}
}

// Incr increases a counter by 1.
func Incr(name string, tags []string) {
	Count(name, 1, tags)
}

// Close flushes buffered metrics.
func Close() {
	if statsDClient == nil {
		return
	}
	if err := statsDClient.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing statsd client")
	}
}

type Tag struct {
	Name  string
	Value string
}

func NewTag(name, value string) Tag {
	return Tag{Name: name, Value: value}
}

// BuildTag renders tags as name:value strings.
func BuildTag(tags ...Tag) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, TagAsString(tag.Name, tag.Value))
	}
	return out
}

func TagAsString(name, value string) string {
	return name + ":" + value
}
