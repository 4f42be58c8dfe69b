package service

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/kwv/gcransac/ransac"
)

const defaultPublishPrefix = "gcransac"

// publishPrefix resolves the topic prefix: MQTT_PUBLISH_PREFIX, then config, then the default
func publishPrefix(config *Config) string {
	if prefix := os.Getenv("MQTT_PUBLISH_PREFIX"); prefix != "" {
		return prefix
	}
	if config != nil && config.MQTT.PublishPrefix != "" {
		return config.MQTT.PublishPrefix
	}
	return defaultPublishPrefix
}

// resultHeadline is the compact per-scene entry of the combined results topic
type resultHeadline struct {
	RunID             string                   `json:"runId,omitempty"`
	Scene             string                   `json:"scene"`
	Problem           string                   `json:"problem"`
	Points            int                      `json:"points"`
	InlierCount       int                      `json:"inlierCount"`
	Iterations        int                      `json:"iterations"`
	TerminationReason ransac.TerminationReason `json:"terminationReason"`
	Error             string                   `json:"error,omitempty"`
	Timestamp         int64                    `json:"timestamp"`
}

// Publisher publishes fit results to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	headlines     map[string]resultHeadline
	mu            sync.RWMutex
	log           zerolog.Logger
}

// NewPublisher creates a result publisher. A nil client disables publishing.
func NewPublisher(client mqtt.Client, config *Config, log zerolog.Logger) *Publisher {
	return &Publisher{
		client:        client,
		publishPrefix: publishPrefix(config),
		qos:           0,
		retain:        true, // late subscribers see the latest fit
		headlines:     make(map[string]resultHeadline),
		log:           log.With().Str("component", "publisher").Logger(),
	}
}

// Prefix returns the topic prefix in use
func (p *Publisher) Prefix() string {
	return p.publishPrefix
}

// PublishResult publishes the summary to <prefix>/<scene> and refreshes the
// combined <prefix>/results topic
func (p *Publisher) PublishResult(summary FitSummary) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.Lock()
	p.headlines[summary.Scene] = headlineOf(summary)
	p.mu.Unlock()

	if err := p.publishIndividual(summary); err != nil {
		p.log.Error().Err(err).Str("scene", summary.Scene).Msg("publishing result")
		return err
	}
	if err := p.publishCombined(); err != nil {
		p.log.Error().Err(err).Msg("publishing combined results")
		return err
	}
	return nil
}

func headlineOf(s FitSummary) resultHeadline {
	return resultHeadline{
		RunID:             s.RunID,
		Scene:             s.Scene,
		Problem:           string(s.Problem),
		Points:            s.Points,
		InlierCount:       s.Statistics.InlierCount,
		Iterations:        s.Statistics.Iterations,
		TerminationReason: s.Statistics.TerminationReason,
		Error:             s.Error,
		Timestamp:         s.Timestamp.Unix(),
	}
}

func (p *Publisher) publishIndividual(summary FitSummary) error {
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, summary.Scene)

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	p.log.Info().
		Str("topic", topic).
		Int("inliers", summary.Statistics.InlierCount).
		Int("points", summary.Points).
		Msg("published result")
	return nil
}

func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	headlines := make([]resultHeadline, 0, len(p.headlines))
	for _, h := range p.headlines {
		headlines = append(headlines, h)
	}
	p.mu.RUnlock()

	if len(headlines) == 0 {
		return nil
	}
	sort.Slice(headlines, func(i, j int) bool { return headlines[i].Scene < headlines[j].Scene })

	topic := fmt.Sprintf("%s/results", p.publishPrefix)
	message := map[string]interface{}{
		"scenes":    headlines,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined results: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// SetQoS sets the QoS level for published messages
func (p *Publisher) SetQoS(qos byte) {
	p.qos = qos
}

// SetRetain sets whether published messages should be retained
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
