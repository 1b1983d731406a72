package natsconfig

import (
	"time"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
	"github.com/nspcc-dev/smallfiles/pkg/services/notificator/nats"
)

const (
	subsection    = "nats"
	tlsSubsection = "tls"

	// EndpointDefault is a default NATS server address.
	EndpointDefault = "nats://localhost:4222"
	// TopicDefault is a default subject of archive notifications.
	TopicDefault = nats.DefaultTopic
	// TimeoutDefault is a default timeout of connection and publishing.
	TimeoutDefault = 5 * time.Second
)

// Enabled returns the value of "enabled" config parameter
// from "nats" section.
func Enabled(c *config.Config) bool {
	return config.BoolSafe(c.Sub(subsection), "enabled")
}

// Endpoint returns the value of "endpoint" config parameter
// from "nats" section.
//
// Returns EndpointDefault if the value is not set.
func Endpoint(c *config.Config) string {
	v := config.StringSafe(c.Sub(subsection), "endpoint")
	if v != "" {
		return v
	}

	return EndpointDefault
}

// Topic returns the value of "topic" config parameter
// from "nats" section.
//
// Returns TopicDefault if the value is not set.
func Topic(c *config.Config) string {
	v := config.StringSafe(c.Sub(subsection), "topic")
	if v != "" {
		return v
	}

	return TopicDefault
}

// Timeout returns the value of "timeout" config parameter
// from "nats" section.
//
// Returns TimeoutDefault if the value is not positive duration.
func Timeout(c *config.Config) time.Duration {
	v := config.DurationSafe(c.Sub(subsection), "timeout")
	if v > 0 {
		return v
	}

	return TimeoutDefault
}

// TLSEnabled returns the value of "enabled" config parameter
// from "nats.tls" section.
func TLSEnabled(c *config.Config) bool {
	return config.BoolSafe(c.Sub(subsection).Sub(tlsSubsection), "enabled")
}

// CertPath returns the value of "certificate" config parameter
// from "nats.tls" section.
func CertPath(c *config.Config) string {
	return config.StringSafe(c.Sub(subsection).Sub(tlsSubsection), "certificate")
}

// KeyPath returns the value of "key" config parameter
// from "nats.tls" section.
func KeyPath(c *config.Config) string {
	return config.StringSafe(c.Sub(subsection).Sub(tlsSubsection), "key")
}

// CAPath returns the value of "ca" config parameter
// from "nats.tls" section.
func CAPath(c *config.Config) string {
	return config.StringSafe(c.Sub(subsection).Sub(tlsSubsection), "ca")
}
