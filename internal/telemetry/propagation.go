// Package telemetry carries OpenTelemetry context across Pub/Sub message
// attributes.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var initOnce sync.Once

// Init installs the W3C trace-context and baggage propagators globally.
func Init() {
	initOnce.Do(func() {
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)
	})
}

// AttributesCarrier implements propagation.TextMapCarrier for message attributes.
type AttributesCarrier map[string]string

var _ propagation.TextMapCarrier = AttributesCarrier(nil)

// Get returns the value for key.
func (c AttributesCarrier) Get(key string) string {
	return c[key]
}

// Set stores value under key.
func (c AttributesCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the carried keys.
func (c AttributesCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Inject writes ctx's propagation fields into attrs, allocating it if nil.
func Inject(ctx context.Context, attrs map[string]string) map[string]string {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, AttributesCarrier(attrs))
	return attrs
}

// Extract returns ctx enriched with the propagation fields found in attrs.
func Extract(ctx context.Context, attrs map[string]string) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, AttributesCarrier(attrs))
}
