package tracing

import (
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

var blockedAttributeKeys = map[attribute.Key]struct{}{
	"http.request.body":  {},
	"stripe.signature":   {},
	"customer.email":     {},
	"http.request.query": {},
}

// SafeAttributes drops attributes that may carry payment payloads or PII.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError strips messages that embed signature material before recording on spans.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "whsec_") || strings.Contains(msg, "v1=") {
		return errors.New("redacted error")
	}
	return err
}
