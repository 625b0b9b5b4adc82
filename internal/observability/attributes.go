// Package observability provides the service's metrics.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrMode    = "mode"
	attrState   = "state"
	attrStage   = "stage"
	attrEngine  = "engine"
	attrSuccess = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

// statusAttr groups status codes into classes (2xx, 4xx, 5xx).
func statusAttr(code int) attribute.KeyValue {
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func modeAttr(mode string) attribute.KeyValue {
	return attribute.String(attrMode, mode)
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String(attrState, state)
}

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String(attrStage, stage)
}

func engineAttr(kind string) attribute.KeyValue {
	return attribute.String(attrEngine, kind)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// dynamicRoutes maps path prefixes to the route template used as a label.
var dynamicRoutes = []struct {
	prefix, suffix, template string
}{
	{"/v1/jobs/history", "", "/v1/jobs/history"},
	{"/v1/jobs/", "", "/v1/jobs/{jobId}"},
	{"/v1/dependencies/", "/install", "/v1/dependencies/{name}/install"},
	{"/v1/engines/", "/stop", "/v1/engines/{kind}/stop"},
	{"/files/", "", "/files/{jobId}/{name}"},
}

// normalizePath replaces dynamic path segments with placeholders.
func normalizePath(path string) string {
	for _, r := range dynamicRoutes {
		if len(path) > len(r.prefix) && strings.HasPrefix(path, r.prefix) && strings.HasSuffix(path, r.suffix) {
			return r.template
		}
		if path == r.prefix && r.suffix == "" && r.template == r.prefix {
			return r.template
		}
	}
	return path
}

// WithMode returns a metric option with the mode attribute.
func WithMode(mode string) metric.MeasurementOption {
	return metric.WithAttributes(modeAttr(mode))
}

// WithEngine returns a metric option with the engine attribute.
func WithEngine(kind string) metric.MeasurementOption {
	return metric.WithAttributes(engineAttr(kind))
}
