package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "packd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{Traces: true})
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("api-key=abc, ,broken,x = y")
	require.Equal(t, map[string]string{"api-key": "abc", "x": "y"}, headers)
}

func TestResourceAttributesAreSorted(t *testing.T) {
	attrs := resourceAttributes(Config{
		ServiceName: "packd",
		Environment: "prod",
		Attributes:  map[string]string{"packchain.program": "pk1xyz", "": "skip", "a.first": "1"},
	})
	keys := make([]string, len(attrs))
	for i, kv := range attrs {
		keys[i] = string(kv.Key)
	}
	require.Equal(t, []string{"service.name", "deployment.environment", "a.first", "packchain.program"}, keys)

	res, err := buildResource(Config{ServiceName: "packd"})
	require.NoError(t, err)
	require.NotNil(t, res)
}

func TestSamplerChoosesRatio(t *testing.T) {
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
	require.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	require.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
}
