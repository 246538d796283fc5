package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret ,broken, =skip,tenant=rwa")
	require.Equal(t, map[string]string{"api-key": "secret", "tenant": "rwa"}, headers)
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{Traces: true})
	require.Error(t, err)
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "creditd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.False(t, Config{}.Enabled())
}
