package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/keyweave/internal/event"
	"github.com/dshills/keyweave/internal/rpc"
)

func TestCollectorReportsBusStats(t *testing.T) {
	c := NewCollector("keyweave", Sources{
		Bus: func() event.Stats {
			return event.Stats{
				MessagesPublished:   3,
				HandlersSucceeded:   5,
				HandlerErrors:       1,
				ActiveSubscriptions: 2,
			}
		},
	})

	expected := `
# HELP keyweave_bus_messages_published_total Publishes that reached at least one subscriber.
# TYPE keyweave_bus_messages_published_total counter
keyweave_bus_messages_published_total 3
# HELP keyweave_bus_handler_executions_total Handler executions by result.
# TYPE keyweave_bus_handler_executions_total counter
keyweave_bus_handler_executions_total{result="error"} 1
keyweave_bus_handler_executions_total{result="panic"} 0
keyweave_bus_handler_executions_total{result="success"} 5
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"keyweave_bus_messages_published_total",
		"keyweave_bus_handler_executions_total",
	))
}

func TestCollectorSkipsMissingSources(t *testing.T) {
	busOnly := NewCollector("keyweave", Sources{Bus: func() event.Stats { return event.Stats{} }})
	assert.Equal(t, 7, testutil.CollectAndCount(busOnly))

	none := NewCollector("keyweave", Sources{})
	assert.Equal(t, 0, testutil.CollectAndCount(none))
}

func TestCollectorReadsLiveRPCStats(t *testing.T) {
	bus := event.NewBus()
	require.NoError(t, bus.Start())
	defer bus.Stop(context.Background())

	client, err := rpc.NewClient(bus)
	require.NoError(t, err)
	defer client.Close()
	srv := rpc.NewServer(bus)
	defer srv.Close(context.Background())

	_, err = client.Request(context.Background(), "nobody.home", nil)
	require.True(t, rpc.IsNoResponder(err))

	reg, err := NewRegistry(NewCollector("keyweave", Sources{
		Bus:    bus.Stats,
		Client: client.Stats,
		Server: srv.Stats,
	}))
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	var failures *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "keyweave_rpc_request_failures_total" {
			failures = mf
		}
	}
	require.NotNil(t, failures)

	byReason := make(map[string]float64)
	for _, m := range failures.GetMetric() {
		byReason[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.Equal(t, 1.0, byReason["no_responder"])
	assert.Equal(t, 0.0, byReason["timeout"])
}

func TestServerServesMetricsAndHealth(t *testing.T) {
	reg, err := NewRegistry(NewCollector("keyweave", Sources{
		Bus: func() event.Stats { return event.Stats{MessagesPublished: 9} },
	}))
	require.NoError(t, err)

	srv := NewServer("127.0.0.1:0", "/metrics", reg, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())
	assert.ErrorIs(t, srv.Start(), ErrServerRunning)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "keyweave_bus_messages_published_total 9")

	resp, err = http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
