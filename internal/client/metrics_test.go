package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/dashgate/internal/domain/recovery"
)

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRuntime_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	backend := &fakeBackend{}
	local := state.NewLocalStorage(filepath.Join(t.TempDir(), "storage.json"), discardLogger())
	var navigated string
	rt := New(context.Background(), backend, local, discardLogger(),
		WithMeterProvider(mp),
		WithErrorPolicy(2, time.Minute),
		WithNavigator(recovery.NavigatorFunc(func(target string) { navigated = target })),
	)
	defer rt.Close()
	ctx := context.Background()

	if _, err := rt.SignIn(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	if got := counterValue(t, reader, "dashgate.client.sign_ins"); got != 1 {
		t.Errorf("sign_ins = %d, want 1", got)
	}

	(&fixture{rt: rt, local: local}).store(t, testSession("old", time.Now().Add(-time.Minute)))
	for i := 0; i < 2; i++ {
		_, _ = rt.GetSession(ctx)
	}
	if navigated == "" {
		t.Fatal("recovery did not navigate")
	}
	if got := counterValue(t, reader, "dashgate.client.session_refreshes"); got != 2 {
		t.Errorf("session_refreshes = %d, want 2", got)
	}
	if got := counterValue(t, reader, "dashgate.client.recoveries"); got != 1 {
		t.Errorf("recoveries = %d, want 1", got)
	}
}
