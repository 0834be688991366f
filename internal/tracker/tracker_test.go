package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"geoattend/internal/geo"
)

func TestStartDeliversFixes(t *testing.T) {
	var mu sync.Mutex
	var got []geo.Point

	src := SourceFunc(func(_ context.Context, _ bool) (geo.Point, error) {
		return geo.Point{Lat: 19.0434, Lng: 73.0618}, nil
	})
	tr := New(src)

	h := tr.Start(context.Background(), Options{Interval: time.Millisecond, Timeout: time.Second},
		func(pt geo.Point) {
			mu.Lock()
			got = append(got, pt)
			mu.Unlock()
		}, nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 3
	}, time.Second, time.Millisecond)

	tr.Stop(h)

	mu.Lock()
	require.NotEmpty(t, got)
	require.Equal(t, 19.0434, got[0].Lat)
	require.False(t, got[0].CapturedAt.IsZero(), "missing capture time is filled in")
	mu.Unlock()
}

func TestStopHaltsStream(t *testing.T) {
	src := SourceFunc(func(_ context.Context, _ bool) (geo.Point, error) {
		return geo.Point{}, nil
	})
	tr := New(src)
	h := tr.Start(context.Background(), Options{Interval: time.Millisecond}, func(geo.Point) {}, nil)

	tr.Stop(h)
	select {
	case <-h.Done():
	default:
		t.Fatal("stream still running after Stop")
	}
}

func TestErrorSurfacesAndHaltsWithoutRetry(t *testing.T) {
	calls := 0
	src := SourceFunc(func(_ context.Context, _ bool) (geo.Point, error) {
		calls++
		return geo.Point{}, ErrSensorUnavailable
	})
	tr := New(src)

	errCh := make(chan error, 1)
	h := tr.Start(context.Background(), Options{Interval: time.Millisecond},
		func(geo.Point) { t.Error("no fix expected") },
		func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrSensorUnavailable)
	case <-time.After(time.Second):
		t.Fatal("error callback never fired")
	}

	<-h.Done()
	require.Equal(t, 1, calls, "the tracker must not retry on its own")
}

func TestTimeoutCancelsFixAttempt(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, _ bool) (geo.Point, error) {
		<-ctx.Done()
		return geo.Point{}, ctx.Err()
	})
	tr := New(src)

	errCh := make(chan error, 1)
	h := tr.Start(context.Background(), Options{Timeout: 5 * time.Millisecond, Interval: time.Millisecond},
		func(geo.Point) {}, func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
	<-h.Done()
}

func TestMaxAgeDropsOldFixes(t *testing.T) {
	old := geo.Point{Lat: 1, CapturedAt: time.Now().Add(-time.Hour)}
	src := SourceFunc(func(_ context.Context, _ bool) (geo.Point, error) {
		return old, nil
	})
	tr := New(src)

	delivered := make(chan geo.Point, 8)
	h := tr.Start(context.Background(), Options{Interval: time.Millisecond, MaxAge: time.Minute},
		func(pt geo.Point) { delivered <- pt }, nil)

	time.Sleep(20 * time.Millisecond)
	tr.Stop(h)
	require.Empty(t, delivered)
}

func TestHTTPSourceFix(t *testing.T) {
	captured := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/devices/dev-1/location", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("high_accuracy"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"lat": 19.0434, "lng": 73.0618, "accuracy_m": 8.5, "captured_at": captured,
		})
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, "dev-1")
	pt, err := src.Fix(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, 19.0434, pt.Lat)
	require.Equal(t, 8.5, pt.AccuracyM)
	require.True(t, pt.CapturedAt.Equal(captured))
}

func TestHTTPSourceGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, "dev-1")
	_, err := src.Fix(context.Background(), false)
	require.ErrorIs(t, err, ErrSensorUnavailable)
}
