package shopify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesync/storesync/internal/config"
	"github.com/storesync/storesync/internal/utils"
)

// testShopifyConfig returns a client configuration with generous
// limits and no backoff waits so tests run fast
func testShopifyConfig() config.Shopify {
	return config.Shopify{
		APIVersion:        "2024-01",
		Timeout:           5 * time.Second,
		MaxRetries:        3,
		DefaultRetryAfter: 0,
		CostThreshold:     10,
		Rest: config.RateLimit{
			Capacity: 1000,
			Interval: time.Second,
		},
		GraphQL: config.RateLimit{
			Capacity: 1000,
			Interval: time.Second,
		},
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "test-token", testShopifyConfig(), zerolog.Nop())
	return client, srv
}

func TestClient_Get(t *testing.T) {
	t.Run("decodes response and sends access token", func(t *testing.T) {
		var gotToken, gotPath string
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotToken = r.Header.Get("X-Shopify-Access-Token")
			gotPath = r.URL.Path
			w.Write([]byte(`{"shop":{"name":"demo"}}`))
		}))

		var out struct {
			Shop struct {
				Name string `json:"name"`
			} `json:"shop"`
		}
		err := client.Get(context.Background(), "/shop.json", &out)
		require.NoError(t, err)
		assert.Equal(t, "demo", out.Shop.Name)
		assert.Equal(t, "test-token", gotToken)
		assert.Equal(t, "/admin/api/2024-01/shop.json", gotPath)
	})

	t.Run("API error is not retried", func(t *testing.T) {
		var requests int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requests, 1)
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"errors":"title can't be blank"}`))
		}))

		err := client.Get(context.Background(), "/products.json", nil)
		require.Error(t, err)

		var apiErr *utils.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	})
}

func TestClient_ThrottleRetry(t *testing.T) {
	t.Run("retries until the throttle clears", func(t *testing.T) {
		var requests int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&requests, 1)
			if n <= 2 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{"ok":true}`))
		}))

		err := client.Get(context.Background(), "/shop.json", nil)
		require.NoError(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		var requests int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requests, 1)
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		}))

		err := client.Get(context.Background(), "/shop.json", nil)
		require.Error(t, err)

		var throttle *utils.ThrottleError
		require.ErrorAs(t, err, &throttle)
		assert.Equal(t, 4, throttle.Attempts)
		// Initial attempt plus MaxRetries retries.
		assert.Equal(t, int32(4), atomic.LoadInt32(&requests))
	})
}

func TestClient_GetPage(t *testing.T) {
	t.Run("extracts next page cursor from Link header", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Link", `<https://shop.example.com/admin/api/2024-01/products.json?limit=50&page_info=abc123>; rel="next"`)
			w.Write([]byte(`{"products":[]}`))
		}))

		cursor, err := client.GetPage(context.Background(), "/products.json", nil)
		require.NoError(t, err)
		assert.Equal(t, "abc123", cursor)
	})

	t.Run("empty cursor on last page", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Link", `<https://shop.example.com/admin/api/2024-01/products.json?page_info=xyz>; rel="previous"`)
			w.Write([]byte(`{"products":[]}`))
		}))

		cursor, err := client.GetPage(context.Background(), "/products.json", nil)
		require.NoError(t, err)
		assert.Empty(t, cursor)
	})
}

func TestClient_GraphQL(t *testing.T) {
	t.Run("decodes the data payload", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/admin/api/2024-01/graphql.json", r.URL.Path)
			w.Write([]byte(`{"data":{"shop":{"name":"demo"}}}`))
		}))

		var out struct {
			Shop struct {
				Name string `json:"name"`
			} `json:"shop"`
		}
		err := client.GraphQL(context.Background(), `query { shop { name } }`, nil, &out)
		require.NoError(t, err)
		assert.Equal(t, "demo", out.Shop.Name)
	})

	t.Run("surfaces graphql errors", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"errors":[{"message":"field does not exist"}]}`))
		}))

		err := client.GraphQL(context.Background(), `query { nope }`, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "field does not exist")
	})

	t.Run("pauses when the cost budget runs low", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{},"extensions":{"cost":{"throttleStatus":{"currentlyAvailable":5}}}}`))
		}))

		start := time.Now()
		err := client.GraphQL(context.Background(), `query { shop { name } }`, nil, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), time.Second)
	})
}

func TestClient_Download(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))

	data, contentType, err := client.Download(context.Background(), srv.URL+"/cdn/image.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "image/png", contentType)
}

func TestNextPageInfo(t *testing.T) {
	header := http.Header{}
	header.Set("Link", `<https://x/admin?page_info=prev>; rel="previous", <https://x/admin?page_info=next42&limit=50>; rel="next"`)
	assert.Equal(t, "next42", nextPageInfo(header))
}

func TestClient_LimiterBoundsConcurrentRequests(t *testing.T) {
	const (
		capacity = 2
		interval = 600 * time.Millisecond
		calls    = 6
	)

	var mu sync.Mutex
	var hits []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	cfg := testShopifyConfig()
	cfg.Rest = config.RateLimit{
		Capacity:   capacity,
		Interval:   interval,
		MinSpacing: interval / capacity,
	}
	client := NewClient(srv.URL, "test-token", cfg, zerolog.Nop())

	errs := make([]error, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Get(context.Background(), "/shop.json", nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	mu.Lock()
	times := append([]time.Time(nil), hits...)
	mu.Unlock()
	require.Len(t, times, calls)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	// No refill interval may see more requests than the bucket holds.
	// The margin absorbs scheduler jitter on the measured timestamps.
	for i := 0; i+capacity < len(times); i++ {
		gap := times[i+capacity].Sub(times[i])
		assert.GreaterOrEqualf(t, gap, interval-100*time.Millisecond,
			"requests %d and %d arrived %s apart", i, i+capacity, gap)
	}
}
