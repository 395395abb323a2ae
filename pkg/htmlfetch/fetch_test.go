package htmlfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!doctype html>
<html>
<head>
<title>Spitfire Amber Ale</title>
<script type="application/ld+json">{"@type":"Product"}</script>
<script type="application/ld+json">{"@type":"BreadcrumbList"}</script>
</head>
<body><h1>Spitfire</h1></body>
</html>`

func TestFetch_ParsesPageSignals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/beers/spitfire", r.URL.Path)
		assert.Equal(t, "schema-cli/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte(samplePage))
	}))
	t.Cleanup(srv.Close)

	f := New(0)
	res, err := f.Fetch(context.Background(), srv.URL+"/beers/spitfire")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Spitfire Amber Ale", res.Title)
	assert.Equal(t, 2, res.JSONLDBlocks)
	assert.Contains(t, res.HTML, "<h1>Spitfire</h1>")
}

func TestFetch_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	f := New(0)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestFetch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><title>x</title></html>"))
	}))
	t.Cleanup(srv.Close)

	// 10 req/s with burst 1: the second fetch must wait roughly 100ms.
	f := New(10)
	ctx := context.Background()

	_, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)

	start := time.Now()
	_, err = f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestFetch_ContextCancelled(t *testing.T) {
	f := New(0.001) // effectively blocks on the limiter
	// Burn the initial burst token.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	_, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, srv.URL)
	require.Error(t, err)
}
