package linkpreview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ogPage = `<html><head>
<title>Fallback</title>
<meta property="og:title" content="Taco Tuesday">
<meta property="og:description" content="Two for one until 9pm">
<meta property="og:image" content="/img/taco.jpg">
<meta property="og:site_name" content="Casa">
</head><body><p>menu</p></body></html>`

const plainPage = `<html><head><title>Plain page</title></head><body>
<article><h1>Plain page</h1><p>This is a reasonably long paragraph about a neighborhood bakery that opens early and sells out of croissants before eight in the morning most days of the week.</p></article>
</body></html>`

func newSite(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/og", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(ogPage))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(plainPage))
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPreviewOpenGraph(t *testing.T) {
	srv := newSite(t)
	r := NewResolver(2*time.Second, "", 3)

	p, err := r.Preview(context.Background(), srv.URL+"/og")
	require.NoError(t, err)
	assert.Equal(t, "Taco Tuesday", p.Title)
	assert.Equal(t, "Two for one until 9pm", p.Description)
	assert.Equal(t, srv.URL+"/img/taco.jpg", p.ImageURL)
	assert.Equal(t, "Casa", p.SiteName)
}

func TestPreviewFallsBackToTitle(t *testing.T) {
	srv := newSite(t)
	r := NewResolver(2*time.Second, "", 3)

	p, err := r.Preview(context.Background(), srv.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, "Plain page", p.Title)
	assert.Equal(t, "127.0.0.1", p.SiteName)
}

func TestResolveSkipsFailures(t *testing.T) {
	srv := newSite(t)
	r := NewResolver(2*time.Second, "", 3)

	got := r.Resolve(context.Background(), "try "+srv.URL+"/json and "+srv.URL+"/og")
	require.Len(t, got, 1)
	assert.Equal(t, "Taco Tuesday", got[0].Title)
}
