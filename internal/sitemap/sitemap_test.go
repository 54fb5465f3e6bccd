package sitemap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditengine/siteauditor/internal/types"
)

func TestDiscoverURLSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>http://` + r.Host + `/page-a</loc></url>
  <url><loc>http://` + r.Host + `/page-b</loc></url>
</urlset>`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(0)
	p.Admit = admitAll
	urls, err := p.Discover(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	assert.Len(t, urls, 2)
}

// admitAll replaces the SSRF admission policy so tests can discover URLs
// pointing at loopback httptest fixtures.
func admitAll(context.Context, string) error { return nil }

func TestDiscoverEmptySitemapReturnsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"></urlset>`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(0)
	_, err := p.Discover(context.Background(), srv.URL+"/sitemap.xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSitemapEmpty)
}

func TestDiscoverRejectsPrivateURLs(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>http://169.254.169.254/latest/meta-data</loc></url>
</urlset>`))
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	p := NewHTTPProvider(0)
	_, err := p.Discover(context.Background(), srv.URL+"/sitemap.xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSitemapEmpty)
}

func TestDiscoverSitemapIndexOneLevel(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>http://` + r.Host + `/child.xml</loc></sitemap>
</sitemapindex>`))
	})
	mux.HandleFunc("/child.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>http://` + r.Host + `/deep-page</loc></url>
</urlset>`))
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	p := NewHTTPProvider(0)
	p.Admit = admitAll
	urls, err := p.Discover(context.Background(), srv.URL+"/index.xml")
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Contains(t, urls[0], "/deep-page")
}
