package ckan_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jurisline/internal/ckan"
	"jurisline/internal/domain"
	"jurisline/internal/downloader"
	"jurisline/internal/resilience"
)

const packageJSON = `{
  "success": true,
  "result": {
    "id": "espelhos-de-acordaos-primeira-turma",
    "name": "espelhos-de-acordaos-primeira-turma",
    "title": "Espelhos de Acordaos - Primeira Turma",
    "resources": [
      {"id": "res-1", "name": "20241101.json", "url": "https://portal/download/20241101.json", "format": "JSON", "created": "2024-11-05T10:00:00"},
      {"id": "res-2", "name": "20241201.json", "url": "https://portal/download/20241201.json", "format": "json", "created": "2024-12-05T10:00:00"},
      {"id": "res-zip", "name": "espelhos.zip", "url": "https://portal/download/espelhos.zip", "format": "ZIP"},
      {"id": "res-3", "name": "dicionario.json", "url": "https://portal/download/dicionario.json", "format": "JSON"}
    ]
  }
}`

func newClient(t *testing.T) *ckan.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/3/action/package_show" && r.URL.Query().Get("id") == "espelhos-de-acordaos-primeira-turma":
			_, _ = w.Write([]byte(packageJSON))
		case r.URL.Path == "/api/3/action/package_show" && r.URL.Query().Get("id") == "broken":
			_, _ = w.Write([]byte(`{"success": false, "error": {"message": "Not authorized"}}`))
		case r.URL.Path == "/api/3/action/package_list":
			_, _ = w.Write([]byte(`{"success": true, "result": ["a", "b"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	p := resilience.DefaultPolicy()
	p.Breaker.Enabled = false
	dl := downloader.New(downloader.Options{Dir: t.TempDir(), Policy: p})
	return ckan.New(srv.URL+"/", dl, nil)
}

func TestPackageAndJSONResources(t *testing.T) {
	c := newClient(t)
	p, err := c.Package(context.Background(), "espelhos-de-acordaos-primeira-turma")
	require.NoError(t, err)
	assert.Equal(t, "Espelhos de Acordaos - Primeira Turma", p.Title)
	require.Len(t, p.Resources, 4)

	js := ckan.JSONResources(p)
	require.Len(t, js, 3)
	assert.Equal(t, "dicionario.json", js[0].Name)
	assert.Equal(t, "20241201.json", js[1].Name)
	assert.Equal(t, "20241101.json", js[2].Name)
}

func TestResourcesInRange(t *testing.T) {
	c := newClient(t)
	p, err := c.Package(context.Background(), "espelhos-de-acordaos-primeira-turma")
	require.NoError(t, err)

	from := time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	in := ckan.ResourcesInRange(ckan.JSONResources(p), from, to)
	require.Len(t, in, 1)
	assert.Equal(t, "res-2", in[0].ID)

	all := ckan.ResourcesInRange(ckan.JSONResources(p), time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), to)
	assert.Len(t, all, 2)

	targets := ckan.Targets("primeira_turma", in)
	require.Len(t, targets, 1)
	assert.Equal(t, "primeira_turma_20241201.json", targets[0].Filename)
	assert.Equal(t, 12, targets[0].Month)
	assert.Equal(t, "https://portal/download/20241201.json", targets[0].URL)
}

func TestPackageErrors(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.Package(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.Package(ctx, "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not authorized")
}

func TestListPackages(t *testing.T) {
	ids, err := newClient(t).ListPackages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestResourceDate(t *testing.T) {
	d, ok := ckan.Resource{Name: "20240229.json"}.Date()
	require.True(t, ok)
	assert.Equal(t, 29, d.Day())
	_, ok = ckan.Resource{Name: "20240231.json"}.Date()
	assert.False(t, ok)
	_, ok = ckan.Resource{Name: "latest.json"}.Date()
	assert.False(t, ok)
}
