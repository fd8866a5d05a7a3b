package registry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNPMClientFetchParsesLatestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]any{
			"name":      "react",
			"dist-tags": map[string]string{"latest": "18.3.0"},
			"versions": map[string]any{
				"18.3.0": map[string]any{
					"dependencies":     map[string]string{"loose-envify": "^1.1.0"},
					"peerDependencies": map[string]string{},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	client := NewNPMClient(srv.URL)
	meta, err := client.Fetch(t.Context(), "react")
	require.NoError(t, err)
	assert.Equal(t, "react", meta.Name)
	assert.Equal(t, "18.3.0", meta.Version)
	assert.Equal(t, "^1.1.0", meta.Dependencies["loose-envify"])
}

func TestNPMClientFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewNPMClient(srv.URL)
	_, err := client.Fetch(t.Context(), "not-a-real-package")
	assert.ErrorIs(t, err, ErrPackageNotFound)
}

func TestNPMClientSearchReturnsTopHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]any{
			"objects": []map[string]any{
				{"package": map[string]any{"name": "react-dom"}},
			},
		}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	client := NewNPMClient(srv.URL)
	hit, err := client.Search(t.Context(), "raect-dom")
	require.NoError(t, err)
	assert.Equal(t, "react-dom", hit)
}

func TestNPMClientSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"objects": []map[string]any{}})
	}))
	defer srv.Close()

	client := NewNPMClient(srv.URL)
	hit, err := client.Search(t.Context(), "zzzzznotreal")
	require.NoError(t, err)
	assert.Empty(t, hit)
}
