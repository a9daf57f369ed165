package web

import (
	"io/fs"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticServesLocalAssets(t *testing.T) {
	srv := http.FileServerFS(Static())

	for _, path := range []string{"/", "/app.js", "/app.css", "/markdown.js"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAppScriptHasNoRemoteImports(t *testing.T) {
	app, err := fs.ReadFile(Static(), "app.js")
	require.NoError(t, err)

	assert.Contains(t, string(app), `from "./markdown.js"`)
	assert.NotContains(t, string(app), "https://")
	assert.Contains(t, string(app), "escapeHTML(text)", "render falls back to escaped raw text")
}
