package api

import (
	"crypto/subtle"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// APIKeyAuth rejects requests that do not carry apiKey in X-API-Key or as
// an Authorization bearer token.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := presentedKey(r)
			switch {
			case got == "":
				respondError(w, http.StatusUnauthorized, "Missing API key")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				respondError(w, http.StatusForbidden, "Invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func presentedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// previewServer serves uploaded files without directory listings or dotfiles.
func previewServer(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if !safeName(name) {
			respondError(w, http.StatusNotFound, "File not found")
			return
		}
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !info.Mode().IsRegular() {
			respondError(w, http.StatusNotFound, "File not found")
			return
		}
		files.ServeHTTP(w, r)
	})
}
