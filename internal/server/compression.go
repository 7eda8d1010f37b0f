// compression.go - gzip for JSON and frontend responses.
package server

import (
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzhttp"
)

var compressibleTypes = []string{
	"application/json",
	"text/html",
	"text/css",
	"text/plain",
	"text/javascript",
	"application/javascript",
}

// compressionMiddleware gzips textual responses for clients that accept it.
// Uploads and downloads bypass it: file bodies are usually already
// compressed and ZIP archives certainly are.
func compressionMiddleware(next http.Handler) http.Handler {
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(1024), gzhttp.ContentTypes(compressibleTypes))
	if err != nil {
		// Only reachable with invalid static options.
		panic(err)
	}
	gz := wrap(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipCompression(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

func shouldSkipCompression(r *http.Request) bool {
	path := r.URL.Path
	if strings.HasPrefix(path, "/api/resource/download") {
		return true
	}
	if path == "/api/resource" && r.Method == http.MethodPost {
		return true
	}
	return strings.HasPrefix(path, "/actuator/prometheus")
}
