package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

// placeholderSVG is served when a product image is missing so listing
// pages never show broken images.
const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f0f0f0"/><path d="M60 70h80v60H60z" fill="none" stroke="#999" stroke-width="6"/><circle cx="85" cy="90" r="8" fill="#999"/><path d="M60 120l25-20 20 15 20-25 15 20v20H60z" fill="#999"/><text x="100" y="170" text-anchor="middle" font-family="Arial" font-size="14" fill="#666">UniMart</text></svg>`

// StaticFileServer serves product images from dir with long cache
// headers, falling back to the placeholder.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean(r.URL.Path))

		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderSVG))
	})
}
