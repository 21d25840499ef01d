// Package middleware carries the cross-cutting HTTP pieces: CORS and the
// identity contract with the fronting gateway.
package middleware

import "net/http"

// UserIDHeader is set by the authenticating gateway in front of this
// service; transport auth itself is out of scope here.
const UserIDHeader = "X-User-ID"

// UserID extracts the verified caller identity from the request.
func UserID(r *http.Request) string {
	return r.Header.Get(UserIDHeader)
}

// CORS answers preflight requests and opens the API to browser clients.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
