package authmw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const apiToken = "warden-producer-token"

// reached records whether the request got past the middleware.
func reached(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*called = true
		w.WriteHeader(http.StatusAccepted)
	})
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		token     string
		header    string
		wantCode  int
		wantError string
	}{
		{"valid token", apiToken, "Bearer " + apiToken, http.StatusAccepted, ""},
		{"auth disabled", "", "", http.StatusAccepted, ""},
		{"auth disabled ignores header", "", "Bearer anything", http.StatusAccepted, ""},
		{"missing header", apiToken, "", http.StatusUnauthorized, "missing or malformed authorization header"},
		{"basic scheme", apiToken, "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "missing or malformed authorization header"},
		{"lowercase scheme", apiToken, "bearer " + apiToken, http.StatusUnauthorized, "missing or malformed authorization header"},
		{"bare token", apiToken, apiToken, http.StatusUnauthorized, "missing or malformed authorization header"},
		{"wrong token", apiToken, "Bearer wrong", http.StatusUnauthorized, "invalid token"},
		{"prefix of token", apiToken, "Bearer warden", http.StatusUnauthorized, "invalid token"},
		{"token with suffix", apiToken, "Bearer " + apiToken + "x", http.StatusUnauthorized, "invalid token"},
		{"empty bearer", apiToken, "Bearer ", http.StatusUnauthorized, "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var called bool
			h := BearerToken(tt.token)(reached(&called))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if called != (tt.wantCode == http.StatusAccepted) {
				t.Errorf("next handler called = %v", called)
			}
			if tt.wantError == "" {
				return
			}

			if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer realm="warden"` {
				t.Errorf("WWW-Authenticate = %q", got)
			}
			if got := rec.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", got)
			}
			var body struct {
				Error string `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error != tt.wantError {
				t.Errorf("error = %q, want %q", body.Error, tt.wantError)
			}
		})
	}
}
