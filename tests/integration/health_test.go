//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestHealth(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp := doGet(t, path)
			defer resp.Body.Close()
			expectStatus(t, resp, http.StatusOK)

			if body := decodeJSON[healthResponse](t, resp); body.Status != "ok" {
				t.Fatalf("expected status ok, got %q (%v)", body.Status, body.Checks)
			}
		})
	}
}
