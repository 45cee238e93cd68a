package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/v1/users/abc":           "/v1/users/:id",
		"/v1/users/abc/otp":       "/v1/users/:id/otp",
		"/v1/users/abc/otp/extra": "/v1/users/abc/otp/extra",
		"/v1/tokens/abc":          "/v1/tokens/:id",
		"/v1/auth/user":           "/v1/auth/user",
		"/v1/auth/user?tenant=t1": "/v1/auth/user",
		"/.well-known/jwks.json":  "/.well-known/jwks.json",
		"/v1/auth/transaction":    "/v1/auth/transaction",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
