package api

import "testing"

func TestOriginPermitted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		origin    string
		allowlist []string
		reqHost   string
		want      bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8080",
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			reqHost: "localhost:8080",
			want:    false,
		},
		{
			name:      "allowlist permits exact origin",
			origin:    "https://dash.example.com",
			allowlist: []string{"https://dash.example.com"},
			reqHost:   "0.0.0.0:8080",
			want:      true,
		},
		{
			name:      "allowlist is exhaustive",
			origin:    "https://evil.example",
			allowlist: []string{"https://dash.example.com"},
			reqHost:   "0.0.0.0:8080",
			want:      false,
		},
		{
			name:      "allowlist overrides the loopback default",
			origin:    "http://localhost:8080",
			allowlist: []string{"https://dash.example.com"},
			reqHost:   "localhost:8080",
			want:      false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://mm.internal:8080",
			reqHost: "mm.internal:8080",
			want:    true,
		},
		{
			name:    "schemeless origin rejected",
			origin:  "dash.example.com",
			reqHost: "localhost:8080",
			want:    false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := originPermitted(tt.origin, tt.allowlist, tt.reqHost); got != tt.want {
				t.Fatalf("originPermitted(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
