package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name     string
		fromBody string
		trusted  []string
		headers  map[string]string
		want     string
	}{
		{"body wins", "10.1.1.1", nil, map[string]string{"X-Forwarded-For": "10.2.2.2"}, "10.1.1.1"},
		{"body normalized", " 2001:DB8::1 ", nil, nil, "2001:db8::1"},
		{"malformed body ignored", "'; drop table", nil, nil, "10.3.3.3"},
		{"untrusted peer cannot forward", "", nil, map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "203.0.113.8"}, "10.3.3.3"},
		{"trusted chain", "", []string{"10.0.0.0/8"}, map[string]string{"X-Forwarded-For": "198.51.100.2, 10.9.9.9"}, "198.51.100.2"},
		{"rightmost untrusted hop", "", []string{"10.3.3.3"}, map[string]string{"X-Forwarded-For": "198.51.100.2, 203.0.113.7"}, "203.0.113.7"},
		{"malformed forwarded header", "", []string{"10.3.3.3"}, map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.3.3.3"},
		{"real ip from trusted proxy", "", []string{"10.3.3.3"}, map[string]string{"X-Real-IP": "198.51.100.4"}, "198.51.100.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, engine := gin.CreateTestContext(httptest.NewRecorder())
			if err := engine.SetTrustedProxies(tt.trusted); err != nil {
				t.Fatal(err)
			}
			c.Request = httptest.NewRequest(http.MethodPost, "/validate", nil)
			c.Request.RemoteAddr = "10.3.3.3:5000"
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			if got := clientIP(c, tt.fromBody); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.nowFn = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(5 * time.Minute)
	rl.Allow("b")
	now = now.Add(6 * time.Minute)

	if removed := rl.Cleanup(10 * time.Minute); removed != 1 {
		t.Errorf("Cleanup removed %d, want 1", removed)
	}
	if _, ok := rl.visitors["b"]; !ok {
		t.Error("recent visitor was removed")
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("burst of 1 should allow exactly one request")
	}
	if !rl.Allow("b") {
		t.Error("second key should have its own bucket")
	}
}

func TestParseList(t *testing.T) {
	got := ParseList(" https://a.example.com, ,https://b.example.com ")
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Errorf("ParseList = %v", got)
	}
}
