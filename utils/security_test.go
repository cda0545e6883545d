// unadulting/utils/security_test.go
package utils

import (
	"net/http/httptest"
	"testing"
)

func TestGetIPAddress(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.7:4242"
	if got := GetIPAddress(r); got != "192.0.2.7" {
		t.Errorf("Expected remote addr host, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := GetIPAddress(r); got != "203.0.113.9" {
		t.Errorf("Expected first forwarded hop, got %q", got)
	}

	r.Header.Set("CF-Connecting-IP", "198.51.100.3")
	if got := GetIPAddress(r); got != "198.51.100.3" {
		t.Errorf("Expected CF header to win, got %q", got)
	}
}

func TestHashIP(t *testing.T) {
	oldSalt := IPSalt
	defer func() { IPSalt = oldSalt }()

	IPSalt = "salt-a"
	a1 := HashIP("192.0.2.7")
	a2 := HashIP("192.0.2.7")
	if a1 != a2 {
		t.Error("Same input and salt should hash identically")
	}
	if len(a1) != 32 {
		t.Errorf("Expected 32 hex chars, got %d", len(a1))
	}
	if a1 == "192.0.2.7" || HashIP("192.0.2.8") == a1 {
		t.Error("Distinct inputs should hash distinctly")
	}

	IPSalt = "salt-b"
	if HashIP("192.0.2.7") == a1 {
		t.Error("Changing the salt should change the hash")
	}
}
