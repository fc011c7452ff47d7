package httpapi

import (
	"testing"
	"time"
)

func TestJWTAuth_RoundTrip(t *testing.T) {
	auth := NewJWTAuth("test-secret", 0)

	tests := []struct {
		name     string
		clientID string
		admin    bool
		prefix   string
	}{
		{name: "client", clientID: "rqt_graph"},
		{name: "admin", clientID: "operator", admin: true},
		{name: "bearer prefix", clientID: "rosnode-cli", prefix: "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, expiresAt, err := auth.GenerateToken(tt.clientID, tt.admin)
			if err != nil {
				t.Fatalf("GenerateToken: %v", err)
			}
			if diff := expiresAt.Sub(time.Now().Add(DefaultTokenTTL)).Abs(); diff > time.Minute {
				t.Errorf("expiry off by %v", diff)
			}

			claims, err := auth.ValidateToken(tt.prefix + token)
			if err != nil {
				t.Fatalf("ValidateToken: %v", err)
			}
			if claims.ClientID != tt.clientID {
				t.Errorf("ClientID = %q, want %q", claims.ClientID, tt.clientID)
			}
			if claims.IsAdmin != tt.admin {
				t.Errorf("IsAdmin = %v, want %v", claims.IsAdmin, tt.admin)
			}
		})
	}
}

func TestJWTAuth_CustomTTL(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)
	_, expiresAt, err := auth.GenerateToken("short-lived", false)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if diff := expiresAt.Sub(time.Now().Add(time.Hour)).Abs(); diff > time.Minute {
		t.Errorf("expiry off by %v", diff)
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	auth := NewJWTAuth("test-secret", 0)
	other := NewJWTAuth("other-secret", 0)

	foreign, _, err := other.GenerateToken("intruder", true)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "invalid-token",
		"wrong secret": foreign,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := auth.ValidateToken(token); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, _, err := auth.GenerateToken("", false); err == nil {
		t.Error("expected error for empty client id")
	}
}
