package utils

import (
	"testing"
	"time"
)

func init() {
	SetJWTSecret("test-secret-key-for-testing")
}

func TestGenerateAndParseToken(t *testing.T) {
	tests := []struct {
		name        string
		userID      uint
		username    string
		isSuperuser bool
	}{
		{"superuser", 1, "admin", true},
		{"collaborator", 42, "jane", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.userID, tt.username, tt.isSuperuser, 24)
			if err != nil {
				t.Fatalf("GenerateToken() error = %v", err)
			}
			claims, err := ParseToken(token)
			if err != nil {
				t.Fatalf("ParseToken() error = %v", err)
			}
			if claims.UserID != tt.userID || claims.Username != tt.username || claims.IsSuperuser != tt.isSuperuser {
				t.Errorf("claims = %+v", claims)
			}
			if claims.Subject == "" {
				t.Error("subject should be set")
			}
		})
	}
}

func TestParseToken_InvalidToken(t *testing.T) {
	for _, token := range []string{
		"",
		"invalid",
		"not.a.token",
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
	} {
		if _, err := ParseToken(token); err == nil {
			t.Errorf("ParseToken(%q) should return error", token)
		}
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	SetJWTSecret("original-secret")
	token, _ := GenerateToken(1, "user", false, 24)

	SetJWTSecret("different-secret")
	_, err := ParseToken(token)
	SetJWTSecret("test-secret-key-for-testing")

	if err == nil {
		t.Error("ParseToken should fail with wrong secret")
	}
}

func TestParseToken_Expired(t *testing.T) {
	token, _ := GenerateToken(1, "user", false, -1)
	if _, err := ParseToken(token); err == nil {
		t.Error("expired token must be rejected")
	}
}

func TestGenerateToken_Expiration(t *testing.T) {
	token, _ := GenerateToken(1, "user", false, 2)
	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	diff := claims.ExpiresAt.Time.Sub(time.Now().Add(2 * time.Hour))
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiration time is off by more than 1 minute: %v", diff)
	}
}
