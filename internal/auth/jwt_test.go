package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/Harry0M/oikos-sub001/internal/models"
)

func TestJWTManager(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	t.Run("round trip keeps identity", func(t *testing.T) {
		token, err := m.Generate(models.Identity{UserID: "u1", DisplayName: "Ann"})
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		claims, err := m.Validate(token)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if got := claims.Identity(); got.UserID != "u1" || got.DisplayName != "Ann" {
			t.Errorf("Identity = %+v", got)
		}
	})

	t.Run("rejects empty identity", func(t *testing.T) {
		if _, err := m.Generate(models.Identity{}); err == nil {
			t.Error("Expected error for empty identity")
		}
	})

	t.Run("rejects other secret", func(t *testing.T) {
		token, _ := NewJWTManager("other", time.Hour).Generate(models.Identity{UserID: "u1"})
		if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("rejects expired token", func(t *testing.T) {
		token, _ := NewJWTManager("test-secret", -time.Minute).Generate(models.Identity{UserID: "u1"})
		if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{"Bearer abc", "abc", nil},
		{"", "", ErrMissingToken},
		{"Basic abc", "", ErrInvalidToken},
		{"Bearer", "", ErrInvalidToken},
		{"Bearer a b", "", ErrInvalidToken},
	}
	for _, tt := range tests {
		got, err := BearerToken(tt.header)
		if !errors.Is(err, tt.wantErr) || got != tt.want {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, got, err, tt.want, tt.wantErr)
		}
	}
}
