package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/Harry0M/oikos-sub001/internal/auth"
	"github.com/Harry0M/oikos-sub001/internal/models"
)

type emptyMsg struct{}

func TestRequireAuth_SetsIdentity(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	token, err := jwtManager.Generate(models.Identity{UserID: "u1", DisplayName: "Ann"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var got models.Identity
	next := connect.UnaryFunc(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		got = GetIdentity(ctx)
		return connect.NewResponse(&emptyMsg{}), nil
	})
	handler := RequireAuth(jwtManager, nil)(next)

	req := connect.NewRequest(&emptyMsg{})
	req.Header().Set("Authorization", "Bearer "+token)
	if _, err := handler(context.Background(), req); err != nil {
		t.Fatalf("expected request to pass, got %v", err)
	}
	if got.UserID != "u1" || got.DisplayName != "Ann" {
		t.Errorf("unexpected identity in context: %+v", got)
	}

	_, err = handler(context.Background(), connect.NewRequest(&emptyMsg{}))
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("expected unauthenticated without token, got %v", err)
	}
}

func TestLoggingInterceptor_Levels(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"ok", nil, "level=INFO"},
		{"client error", connect.NewError(connect.CodeNotFound, errors.New("debt missing")), "level=WARN"},
		{"server error", connect.NewError(connect.CodeInternal, errors.New("disk full")), "level=ERROR"},
		{"plain error", errors.New("boom"), "level=ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			next := connect.UnaryFunc(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return connect.NewResponse(&emptyMsg{}), nil
			})

			ctx := WithIdentity(context.Background(), models.Identity{UserID: "u1"})
			_, err := LoggingInterceptor(logger)(next)(ctx, connect.NewRequest(&emptyMsg{}))
			if !errors.Is(err, tt.err) {
				t.Fatalf("interceptor changed the error: %v", err)
			}
			out := buf.String()
			if !strings.Contains(out, tt.level) {
				t.Errorf("expected %s in %q", tt.level, out)
			}
			if !strings.Contains(out, "user_id=u1") {
				t.Errorf("expected user id in %q", out)
			}
		})
	}
}
