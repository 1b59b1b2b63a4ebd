package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/korimako/fieldtest/internal/shared"
	helpers "github.com/korimako/fieldtest/internal/testing"
)

func TestClientAuth(t *testing.T) {
	ctx := context.Background()

	t.Run("RegisterThenLogin", func(t *testing.T) {
		baseURL := helpers.StartFakeService(t)
		name := uniqueName("alice")

		first := NewUserClient(baseURL, name, "secret")
		if err := first.Register(ctx, "", ""); err != nil {
			t.Fatalf("failed to register: %v", err)
		}
		if first.Token() == "" {
			t.Fatal("register should store a session token")
		}
		if first.ID() == 0 {
			t.Error("register should store the assigned id")
		}

		again := NewUserClient(baseURL, name, "secret")
		if again.Token() != "" {
			t.Fatal("fresh client should hold no token")
		}
		if err := again.Login(ctx); err != nil {
			t.Fatalf("failed to log in: %v", err)
		}
		if again.Token() == "" {
			t.Error("login should store a session token")
		}
	})

	t.Run("LoginUnknownName", func(t *testing.T) {
		baseURL := helpers.StartFakeService(t)
		client := NewUserClient(baseURL, "nobody", "secret")

		err := client.Login(ctx)
		if !errors.Is(err, shared.ErrLoginFailed) {
			t.Fatalf("expected ErrLoginFailed, got %v", err)
		}
	})

	t.Run("LoginWrongPassword", func(t *testing.T) {
		baseURL := helpers.StartFakeService(t)
		name := uniqueName("bob")

		owner := NewUserClient(baseURL, name, "right")
		if err := owner.Register(ctx, "", ""); err != nil {
			t.Fatalf("failed to register: %v", err)
		}

		intruder := NewUserClient(baseURL, name, "wrong")
		err := intruder.Login(ctx)
		var authn *AuthenticationError
		if !errors.As(err, &authn) {
			t.Fatalf("expected AuthenticationError, got %v", err)
		}
	})

	t.Run("LoginWithEmail", func(t *testing.T) {
		baseURL := helpers.StartFakeService(t)
		name := uniqueName("carol")
		email := name + "@example.com"

		owner := NewUserClient(baseURL, name, "secret")
		if err := owner.Register(ctx, "", email); err != nil {
			t.Fatalf("failed to register: %v", err)
		}

		byEmail := NewUserClient(baseURL, name, "secret")
		if err := byEmail.LoginWithEmail(ctx, email); err != nil {
			t.Fatalf("failed to log in by email: %v", err)
		}
	})

	t.Run("RegisterDuplicateName", func(t *testing.T) {
		baseURL := helpers.StartFakeService(t)
		name := uniqueName("dup")

		if err := NewUserClient(baseURL, name, "secret").Register(ctx, "", ""); err != nil {
			t.Fatalf("failed to register: %v", err)
		}
		err := NewUserClient(baseURL, name, "secret").Register(ctx, "", "")
		var unprocessable *UnprocessableError
		if !errors.As(err, &unprocessable) {
			t.Fatalf("name collision should be UnprocessableError, got %v", err)
		}
	})

	t.Run("DeviceNeedsGroup", func(t *testing.T) {
		baseURL := helpers.StartFakeService(t)

		err := NewDeviceClient(baseURL, uniqueName("cam"), "secret").Register(ctx, "no-such-group", "")
		var unprocessable *UnprocessableError
		if !errors.As(err, &unprocessable) {
			t.Fatalf("unknown group should be UnprocessableError, got %v", err)
		}
	})

	t.Run("UnauthenticatedRequest", func(t *testing.T) {
		baseURL := helpers.StartFakeService(t)
		client := NewUserClient(baseURL, "nobody", "secret")

		_, err := client.ListGroups(ctx)
		if !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Fatalf("request without session should fail fast, got %v", err)
		}
	})

	t.Run("StaleTokenRejected", func(t *testing.T) {
		bed := newTestBed(t)

		bed.user.token = "not-a-real-session"
		_, err := bed.user.ListGroups(ctx)
		var authn *AuthenticationError
		if !errors.As(err, &authn) {
			t.Fatalf("stale token should be AuthenticationError, got %v", err)
		}
	})
}

func TestClientTransportFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("ConnectionError", func(t *testing.T) {
		client := NewUserClient("http://fake.invalid", "alice", "secret")
		client.SetHTTPClient(&http.Client{
			Transport: helpers.NewMockRoundTripper(nil, errors.New("connection refused")),
		})

		err := client.Login(ctx)
		if err == nil {
			t.Fatal("a transport failure must surface as an error")
		}
		if !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("error should carry the transport cause, got %v", err)
		}
	})

	t.Run("UnreadableAuthBody", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       &helpers.FCloser{},
		}
		client := NewUserClient("http://fake.invalid", "alice", "secret")
		client.SetHTTPClient(&http.Client{Transport: helpers.NewMockRoundTripper(resp, nil)})

		if err := client.Login(ctx); err == nil {
			t.Fatal("an unreadable auth response must surface as an error")
		}
		if client.Token() != "" {
			t.Error("no token may be stored from a garbled response")
		}
	})
}
