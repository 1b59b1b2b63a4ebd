package harness

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/korimako/fieldtest/internal/shared"
	helpers "github.com/korimako/fieldtest/internal/testing"
	"github.com/korimako/fieldtest/internal/verify"
)

func testConfig(t *testing.T) *shared.Config {
	t.Helper()
	cfg := shared.DefaultConfig()
	cfg.API.ServerURL = helpers.StartFakeService(t)
	cfg.API.RequestsPerSecond = 0
	return cfg
}

func setupHarness(t *testing.T, scope string) *Context {
	t.Helper()
	h, err := Setup(context.Background(), testConfig(t), shared.NewLogger(io.Discard), scope)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	return h
}

func TestSetup(t *testing.T) {
	ctx := context.Background()

	t.Run("FreshDeployment", func(t *testing.T) {
		h := setupHarness(t, "fresh")
		if h.Admin.Token() == "" {
			t.Error("setup should leave the admin authenticated")
		}

		groups, err := h.Admin.ListGroups(ctx)
		if err != nil {
			t.Fatalf("failed to list groups: %v", err)
		}
		if len(groups) != 1 || groups[0].Name != h.Config.Admin.DefaultGroup {
			t.Errorf("default group should exist, got %v", groups)
		}
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Admin.Password = ""
		_, err := Setup(ctx, cfg, shared.NewLogger(io.Discard), "x")
		if !errors.Is(err, shared.ErrMissingCredentials) {
			t.Fatalf("blank admin credentials should fail fast, got %v", err)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		cfg := testConfig(t)
		logger := shared.NewLogger(io.Discard)
		if _, err := Setup(ctx, cfg, logger, "a"); err != nil {
			t.Fatalf("first setup failed: %v", err)
		}
		h, err := Setup(ctx, cfg, logger, "b")
		if err != nil {
			t.Fatalf("second setup should reuse the admin and group: %v", err)
		}
		groups, err := h.Admin.ListGroups(ctx)
		if err != nil {
			t.Fatalf("failed to list groups: %v", err)
		}
		if len(groups) != 1 {
			t.Errorf("default group should not be duplicated, got %v", groups)
		}
	})
}

func TestEntityCreation(t *testing.T) {
	ctx := context.Background()

	t.Run("NewUserNamesFollowConvention", func(t *testing.T) {
		h := setupHarness(t, "naming")
		user, err := h.NewUser(ctx, "alice")
		if err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
		if !strings.Contains(user.Name(), "_naming_alice") {
			t.Errorf("name should embed scope and base name, got %q", user.Name())
		}
	})

	t.Run("CollisionGetsSuffix", func(t *testing.T) {
		h := setupHarness(t, "collide")
		first, err := h.NewUser(ctx, "bob")
		if err != nil {
			t.Fatalf("failed to create first user: %v", err)
		}
		second, err := h.NewUser(ctx, "bob")
		if err != nil {
			t.Fatalf("collision should retry with a suffix: %v", err)
		}
		if second.Name() == first.Name() {
			t.Fatalf("second user should get a distinct name, both %q", first.Name())
		}
		if second.Name() != first.Name()+"2" {
			t.Errorf("first retry should append 2, got %q", second.Name())
		}
	})

	t.Run("NewDeviceDefaultsToConfiguredGroup", func(t *testing.T) {
		h := setupHarness(t, "devices")
		device, err := h.NewDevice(ctx, "cam", "")
		if err != nil {
			t.Fatalf("failed to create device: %v", err)
		}
		if device.Token() == "" || device.ID() == 0 {
			t.Error("device should come back registered and authenticated")
		}
	})

	t.Run("NewGroup", func(t *testing.T) {
		h := setupHarness(t, "groups")
		owner, err := h.NewUser(ctx, "owner")
		if err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
		name, id, err := h.NewGroup(ctx, owner, "forest")
		if err != nil {
			t.Fatalf("failed to create group: %v", err)
		}
		if id == 0 || !strings.Contains(name, "_groups_forest") {
			t.Errorf("unexpected group %q id %d", name, id)
		}
	})

	t.Run("ReattachByName", func(t *testing.T) {
		h := setupHarness(t, "reattach")
		created, err := h.NewUser(ctx, "carol")
		if err != nil {
			t.Fatalf("failed to create user: %v", err)
		}

		again, err := h.LoginUser(ctx, created.Name())
		if err != nil {
			t.Fatalf("failed to log back in: %v", err)
		}
		if again.Token() == "" {
			t.Error("re-login should produce a session")
		}

		device, err := h.NewDevice(ctx, "cam", "")
		if err != nil {
			t.Fatalf("failed to create device: %v", err)
		}
		if _, err := h.LoginDevice(ctx, device.Name()); err != nil {
			t.Fatalf("failed to log device back in: %v", err)
		}
	})
}

func TestUploadTaggedRecording(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t, "tagged")

	device, err := h.NewDevice(ctx, "cam", "")
	if err != nil {
		t.Fatalf("failed to create device: %v", err)
	}
	path := helpers.WriteTempRecording(t, "clip.cptv", nil)

	rec, track, tag, err := h.UploadTaggedRecording(ctx, device, h.Admin, path, "possum", false)
	if err != nil {
		t.Fatalf("upload-and-tag failed: %v", err)
	}
	if rec.ID == 0 || track.ID == 0 || tag.ID == 0 {
		t.Fatalf("all entities should have server ids: rec=%d track=%d tag=%d", rec.ID, track.ID, tag.ID)
	}

	tracks, err := h.Admin.GetTracks(ctx, rec.ID)
	if err != nil {
		t.Fatalf("failed to list tracks: %v", err)
	}
	if len(tracks) != 1 || len(tracks[0].Tags) != 1 || tracks[0].Tags[0].What != "possum" {
		t.Fatalf("expected one possum-tagged track, got %v", tracks)
	}

	// The uploaded recording plugs straight into the verification DSL.
	if err := verify.Recordings(h.Admin).Tags("possum").CanSee(ctx, rec); err != nil {
		t.Errorf("tagged recording should match a tag query: %v", err)
	}
}
