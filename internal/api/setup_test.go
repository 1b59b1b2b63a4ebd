package api

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	helpers "github.com/korimako/fieldtest/internal/testing"
)

var nameCounter atomic.Int64

// uniqueName returns a name unique within the test binary, so parallel
// subtests sharing a fake service never collide on registration.
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, nameCounter.Add(1))
}

// testBed is one fake service plus the principals most scenarios need: an
// admin user (registered first, so it holds global privileges), a plain user
// owning a group, and a device in that group.
type testBed struct {
	baseURL string
	admin   *UserClient
	user    *UserClient
	device  *DeviceClient
	group   string
	groupID int
}

func newTestBed(t *testing.T) *testBed {
	t.Helper()
	ctx := context.Background()
	bed := &testBed{baseURL: helpers.StartFakeService(t)}

	bed.admin = NewUserClient(bed.baseURL, uniqueName("admin"), "passwd")
	if err := bed.admin.Register(ctx, "", ""); err != nil {
		t.Fatalf("failed to register admin: %v", err)
	}

	bed.user = NewUserClient(bed.baseURL, uniqueName("user"), "passwd")
	if err := bed.user.Register(ctx, "", ""); err != nil {
		t.Fatalf("failed to register user: %v", err)
	}

	bed.group = uniqueName("group")
	groupID, err := bed.user.CreateGroup(ctx, bed.group)
	if err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	bed.groupID = groupID

	bed.device = NewDeviceClient(bed.baseURL, uniqueName("device"), "passwd")
	if err := bed.device.Register(ctx, bed.group, ""); err != nil {
		t.Fatalf("failed to register device: %v", err)
	}
	return bed
}

// upload pushes a small recording with the given props and returns its id.
func (b *testBed) upload(t *testing.T, props map[string]any) int {
	t.Helper()
	path := helpers.WriteTempRecording(t, "clip.cptv", nil)
	id, err := b.device.UploadRecording(context.Background(), path, props)
	if err != nil {
		t.Fatalf("failed to upload recording: %v", err)
	}
	return id
}
