package verify

import (
	"context"
	"fmt"

	"github.com/korimako/fieldtest/internal/api"
)

// SchedulePromise accumulates the devices an audio schedule should be
// installed on. Nothing is sent until a ForDevice call.
type SchedulePromise struct {
	user     *api.UserClient
	schedule map[string]any
}

// Schedule starts a schedule-install promise for the given user. A nil
// schedule installs a minimal plausible one.
func Schedule(user *api.UserClient, schedule map[string]any) *SchedulePromise {
	if schedule == nil {
		schedule = map[string]any{
			"combos": []map[string]any{
				{"from": "21:00", "until": "23:00", "waits": []int{0}, "sounds": []string{"same"}, "volumes": []int{10}},
			},
			"playNights": 1,
		}
	}
	return &SchedulePromise{user: user, schedule: schedule}
}

// ForDevice installs the schedule on a single device.
func (p *SchedulePromise) ForDevice(ctx context.Context, deviceID int) error {
	return p.ForDevices(ctx, deviceID)
}

// ForDevices installs the schedule on several devices in one call. The
// service applies the schedule to all of them or none: lacking permission on
// any listed device rejects the whole call.
func (p *SchedulePromise) ForDevices(ctx context.Context, deviceIDs ...int) error {
	if len(deviceIDs) == 0 {
		return fmt.Errorf("no devices given for schedule")
	}
	if err := p.user.SetSchedule(ctx, deviceIDs, p.schedule); err != nil {
		return fmt.Errorf("user %q could not set schedule on devices %v: %w", p.user.Name(), deviceIDs, err)
	}
	return nil
}
