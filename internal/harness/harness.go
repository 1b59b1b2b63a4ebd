// package harness wires scenarios together: it bootstraps the admin
// principal and default group into an explicit context value, and creates
// uniquely-named users, devices and groups with a bounded collision-retry
// loop.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/korimako/fieldtest/internal/api"
	"github.com/korimako/fieldtest/internal/models"
	"github.com/korimako/fieldtest/internal/shared"
)

// maxNameAttempts bounds the register-with-suffix loop for uniquely-named
// entities.
const maxNameAttempts = 200

// Context carries the bootstrap state every scenario needs: configuration,
// an authenticated admin client, and a logger. It replaces any notion of
// lazily-created global admin state; thread it explicitly.
type Context struct {
	Config *shared.Config
	Admin  *api.UserClient
	Log    *log.Logger

	// Scope prefixes generated entity names so runs are distinguishable
	// server-side, normally the scenario name.
	Scope string
}

// Setup logs in the configured admin, registering it first if the deployment
// is fresh, and ensures the default group exists. The returned Context is the
// only handle scenarios get to shared state.
func Setup(ctx context.Context, cfg *shared.Config, logger *log.Logger, scope string) (*Context, error) {
	if cfg.Admin.Username == "" || cfg.Admin.Password == "" {
		return nil, fmt.Errorf("%w: admin username and password", shared.ErrMissingCredentials)
	}
	if logger == nil {
		logger = shared.NewLogger(os.Stderr)
	}
	if scope != "" {
		logger = shared.WithLogger(logger, "scope", scope)
	}

	admin := newUserClient(cfg, cfg.Admin.Username, cfg.Admin.Password)
	if err := admin.Login(ctx); err != nil {
		logger.Info("admin login failed, registering admin", "username", cfg.Admin.Username)
		if rerr := admin.Register(ctx, "", cfg.Admin.Email); rerr != nil {
			return nil, fmt.Errorf("could not log in or register admin %q: %w", cfg.Admin.Username, rerr)
		}
	}

	h := &Context{Config: cfg, Admin: admin, Log: logger, Scope: scope}
	if err := h.ensureDefaultGroup(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Context) ensureDefaultGroup(ctx context.Context) error {
	groups, err := h.Admin.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("could not list groups: %w", err)
	}
	for _, g := range groups {
		if g.Name == h.Config.Admin.DefaultGroup {
			return nil
		}
	}

	h.Log.Info("creating default group", "group", h.Config.Admin.DefaultGroup)
	if _, err := h.Admin.CreateGroup(ctx, h.Config.Admin.DefaultGroup); err != nil {
		var unprocessable *api.UnprocessableError
		if errors.As(err, &unprocessable) {
			// Another worker created it between the list and the create.
			return nil
		}
		return fmt.Errorf("could not create default group: %w", err)
	}
	return nil
}

// RegisterStatus classifies one registration attempt, replacing
// exception-driven retry with an explicit result.
type RegisterStatus int

const (
	RegisterOK RegisterStatus = iota
	RegisterCollision
	RegisterFailed
)

func classifyRegister(err error) RegisterStatus {
	if err == nil {
		return RegisterOK
	}
	var unprocessable *api.UnprocessableError
	if errors.As(err, &unprocessable) {
		return RegisterCollision
	}
	return RegisterFailed
}

// NewUser registers a fresh user whose name starts from the conventional
// long name. On a name collision the candidate gets an incrementing numeric
// suffix, up to maxNameAttempts tries; any other failure aborts immediately.
func (h *Context) NewUser(ctx context.Context, name string) (*api.UserClient, error) {
	var lastErr error
	for attempt, candidate := range candidateNames(shared.LongName(h.Scope, name)) {
		user := newUserClient(h.Config, candidate, shared.PasswordFor(candidate))
		err := user.Register(ctx, "", "")
		switch classifyRegister(err) {
		case RegisterOK:
			h.Log.Debug("registered user", "username", candidate, "attempt", attempt+1)
			return user, nil
		case RegisterCollision:
			lastErr = err
		case RegisterFailed:
			return nil, fmt.Errorf("could not register user %q: %w", candidate, err)
		}
	}
	return nil, fmt.Errorf("%w for user like %q: %w", shared.ErrNameExhausted, name, lastErr)
}

// NewDevice registers a fresh device into the given group, defaulting to the
// configured group, with the same bounded collision retry as NewUser.
func (h *Context) NewDevice(ctx context.Context, name, group string) (*api.DeviceClient, error) {
	if group == "" {
		group = h.Config.Admin.DefaultGroup
	}

	var lastErr error
	for attempt, candidate := range candidateNames(shared.LongName(h.Scope, name)) {
		device := newDeviceClient(h.Config, candidate, shared.PasswordFor(candidate))
		err := device.Register(ctx, group, "")
		switch classifyRegister(err) {
		case RegisterOK:
			h.Log.Debug("registered device", "devicename", candidate, "group", group, "attempt", attempt+1)
			return device, nil
		case RegisterCollision:
			lastErr = err
		case RegisterFailed:
			return nil, fmt.Errorf("could not register device %q: %w", candidate, err)
		}
	}
	return nil, fmt.Errorf("%w for device like %q: %w", shared.ErrNameExhausted, name, lastErr)
}

// NewGroup creates a uniquely-named group owned by the given user and
// returns its name and id.
func (h *Context) NewGroup(ctx context.Context, owner *api.UserClient, name string) (string, int, error) {
	var lastErr error
	for _, candidate := range candidateNames(shared.LongName(h.Scope, name)) {
		id, err := owner.CreateGroup(ctx, candidate)
		switch classifyRegister(err) {
		case RegisterOK:
			return candidate, id, nil
		case RegisterCollision:
			lastErr = err
		case RegisterFailed:
			return "", 0, fmt.Errorf("could not create group %q: %w", candidate, err)
		}
	}
	return "", 0, fmt.Errorf("%w for group like %q: %w", shared.ErrNameExhausted, name, lastErr)
}

// LoginUser re-attaches to a user created earlier in the run by deriving its
// password from its name.
func (h *Context) LoginUser(ctx context.Context, username string) (*api.UserClient, error) {
	user := newUserClient(h.Config, username, shared.PasswordFor(username))
	if err := user.Login(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

// LoginDevice re-attaches to a device created earlier in the run.
func (h *Context) LoginDevice(ctx context.Context, devicename string) (*api.DeviceClient, error) {
	device := newDeviceClient(h.Config, devicename, shared.PasswordFor(devicename))
	if err := device.Login(ctx); err != nil {
		return nil, err
	}
	return device, nil
}

// Processing returns a client for the file-processing service.
func (h *Context) Processing() *api.ProcessingClient {
	return api.NewProcessingClient(h.Config.API.ProcessingURL)
}

// UploadTaggedRecording uploads a recording from the device, adds one track,
// and tags it as the given classification. The tagging user must be able to
// see the recording.
func (h *Context) UploadTaggedRecording(ctx context.Context, device *api.DeviceClient, tagger *api.UserClient, filePath, what string, automatic bool) (*models.Recording, *models.Track, *models.TrackTag, error) {
	id, err := device.UploadRecording(ctx, filePath, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("upload failed: %w", err)
	}
	recording := &models.Recording{ID: id}

	track := models.NewTrack(id)
	track.ID, err = tagger.AddTrack(ctx, track)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not add track: %w", err)
	}

	tag := models.NewTrackTag(track.ID, automatic)
	tag.What = what
	tag.ID, err = tagger.AddTrackTag(ctx, id, tag, false)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not tag track: %w", err)
	}
	return recording, track, tag, nil
}

// candidateNames yields base, base2, base3, ... up to the attempt bound.
func candidateNames(base string) func(func(int, string) bool) {
	return func(yield func(int, string) bool) {
		for i := 0; i < maxNameAttempts; i++ {
			candidate := base
			if i > 0 {
				candidate = fmt.Sprintf("%s%d", base, i+1)
			}
			if !yield(i, candidate) {
				return
			}
		}
	}
}

func newUserClient(cfg *shared.Config, name, password string) *api.UserClient {
	c := api.NewUserClient(cfg.API.ServerURL, name, password)
	c.SetRateLimit(cfg.API.RequestsPerSecond)
	return c
}

func newDeviceClient(cfg *shared.Config, name, password string) *api.DeviceClient {
	c := api.NewDeviceClient(cfg.API.ServerURL, name, password)
	c.SetRateLimit(cfg.API.RequestsPerSecond)
	return c
}
