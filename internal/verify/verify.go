// package verify implements the declarative query-verification DSL: builders
// that accumulate filter criteria fluently, execute the query exactly once at
// assertion time, and check set-membership of the result against expected
// entities.
//
// Membership is always decided by server-assigned id, never by structural
// comparison, so local property mutation after creation cannot affect
// matching.
package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/korimako/fieldtest/internal/api"
	"github.com/korimako/fieldtest/internal/models"
)

// RecordingQuery accumulates recording search criteria. Builder calls do no
// I/O; the single network call happens in the terminal assertion.
type RecordingQuery struct {
	user     *api.UserClient
	criteria api.RecordingQuery
	executed bool
}

// Recordings starts a query builder for the given user's view of the world.
func Recordings(user *api.UserClient) *RecordingQuery {
	return &RecordingQuery{user: user}
}

// TagMode filters by the named tag-mode predicate (untagged, tagged,
// human-only, automatic-only, automatic+human, no-human, any).
func (q *RecordingQuery) TagMode(mode string) *RecordingQuery {
	q.criteria.TagMode = mode
	return q
}

// Tags filters to recordings carrying at least one of the given labels.
func (q *RecordingQuery) Tags(tags ...string) *RecordingQuery {
	q.criteria.Tags = tags
	return q
}

// Devices scopes the query to the given device ids.
func (q *RecordingQuery) Devices(deviceIDs ...int) *RecordingQuery {
	q.criteria.DeviceIDs = deviceIDs
	return q
}

// Groups scopes the query to the given group ids.
func (q *RecordingQuery) Groups(groupIDs ...int) *RecordingQuery {
	q.criteria.GroupIDs = groupIDs
	return q
}

// Between limits the query to recordings within [start, end].
func (q *RecordingQuery) Between(start, end time.Time) *RecordingQuery {
	q.criteria.StartDate = &start
	q.criteria.EndDate = &end
	return q
}

// MinDuration overrides the default minimum duration filter of 5 seconds.
func (q *RecordingQuery) MinDuration(seconds int) *RecordingQuery {
	q.criteria.MinDuration = &seconds
	return q
}

// Page sets pagination.
func (q *RecordingQuery) Page(limit, offset int) *RecordingQuery {
	q.criteria.Limit = limit
	q.criteria.Offset = offset
	return q
}

// run performs the query's single execution. A builder is consumed by its
// terminal call; reusing it is a test bug and fails loudly.
func (q *RecordingQuery) run(ctx context.Context) (map[int]bool, []int, error) {
	if q.executed {
		return nil, nil, fmt.Errorf("recording query already executed; build a new one")
	}
	q.executed = true

	rows, _, err := q.user.QueryRecordings(ctx, q.criteria)
	if err != nil {
		return nil, nil, fmt.Errorf("recording query failed: %w", err)
	}

	visible := make(map[int]bool, len(rows))
	returned := make([]int, 0, len(rows))
	for _, row := range rows {
		visible[row.ID] = true
		returned = append(returned, row.ID)
	}
	return visible, returned, nil
}

// CanSee executes the query and fails unless every expected recording's id is
// present in the result.
func (q *RecordingQuery) CanSee(ctx context.Context, expected ...*models.Recording) error {
	visible, returned, err := q.run(ctx)
	if err != nil {
		return err
	}
	return checkPresent(q.user.Name(), visible, returned, expected)
}

// CannotSee executes the query and fails if any excluded recording's id is
// present in the result.
func (q *RecordingQuery) CannotSee(ctx context.Context, excluded ...*models.Recording) error {
	visible, returned, err := q.run(ctx)
	if err != nil {
		return err
	}
	return checkAbsent(q.user.Name(), visible, returned, excluded)
}

// CanSeeNone executes the query and fails if it returns anything at all.
func (q *RecordingQuery) CanSeeNone(ctx context.Context) error {
	_, returned, err := q.run(ctx)
	if err != nil {
		return err
	}
	if len(returned) > 0 {
		return fmt.Errorf("user %q expected to see no recordings, got %v", q.user.Name(), returned)
	}
	return nil
}

// CanOnlySee prepares the two-sided check: the expected set must be visible
// and nothing else from the candidate universe may be. The query runs once,
// when From is called.
func (q *RecordingQuery) CanOnlySee(expected ...*models.Recording) *ExactlyQuery {
	return &ExactlyQuery{query: q, expected: expected}
}

// ExactlyQuery is the pending second half of a CanOnlySee assertion.
type ExactlyQuery struct {
	query    *RecordingQuery
	expected []*models.Recording
}

// From supplies the candidate universe and executes the check: every expected
// id must appear in the result, and no id from candidates minus expected may.
func (e *ExactlyQuery) From(ctx context.Context, candidates ...*models.Recording) error {
	visible, returned, err := e.query.run(ctx)
	if err != nil {
		return err
	}

	var excluded []*models.Recording
	for _, candidate := range candidates {
		wanted := false
		for _, r := range e.expected {
			if candidate.SameAs(r) {
				wanted = true
				break
			}
		}
		if !wanted {
			excluded = append(excluded, candidate)
		}
	}

	name := e.query.user.Name()
	var failures []string
	if err := checkPresent(name, visible, returned, e.expected); err != nil {
		failures = append(failures, err.Error())
	}
	if err := checkAbsent(name, visible, returned, excluded); err != nil {
		failures = append(failures, err.Error())
	}
	if len(failures) > 0 {
		return fmt.Errorf("%s", strings.Join(failures, "\n"))
	}
	return nil
}

func checkPresent(username string, visible map[int]bool, returned []int, expected []*models.Recording) error {
	var missing []int
	for _, r := range expected {
		if !visible[r.ID] {
			missing = append(missing, r.ID)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Ints(missing)
	return fmt.Errorf("user %q cannot see recordings %v; query returned %v", username, missing, returned)
}

func checkAbsent(username string, visible map[int]bool, returned []int, excluded []*models.Recording) error {
	var unexpected []int
	for _, r := range excluded {
		if visible[r.ID] {
			unexpected = append(unexpected, r.ID)
		}
	}
	if len(unexpected) == 0 {
		return nil
	}
	sort.Ints(unexpected)
	return fmt.Errorf("user %q can see recordings %v that should be hidden; query returned %v", username, unexpected, returned)
}
