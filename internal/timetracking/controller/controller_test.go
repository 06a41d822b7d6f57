package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rachuba/backoffice/internal/pkg/utils"
	"github.com/rachuba/backoffice/internal/timetracking/auth"
	"github.com/rachuba/backoffice/internal/timetracking/db"
	e "github.com/rachuba/backoffice/internal/timetracking/errors"
	"github.com/rachuba/backoffice/internal/timetracking/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
)

// staticSettings serves one settings value for every company; tests
// mutate the struct directly to switch policy mid-test.
type staticSettings struct {
	cfg *models.CompanySettings
}

func (p staticSettings) Get(context.Context, uuid.UUID) (*models.CompanySettings, error) {
	return p.cfg, nil
}

// noopAudit drops audit records; producer behavior is covered by the
// events package tests.
type noopAudit struct{}

func (noopAudit) LogCreate(*models.TimeEntry, uuid.UUID) {}

func (noopAudit) LogUpdate(*models.TimeEntry, *models.TimeEntry, uuid.UUID) {}

func (noopAudit) LogDelete(*models.TimeEntry, uuid.UUID) {}

// newTestService wires a TimeEntryService onto an in-memory SQLite
// repository. The returned settings struct may be mutated by the test.
func newTestService(t *testing.T) (*TimeEntryService, *models.CompanySettings) {
	repo, err := db.Open(sqlite.Open(":memory:"))
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() { _ = repo.Close() })

	cfg := models.DefaultSettings(uuid.Nil)
	svc := NewTimeEntryService(repo, staticSettings{cfg}, nil, noopAudit{}, zaptest.NewLogger(t))
	return svc, cfg
}

func newEmployee() auth.Actor {
	return auth.Actor{UserID: uuid.New(), CompanyID: uuid.New(), Role: auth.RoleEmployee}
}

func managerOf(a auth.Actor) auth.Actor {
	return auth.Actor{UserID: uuid.New(), CompanyID: a.CompanyID, Role: auth.RoleManager}
}

// createEntry inserts a finished interval on 2025-03-10 between the
// given hours for the actor.
func createEntry(t *testing.T, svc *TimeEntryService, actor auth.Actor, startHour, endHour int) *models.TimeEntry {
	t.Helper()
	start := time.Date(2025, 3, 10, startHour, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 10, endHour, 0, 0, 0, time.UTC)
	entry, err := svc.Create(context.Background(), &models.TimeEntry{
		StartTime:   start,
		EndTime:     &end,
		Description: "client work",
		IsBillable:  true,
	}, actor)
	require.NoError(t, err)
	return entry
}

func TestCreateDerivesDurationAndAmount(t *testing.T) {
	svc, cfg := newTestService(t)
	cfg.DefaultHourlyRate = utils.Ptr(100.0)
	actor := newEmployee()

	entry := createEntry(t, svc, actor, 9, 11)

	assert.Equal(t, models.StatusDraft, entry.Status)
	assert.Equal(t, actor.UserID, entry.UserID)
	assert.Equal(t, actor.CompanyID, entry.CompanyID)
	assert.Equal(t, actor.UserID, entry.CreatedByID)
	require.NotNil(t, entry.DurationMinutes)
	assert.Equal(t, 120, *entry.DurationMinutes)
	require.NotNil(t, entry.TotalAmount)
	assert.Equal(t, 200.0, *entry.TotalAmount, "two hours at the default rate")
	require.NotNil(t, entry.HourlyRate)
	assert.Equal(t, 100.0, *entry.HourlyRate, "resolved rate is persisted")
}

func TestCreateNonBillableHasNoAmount(t *testing.T) {
	svc, cfg := newTestService(t)
	cfg.DefaultHourlyRate = utils.Ptr(100.0)
	actor := newEmployee()

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	entry, err := svc.Create(context.Background(), &models.TimeEntry{
		StartTime:  start,
		EndTime:    &end,
		IsBillable: false,
	}, actor)
	require.NoError(t, err)
	assert.Nil(t, entry.TotalAmount)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	actor := newEmployee()
	ctx := context.Background()

	_, err := svc.Create(ctx, &models.TimeEntry{}, actor)
	assert.ErrorIs(t, err, e.ErrInvalidInput, "missing start time")

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.Create(ctx, &models.TimeEntry{StartTime: start, EndTime: &end}, actor)
	assert.ErrorIs(t, err, e.ErrInvalidInput, "end before start")
}

func TestCreateForOtherUserRequiresManager(t *testing.T) {
	svc, _ := newTestService(t)
	actor := newEmployee()
	other := uuid.New()
	ctx := context.Background()

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	_, err := svc.Create(ctx, &models.TimeEntry{UserID: other, StartTime: start, EndTime: &end}, actor)
	assert.ErrorIs(t, err, e.ErrForbidden)

	manager := managerOf(actor)
	entry, err := svc.Create(ctx, &models.TimeEntry{UserID: other, StartTime: start, EndTime: &end}, manager)
	require.NoError(t, err)
	assert.Equal(t, other, entry.UserID)
	assert.Equal(t, manager.UserID, entry.CreatedByID)
}

func TestCreateOverlapPolicy(t *testing.T) {
	svc, cfg := newTestService(t)
	cfg.AllowOverlappingEntries = false
	actor := newEmployee()
	ctx := context.Background()

	createEntry(t, svc, actor, 9, 11)

	start := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	_, err := svc.Create(ctx, &models.TimeEntry{StartTime: start, EndTime: &end}, actor)
	assert.ErrorIs(t, err, e.ErrOverlap)

	// Touching boundaries are not an overlap.
	createEntry(t, svc, actor, 11, 12)

	// Another user in the same company is unaffected.
	colleague := auth.Actor{UserID: uuid.New(), CompanyID: actor.CompanyID, Role: auth.RoleEmployee}
	createEntry(t, svc, colleague, 9, 11)

	// With the policy relaxed the same interval goes through.
	cfg.AllowOverlappingEntries = true
	_, err = svc.Create(ctx, &models.TimeEntry{StartTime: start, EndTime: &end}, actor)
	assert.NoError(t, err)
}

func TestCreateConcurrentOverlap(t *testing.T) {
	svc, cfg := newTestService(t)
	cfg.AllowOverlappingEntries = false
	actor := newEmployee()

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)

	// All writers start with an empty candidate set, so the row locks
	// alone would let every one of them pass the overlap check. The
	// per-user lock in checkOverlap serializes them.
	const writers = 4
	results := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), &models.TimeEntry{
				StartTime: start,
				EndTime:   &end,
			}, actor)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, overlapped := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, e.ErrOverlap):
			overlapped++
		default:
			t.Fatalf("unexpected error from concurrent create: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent create may win")
	assert.Equal(t, writers-1, overlapped)
}

// denyOwnership rejects the configured client and task references.
type denyOwnership struct {
	badClient uuid.UUID
	badTask   uuid.UUID
}

func (o denyOwnership) ValidateClient(_ context.Context, _ uuid.UUID, clientID uuid.UUID) error {
	if clientID == o.badClient {
		return errors.New("client does not belong to the company")
	}
	return nil
}

func (o denyOwnership) ValidateTask(_ context.Context, _ uuid.UUID, taskID uuid.UUID) error {
	if taskID == o.badTask {
		return errors.New("task does not belong to the company")
	}
	return nil
}

func TestCreateRejectsForeignReferences(t *testing.T) {
	svc, _ := newTestService(t)
	deny := denyOwnership{badClient: uuid.New(), badTask: uuid.New()}
	svc.ownership = deny
	actor := newEmployee()
	ctx := context.Background()

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	_, err := svc.Create(ctx, &models.TimeEntry{StartTime: start, EndTime: &end, ClientID: &deny.badClient}, actor)
	assert.ErrorIs(t, err, e.ErrInvalidInput)

	_, err = svc.Create(ctx, &models.TimeEntry{StartTime: start, EndTime: &end, TaskID: &deny.badTask}, actor)
	assert.ErrorIs(t, err, e.ErrInvalidInput)

	okClient := uuid.New()
	entry, err := svc.Create(ctx, &models.TimeEntry{StartTime: start, EndTime: &end, ClientID: &okClient}, actor)
	require.NoError(t, err)
	require.NotNil(t, entry.ClientID)
	assert.Equal(t, okClient, *entry.ClientID)
}

func TestUpdateRejectsForeignClient(t *testing.T) {
	svc, _ := newTestService(t)
	actor := newEmployee()
	entry := createEntry(t, svc, actor, 9, 11)

	deny := denyOwnership{badClient: uuid.New()}
	svc.ownership = deny

	_, err := svc.Update(context.Background(), &models.TimeEntryUpdate{
		ID:       entry.ID,
		ClientID: &deny.badClient,
	}, actor)
	assert.ErrorIs(t, err, e.ErrInvalidInput)

	unchanged, err := svc.FindOne(context.Background(), entry.ID, actor)
	require.NoError(t, err)
	assert.Nil(t, unchanged.ClientID)
}

func TestUpdateRecomputesDerived(t *testing.T) {
	svc, cfg := newTestService(t)
	cfg.DefaultHourlyRate = utils.Ptr(100.0)
	actor := newEmployee()

	entry := createEntry(t, svc, actor, 9, 11)

	newEnd := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	updated, err := svc.Update(context.Background(), &models.TimeEntryUpdate{
		ID:      entry.ID,
		EndTime: &newEnd,
	}, actor)
	require.NoError(t, err)
	require.NotNil(t, updated.DurationMinutes)
	assert.Equal(t, 180, *updated.DurationMinutes)
	require.NotNil(t, updated.TotalAmount)
	assert.Equal(t, 300.0, *updated.TotalAmount)
}

func TestUpdateOverlapExcludesSelf(t *testing.T) {
	svc, cfg := newTestService(t)
	cfg.AllowOverlappingEntries = false
	actor := newEmployee()
	ctx := context.Background()

	entry := createEntry(t, svc, actor, 9, 11)
	createEntry(t, svc, actor, 13, 14)

	// Growing the entry inside its own range is fine.
	newEnd := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	_, err := svc.Update(ctx, &models.TimeEntryUpdate{ID: entry.ID, EndTime: &newEnd}, actor)
	assert.NoError(t, err)

	// Growing it into the 13:00 entry is not.
	conflictEnd := time.Date(2025, 3, 10, 13, 30, 0, 0, time.UTC)
	_, err = svc.Update(ctx, &models.TimeEntryUpdate{ID: entry.ID, EndTime: &conflictEnd}, actor)
	assert.ErrorIs(t, err, e.ErrOverlap)
}

func TestUpdateLockedEntryFails(t *testing.T) {
	svc, _ := newTestService(t)
	actor := newEmployee()
	manager := managerOf(actor)
	ctx := context.Background()

	entry := createEntry(t, svc, actor, 9, 11)
	_, err := svc.Lock(ctx, entry.ID, "month closed", manager)
	require.NoError(t, err)

	_, err = svc.Update(ctx, &models.TimeEntryUpdate{
		ID:          entry.ID,
		Description: utils.Ptr("late edit"),
	}, actor)
	assert.ErrorIs(t, err, e.ErrLocked, "explicit lock blocks the owner too")
}

func TestUpdateAgeLock(t *testing.T) {
	svc, cfg := newTestService(t)
	actor := newEmployee()
	ctx := context.Background()

	start := time.Now().UTC().AddDate(0, 0, -400)
	end := start.Add(time.Hour)
	entry, err := svc.Create(ctx, &models.TimeEntry{StartTime: start, EndTime: &end}, actor)
	require.NoError(t, err)

	cfg.LockEntriesAfterDays = 7
	_, err = svc.Update(ctx, &models.TimeEntryUpdate{
		ID:          entry.ID,
		Description: utils.Ptr("late edit"),
	}, actor)
	assert.ErrorIs(t, err, e.ErrLocked, "entries older than the policy window are locked")

	cfg.LockEntriesAfterDays = 0
	_, err = svc.Update(ctx, &models.TimeEntryUpdate{
		ID:          entry.ID,
		Description: utils.Ptr("late edit"),
	}, actor)
	assert.NoError(t, err, "zero disables the age lock")
}

func TestUpdateOtherUsersEntry(t *testing.T) {
	svc, _ := newTestService(t)
	actor := newEmployee()
	intruder := auth.Actor{UserID: uuid.New(), CompanyID: actor.CompanyID, Role: auth.RoleEmployee}
	ctx := context.Background()

	entry := createEntry(t, svc, actor, 9, 11)

	_, err := svc.Update(ctx, &models.TimeEntryUpdate{
		ID:          entry.ID,
		Description: utils.Ptr("not mine"),
	}, intruder)
	assert.ErrorIs(t, err, e.ErrNotFound)

	manager := managerOf(actor)
	_, err = svc.Update(ctx, &models.TimeEntryUpdate{
		ID:          entry.ID,
		Description: utils.Ptr("corrected by manager"),
	}, manager)
	assert.NoError(t, err)
}

func TestRemoveSoftDeletes(t *testing.T) {
	svc, _ := newTestService(t)
	actor := newEmployee()
	ctx := context.Background()

	entry := createEntry(t, svc, actor, 9, 11)
	require.NoError(t, svc.Remove(ctx, entry.ID, actor))

	_, err := svc.FindOne(ctx, entry.ID, actor)
	assert.ErrorIs(t, err, e.ErrNotFound)

	err = svc.Remove(ctx, entry.ID, actor)
	assert.ErrorIs(t, err, e.ErrNotFound, "a removed entry cannot be removed again")
}

func TestRemoveLockedEntryFails(t *testing.T) {
	svc, _ := newTestService(t)
	actor := newEmployee()
	manager := managerOf(actor)
	ctx := context.Background()

	entry := createEntry(t, svc, actor, 9, 11)
	_, err := svc.Lock(ctx, entry.ID, "", manager)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Remove(ctx, entry.ID, actor), e.ErrLocked)
}

func TestFindOneHidesForeignEntries(t *testing.T) {
	svc, _ := newTestService(t)
	actor := newEmployee()
	colleague := auth.Actor{UserID: uuid.New(), CompanyID: actor.CompanyID, Role: auth.RoleEmployee}
	ctx := context.Background()

	entry := createEntry(t, svc, actor, 9, 11)

	_, err := svc.FindOne(ctx, entry.ID, colleague)
	assert.ErrorIs(t, err, e.ErrNotFound)

	found, err := svc.FindOne(ctx, entry.ID, managerOf(actor))
	require.NoError(t, err)
	assert.Equal(t, entry.ID, found.ID)

	// Other tenants never see the entry.
	_, err = svc.FindOne(ctx, entry.ID, newEmployee())
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestFindAllScopesSelfOnlyActors(t *testing.T) {
	svc, _ := newTestService(t)
	actor := newEmployee()
	colleague := auth.Actor{UserID: uuid.New(), CompanyID: actor.CompanyID, Role: auth.RoleEmployee}
	ctx := context.Background()

	createEntry(t, svc, actor, 9, 11)
	createEntry(t, svc, actor, 12, 13)
	createEntry(t, svc, colleague, 14, 15)

	mine, total, err := svc.FindAll(ctx, nil, actor)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	for _, entry := range mine {
		assert.Equal(t, actor.UserID, entry.UserID)
	}

	all, total, err := svc.FindAll(ctx, nil, managerOf(actor))
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, all, 3)
}
