package order

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/access"
	"github.com/Additional-Code/pharmadesk/internal/config"
	"github.com/Additional-Code/pharmadesk/internal/database"
	"github.com/Additional-Code/pharmadesk/internal/entity"
	"github.com/Additional-Code/pharmadesk/internal/migration"
)

// newSQLiteRepository migrates a private in-memory database and loads the
// same orders the memory fixture holds.
func newSQLiteRepository(t *testing.T) *sqlRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	sqldb, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	cfg := config.Config{Database: config.Database{Driver: "sqlite"}}
	m, err := migration.New(cfg, &database.Connections{Driver: "sqlite", Writer: db, Reader: db}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up(ctx))

	repo := newSQLRepository(db, nil)
	all, err := fixture(t).List(ctx, Query{Visibility: access.Visibility{Products: []string{access.ProductJPMC, access.ProductMOH, "kptdp", "clinicx"}, Legacy: true}})
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := range all {
		require.NoError(t, repo.Insert(ctx, &all[i]))
	}
	return repo
}

func assertSameInstant(t *testing.T, want time.Time, got *time.Time) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got), "want %s, got %s", want, *got)
}

func TestSQLListMatchesMemoryPerRole(t *testing.T) {
	repo := newSQLiteRepository(t)
	mem := fixture(t)
	ctx := context.Background()

	for _, role := range []access.Role{access.RoleOperator, access.RoleJPMC, access.RoleMOH, access.RoleUnknown} {
		want, err := mem.List(ctx, queryFor(role))
		require.NoError(t, err)
		got, err := repo.List(ctx, queryFor(role))
		require.NoError(t, err)
		assert.Equal(t, ids(want), ids(got), "role %q", role)
	}
}

func TestSQLListFiltersByPatient(t *testing.T) {
	repo := newSQLiteRepository(t)

	q := queryFor(access.RoleJPMC)
	q.PatientNumber = "P1"
	got, err := repo.List(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"000000000000000000000003", "000000000000000000000001"}, ids(got))
	assert.Empty(t, got[0].Logs)
	assert.Equal(t, entity.StatusPending, got[0].LogisticsStatus)
}

func TestSQLListBreaksTiesByID(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	same := timePtr(floor.AddDate(0, 6, 0))
	for _, id := range []string{"0000000000000000000000b2", "0000000000000000000000b1"} {
		require.NoError(t, repo.Insert(ctx, &entity.Order{ID: id, Product: strPtr(access.ProductMOH), CreationDate: same}))
	}

	got, err := repo.List(ctx, queryFor(access.RoleMOH))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, []string{"0000000000000000000000b2", "0000000000000000000000b1"}, ids(got[:2]))
}

func TestSQLCustomers(t *testing.T) {
	repo := newSQLiteRepository(t)

	rows, err := repo.Customers(context.Background(), queryFor(access.RoleJPMC))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ali", rows[0].ReceiverName)
	assert.Equal(t, "P1", rows[0].PatientNumber)
	assert.Equal(t, 2, rows[0].TotalOrders)
	assertSameInstant(t, floor.AddDate(0, 1, 0), rows[0].FirstOrderDate)
	assertSameInstant(t, floor.AddDate(0, 3, 0), rows[0].LastOrderDate)

	rows, err = repo.Customers(context.Background(), queryFor(access.RoleUnknown))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSQLCollectionDaysAndRange(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()

	morning := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	next := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	for id, at := range map[string]time.Time{
		"000000000000000000000001": evening,
		"000000000000000000000003": morning,
		"000000000000000000000002": next,
	} {
		date := timePtr(at)
		_, err := repo.Update(ctx, id, Update{CollectionDate: &date, UpdatedAt: at})
		require.NoError(t, err)
	}

	days, err := repo.CollectionDays(ctx, queryFor(access.RoleJPMC))
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, "2025-06-01", days[0].DateString)
	assert.Equal(t, 2, days[0].OrderCount)

	days, err = repo.CollectionDays(ctx, queryFor(access.RoleOperator))
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2025-06-01", days[0].DateString)
	assert.Equal(t, 1, days[0].OrderCount)
	assert.Equal(t, "2025-06-02", days[1].DateString)

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	q := queryFor(access.RoleJPMC)
	q.CollectionFrom, q.CollectionTo = &from, &to
	q.Window.SortBy, q.Window.Descending = access.SortCollectionDate, false
	got, err := repo.List(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"000000000000000000000003", "000000000000000000000001"}, ids(got))
}

func TestSQLUpdate(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	id := "000000000000000000000002"
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	status := "out_for_delivery"
	updated, err := repo.Update(ctx, id, Update{LogisticsStatus: &status, UpdatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, status, updated.LogisticsStatus)
	assert.Equal(t, entity.StatusPending, updated.PharmacyStatus)
	assertSameInstant(t, now, updated.UpdatedAt)

	date := timePtr(now.AddDate(0, 0, 2))
	collection := "scheduled"
	_, err = repo.Update(ctx, id, Update{CollectionDate: &date, CollectionStatus: &collection, UpdatedAt: now})
	require.NoError(t, err)
	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assertSameInstant(t, *date, got.CollectionDate)
	assert.Equal(t, "scheduled", got.CollectionStatus)

	var cleared *time.Time
	updated, err = repo.Update(ctx, id, Update{CollectionDate: &cleared, UpdatedAt: now})
	require.NoError(t, err)
	assert.Nil(t, updated.CollectionDate)
	assert.Equal(t, "scheduled", updated.CollectionStatus)
}

func TestSQLAppendKeepsOrder(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	id := "000000000000000000000001"
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	for _, note := range []string{"first", "second", "third"} {
		require.NoError(t, repo.AppendLog(ctx, id, entity.LogEntry{Note: note, Category: "delivery", CreatedBy: "gorush", CreatedAt: now}))
	}
	require.NoError(t, repo.AppendRemark(ctx, id, entity.Remark{Remark: "a", CreatedBy: "jpmc", CreatedAt: now}))
	require.NoError(t, repo.AppendRemark(ctx, id, entity.Remark{Remark: "b", CreatedBy: "jpmc", CreatedAt: now}))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Logs, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{got.Logs[0].Note, got.Logs[1].Note, got.Logs[2].Note})
	assert.Equal(t, id, got.Logs[0].OrderID)
	require.Len(t, got.Remarks, 2)
	assert.Equal(t, "a", got.Remarks[0].Remark)
	assert.Equal(t, "b", got.Remarks[1].Remark)
}

func TestSQLConcurrentAppendsAllSurvive(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	id := "000000000000000000000005"
	const writers = 50

	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.AppendLog(ctx, id, entity.LogEntry{Note: fmt.Sprintf("log-%d", i), Category: "delivery", CreatedBy: "gorush", CreatedAt: floor})
			errs <- repo.AppendRemark(ctx, id, entity.Remark{Remark: fmt.Sprintf("remark-%d", i), CreatedBy: "moh", CreatedAt: floor})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Logs, writers)
	assert.Len(t, got.Remarks, writers)
}

func TestSQLMissingOrder(t *testing.T) {
	repo := newSQLiteRepository(t)
	ctx := context.Background()
	missing := "0000000000000000000000ff"

	_, err := repo.GetByID(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Update(ctx, missing, Update{UpdatedAt: floor})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.AppendLog(ctx, missing, entity.LogEntry{Note: "x", Category: "x", CreatedBy: "x"}), ErrNotFound)
	assert.ErrorIs(t, repo.AppendRemark(ctx, missing, entity.Remark{Remark: "x", CreatedBy: "x"}), ErrNotFound)
}
