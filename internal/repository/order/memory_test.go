package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/pharmadesk/internal/access"
	"github.com/Additional-Code/pharmadesk/internal/entity"
)

var floor = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func seed(t *testing.T, repo *MemoryRepository, orders ...entity.Order) {
	t.Helper()
	for i := range orders {
		require.NoError(t, repo.Insert(context.Background(), &orders[i]))
	}
}

func queryFor(r access.Role) Query {
	return Query{Visibility: access.VisibilityFor(r), Window: access.ResultWindow(r, floor)}
}

func ids(orders []entity.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

func fixture(t *testing.T) *MemoryRepository {
	repo := NewMemoryRepository()
	seed(t, repo,
		entity.Order{ID: "000000000000000000000001", Product: strPtr(access.ProductJPMC), ReceiverName: "Ali", PatientNumber: "P1", CreationDate: timePtr(floor.AddDate(0, 1, 0))},
		entity.Order{ID: "000000000000000000000002", Product: strPtr(access.ProductMOH), ReceiverName: "Bea", PatientNumber: "P2", CreationDate: timePtr(floor.AddDate(0, 2, 0))},
		entity.Order{ID: "000000000000000000000003", ReceiverName: "Ali", PatientNumber: "P1", CreationDate: timePtr(floor.AddDate(0, 3, 0))},
		entity.Order{ID: "000000000000000000000004", Product: strPtr("kptdp"), ReceiverName: "Cid", CreationDate: timePtr(floor.AddDate(0, 4, 0))},
		entity.Order{ID: "000000000000000000000005", Product: strPtr("clinicx"), ReceiverName: "Dee", CreationDate: timePtr(floor.AddDate(0, 5, 0))},
		entity.Order{ID: "000000000000000000000006", Product: strPtr(access.ProductJPMC), ReceiverName: "Old", CreationDate: timePtr(floor.AddDate(0, 0, -1))},
	)
	return repo
}

func TestMemoryListAppliesVisibilityAndWindow(t *testing.T) {
	repo := fixture(t)
	ctx := context.Background()

	cases := map[access.Role][]string{
		access.RoleOperator: {"000000000000000000000002", "000000000000000000000001"},
		access.RoleJPMC:     {"000000000000000000000003", "000000000000000000000001"},
		access.RoleMOH:      {"000000000000000000000005", "000000000000000000000002"},
		access.RoleUnknown:  {},
	}
	for role, want := range cases {
		got, err := repo.List(ctx, queryFor(role))
		require.NoError(t, err)
		assert.Equal(t, want, ids(got), "role %q", role)
	}
}

func TestMemoryListReturnsCopies(t *testing.T) {
	repo := fixture(t)
	ctx := context.Background()

	got, err := repo.List(ctx, queryFor(access.RoleOperator))
	require.NoError(t, err)
	got[0].LogisticsStatus = "tampered"

	again, err := repo.GetByID(ctx, got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, again.LogisticsStatus)
}

func TestMemoryCustomersGroupsByReceiverAndPatient(t *testing.T) {
	repo := fixture(t)

	rows, err := repo.Customers(context.Background(), queryFor(access.RoleJPMC))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ali", rows[0].ReceiverName)
	assert.Equal(t, 2, rows[0].TotalOrders)
	assert.Equal(t, floor.AddDate(0, 1, 0), *rows[0].FirstOrderDate)
	assert.Equal(t, floor.AddDate(0, 3, 0), *rows[0].LastOrderDate)
}

func TestMemoryCollectionDaysBucketsByUTCDay(t *testing.T) {
	repo := fixture(t)
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

	days, err := repo.CollectionDays(ctx, queryFor(access.RoleOperator))
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2025-06-01", days[0].DateString)
	assert.Equal(t, 1, days[0].OrderCount)
	assert.Equal(t, "2025-06-02", days[1].DateString)

	days, err = repo.CollectionDays(ctx, queryFor(access.RoleJPMC))
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, 2, days[0].OrderCount)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), days[0].Date)
}

func TestMemoryCollectionRangeSortsAscending(t *testing.T) {
	repo := fixture(t)
	ctx := context.Background()

	first := timePtr(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	second := timePtr(time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC))
	_, err := repo.Update(ctx, "000000000000000000000003", Update{CollectionDate: &second})
	require.NoError(t, err)
	_, err = repo.Update(ctx, "000000000000000000000001", Update{CollectionDate: &first})
	require.NoError(t, err)

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	q := queryFor(access.RoleJPMC)
	q.CollectionFrom, q.CollectionTo = &from, &to
	q.Window.SortBy, q.Window.Descending = access.SortCollectionDate, false

	got, err := repo.List(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"000000000000000000000001", "000000000000000000000003"}, ids(got))
}

func TestMemoryListBreaksTiesByID(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	created := timePtr(floor.AddDate(0, 1, 0))
	collected := timePtr(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	for _, id := range []string{"0000000000000000000000a3", "0000000000000000000000a1", "0000000000000000000000a2"} {
		seed(t, repo, entity.Order{ID: id, Product: strPtr(access.ProductJPMC), CreationDate: created, CollectionDate: collected})
	}

	for range 10 {
		got, err := repo.List(ctx, queryFor(access.RoleJPMC))
		require.NoError(t, err)
		assert.Equal(t, []string{"0000000000000000000000a3", "0000000000000000000000a2", "0000000000000000000000a1"}, ids(got))
	}

	q := queryFor(access.RoleJPMC)
	q.WithCollectionDate = true
	q.Window.SortBy, q.Window.Descending = access.SortCollectionDate, false
	got, err := repo.List(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"0000000000000000000000a1", "0000000000000000000000a2", "0000000000000000000000a3"}, ids(got))
}

func TestMemoryConcurrentAppendsAllSurvive(t *testing.T) {
	repo := fixture(t)
	ctx := context.Background()
	id := "000000000000000000000001"
	const writers = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.AppendLog(ctx, id, entity.LogEntry{Note: fmt.Sprintf("log-%d", i)}))
			assert.NoError(t, repo.AppendRemark(ctx, id, entity.Remark{Remark: fmt.Sprintf("remark-%d", i)}))
		}(i)
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Logs, writers)
	assert.Len(t, got.Remarks, writers)
}

func TestMemoryUpdateAndAppend(t *testing.T) {
	repo := fixture(t)
	ctx := context.Background()
	id := "000000000000000000000002"
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	status := "out_for_delivery"
	updated, err := repo.Update(ctx, id, Update{LogisticsStatus: &status, UpdatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, status, updated.LogisticsStatus)
	assert.Equal(t, entity.StatusPending, updated.PharmacyStatus)
	assert.Equal(t, now, *updated.UpdatedAt)

	require.NoError(t, repo.AppendLog(ctx, id, entity.LogEntry{Note: "left at door", Category: "delivery", CreatedBy: "gorush", CreatedAt: now}))
	require.NoError(t, repo.AppendRemark(ctx, id, entity.Remark{Remark: "cold chain", CreatedBy: "moh", CreatedAt: now}))
	require.NoError(t, repo.AppendRemark(ctx, id, entity.Remark{Remark: "second", CreatedBy: "moh", CreatedAt: now}))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "left at door", got.Logs[0].Note)
	require.Len(t, got.Remarks, 2)
	assert.Equal(t, "second", got.Remarks[1].Remark)

	var cleared *time.Time
	updated, err = repo.Update(ctx, id, Update{CollectionDate: &cleared})
	require.NoError(t, err)
	assert.Nil(t, updated.CollectionDate)
}

func TestMemoryMissingOrder(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	missing := "0000000000000000000000ff"

	_, err := repo.GetByID(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Update(ctx, missing, Update{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.AppendLog(ctx, missing, entity.LogEntry{}), ErrNotFound)
	assert.ErrorIs(t, repo.AppendRemark(ctx, missing, entity.Remark{}), ErrNotFound)
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("65f1a2b3c4d5e6f708192a3b"))
	assert.False(t, ValidID("not-an-id"))
	assert.False(t, ValidID(""))
	assert.True(t, ValidID(NewID()))
}
