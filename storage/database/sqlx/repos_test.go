package sqlxrepos_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/course"
	"github.com/trezcool/jotutor/core/enrollment"
	"github.com/trezcool/jotutor/core/payment"
	"github.com/trezcool/jotutor/core/user"
	sqlxrepos "github.com/trezcool/jotutor/storage/database/sqlx"
	"github.com/trezcool/jotutor/testutil"
)

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := sqlxrepos.NewUserRepository(testutil.OpenDB(t))

	lina := testutil.CreateUser(t, repo, "Lina", "lina", "lina@jotutor.test", "Xk9#vB2!qLm7", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, repo, "Admin", "", "admin@jotutor.test", "", user.AdminRoles, true)

	got, err := repo.GetUserByID(ctx, lina.ID)
	require.NoError(t, err)
	assert.Equal(t, "lina", got.Username)
	assert.Equal(t, []string{user.RoleStudent}, got.Roles)
	assert.NoError(t, got.CheckPassword("Xk9#vB2!qLm7"))
	assert.Nil(t, got.LastLogin)

	got, err = repo.GetUserByUsernameOrEmail(ctx, "admin@jotutor.test")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID)
	assert.Empty(t, got.Username)
	assert.True(t, got.IsAdmin())

	_, err = repo.GetUserByID(ctx, "nope")
	assert.Equal(t, user.ErrNotFound, err)
	_, err = repo.GetUserByUsernameOrEmail(ctx, "nope")
	assert.Equal(t, user.ErrNotFound, err)

	tests := []struct {
		name     string
		username string
		email    string
		excluded []user.User
		wantErr  error
	}{
		{name: "free", username: "sami", email: "sami@jotutor.test"},
		{name: "username taken", username: "lina", email: "other@jotutor.test", wantErr: user.ErrUsernameExists},
		{name: "email taken", username: "other", email: "admin@jotutor.test", wantErr: user.ErrEmailExists},
		{name: "no username", email: "admin@jotutor.test", wantErr: user.ErrEmailExists},
		{name: "excluded", username: "lina", email: "lina@jotutor.test", excluded: []user.User{lina}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.CheckUsernameUniqueness(ctx, tt.username, tt.email, tt.excluded...)
			assert.Equal(t, tt.wantErr, err)
		})
	}

	now := time.Now().UTC().Truncate(time.Second)
	lina.Name = "Lina H."
	lina.LastLogin = &now
	_, err = repo.UpdateUser(ctx, lina)
	require.NoError(t, err)
	got, err = repo.GetUserByID(ctx, lina.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lina H.", got.Name)
	require.NotNil(t, got.LastLogin)
	assert.True(t, now.Equal(*got.LastLogin))

	_, err = repo.UpdateUser(ctx, user.User{ID: "nope"})
	assert.Equal(t, user.ErrNotFound, err)
}

func TestCourseRepository(t *testing.T) {
	ctx := context.Background()
	repo := sqlxrepos.NewCourseRepository(testutil.OpenDB(t))

	testutil.CreateCourse(t, repo, "toefl", "TOEFL Preparation", decimal.NewFromInt(250), decimal.Zero)
	testutil.CreateCourse(t, repo, "ielts", "IELTS Preparation", decimal.NewFromInt(250), decimal.RequireFromString("179.5"))

	got, err := repo.GetCourseByID(ctx, "ielts")
	require.NoError(t, err)
	assert.Equal(t, "IELTS Preparation", got.Title)
	assert.True(t, got.CheckoutAmount().Equal(decimal.RequireFromString("179.5")))

	_, err = repo.GetCourseByID(ctx, "nope")
	assert.Equal(t, course.ErrNotFound, err)

	courses, err := repo.QueryCourses(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, "ielts", courses[0].ID)
	assert.True(t, courses[1].CheckoutAmount().Equal(decimal.NewFromInt(250)))
}

func TestPaymentRepository(t *testing.T) {
	ctx := context.Background()
	repo := sqlxrepos.NewPaymentRepository(testutil.OpenDB(t))

	date := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	rec := payment.Record{
		ID:             "TX-1",
		Date:           date,
		UserID:         "u1",
		UserName:       "Lina",
		CourseID:       "ielts",
		CourseName:     "IELTS Preparation",
		Amount:         decimal.NewFromInt(179),
		Currency:       "JOD",
		Status:         payment.RecordPending,
		PaymentMethod:  payment.PaymentCliQ,
		GatewayOrderID: "JOT-1",
	}

	changed, err := repo.SavePayment(ctx, rec)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.SavePayment(ctx, rec)
	require.NoError(t, err)
	assert.False(t, changed, "same record twice")

	rec.Status = payment.RecordSuccess
	changed, err = repo.SavePayment(ctx, rec)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := repo.GetPayment(ctx, "TX-1")
	require.NoError(t, err)
	assert.Equal(t, payment.RecordSuccess, got.Status)
	assert.Equal(t, payment.PaymentCliQ, got.PaymentMethod)
	assert.True(t, got.Amount.Equal(rec.Amount))
	assert.True(t, date.Equal(got.Date))

	_, err = repo.GetPayment(ctx, "nope")
	assert.Equal(t, payment.ErrRecordNotFound, err)

	other := rec
	other.ID, other.UserID, other.Status, other.Date = "TX-2", "u2", payment.RecordFailed, date.Add(time.Hour)
	_, err = repo.SavePayment(ctx, other)
	require.NoError(t, err)

	tests := []struct {
		name     string
		filter   *enrollment.QueryFilter
		ordering []core.DBOrdering
		wantIDs  []string
	}{
		{name: "newest first", ordering: enrollment.DefaultOrdering, wantIDs: []string{"TX-2", "TX-1"}},
		{name: "oldest first", ordering: []core.DBOrdering{{Field: "created_at", Ascending: true}}, wantIDs: []string{"TX-1", "TX-2"}},
		{name: "by status", filter: &enrollment.QueryFilter{Status: payment.RecordFailed}, wantIDs: []string{"TX-2"}},
		{name: "by user", filter: &enrollment.QueryFilter{UserID: "u1"}, wantIDs: []string{"TX-1"}},
		{name: "none", filter: &enrollment.QueryFilter{Status: payment.RecordPending}, wantIDs: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := repo.QueryPayments(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			ids := make([]string, 0, len(recs))
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	require.NoError(t, repo.GrantAccess(ctx, "u1", "ielts", date))
	require.NoError(t, repo.GrantAccess(ctx, "u1", "ielts", date.Add(time.Minute)))
	require.NoError(t, repo.GrantAccess(ctx, "u1", "toefl", date))
	courses, err := repo.ListEnrolledCourses(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ielts", "toefl"}, courses)

	courses, err = repo.ListEnrolledCourses(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, courses)
}

func TestPaymentRepository_concurrentSaves(t *testing.T) {
	ctx := context.Background()
	repo := sqlxrepos.NewPaymentRepository(testutil.OpenDB(t))

	rec := payment.Record{
		ID:             "TRX-9",
		Date:           time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC),
		UserID:         "u1",
		UserName:       "Lina",
		CourseID:       "ielts",
		CourseName:     "IELTS Preparation",
		Amount:         decimal.NewFromInt(179),
		Currency:       "JOD",
		Status:         payment.RecordSuccess,
		PaymentMethod:  payment.PaymentCreditCard,
		GatewayOrderID: "JOT-9",
		TransactionID:  "TRX-9",
	}

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := repo.SavePayment(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if changed {
				changes++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, changes, "one save inserts, the others find the same record")

	got, err := repo.GetPayment(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.RecordSuccess, got.Status)
}
