package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/enrollment"
	"github.com/trezcool/jotutor/core/payment"
)

type paymentRepository struct {
	db *paymentTable
}

var _ enrollment.Repository = (*paymentRepository)(nil)

func NewPaymentRepository(db *DB) enrollment.Repository {
	return &paymentRepository{db: db.payments}
}

func (repo *paymentRepository) SavePayment(_ context.Context, rec payment.Record) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if old, ok := repo.db.table[rec.ID]; ok {
		if enrollment.SameRecord(*old, rec) {
			return false, nil
		}
		rec.Date = old.Date
	}
	repo.db.table[rec.ID] = &rec
	return true, nil
}

func (repo *paymentRepository) GetPayment(_ context.Context, id string) (payment.Record, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if rec, ok := repo.db.table[id]; ok {
		return *rec, nil
	}
	return payment.Record{}, payment.ErrRecordNotFound
}

func (repo *paymentRepository) QueryPayments(_ context.Context, filter *enrollment.QueryFilter, ordering []core.DBOrdering) ([]payment.Record, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	records := make([]payment.Record, 0, len(repo.db.table))
	for _, rec := range repo.db.table {
		if filter != nil {
			if filter.Status != "" && rec.Status != filter.Status {
				continue
			}
			if filter.UserID != "" && rec.UserID != filter.UserID {
				continue
			}
		}
		records = append(records, *rec)
	}

	// only created_at is orderable here
	asc := len(ordering) > 0 && ordering[0].Ascending
	sort.Slice(records, func(i, j int) bool {
		if asc {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].Date.After(records[j].Date)
	})
	return records, nil
}

func (repo *paymentRepository) GrantAccess(_ context.Context, userID, courseID string, at time.Time) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	key := enrollmentKey{userID: userID, courseID: courseID}
	if _, ok := repo.db.enrollments[key]; !ok {
		repo.db.enrollments[key] = at
	}
	return nil
}

func (repo *paymentRepository) ListEnrolledCourses(_ context.Context, userID string) ([]string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	courses := make([]string, 0)
	for key := range repo.db.enrollments {
		if key.userID == userID {
			courses = append(courses, key.courseID)
		}
	}
	sort.Strings(courses)
	return courses, nil
}
