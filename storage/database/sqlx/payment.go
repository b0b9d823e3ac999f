package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/enrollment"
	"github.com/trezcool/jotutor/core/payment"
)

const paymentColumns = "id, created_at, user_id, user_name, course_id, course_name, amount, currency, " +
	"status, payment_method, gateway_order_id, transaction_id"

type paymentRepository struct {
	db core.DB
}

var _ enrollment.Repository = (*paymentRepository)(nil)

func NewPaymentRepository(db core.DB) enrollment.Repository {
	return &paymentRepository{db: db}
}

// SavePayment inserts rec, or updates the stored record when it differs.
// Concurrent saves of one id serialize on the row: exactly one of them reports a change.
func (repo paymentRepository) SavePayment(ctx context.Context, rec payment.Record) (changed bool, err error) {
	rec.Date = rec.Date.UTC()
	err = inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := `INSERT INTO payments (` + paymentColumns + `) VALUES (:id, :created_at, :user_id, :user_name,
			:course_id, :course_name, :amount, :currency, :status, :payment_method, :gateway_order_id, :transaction_id)
			ON CONFLICT (id) DO NOTHING`
		res, err := sqlx.NamedExecContext(ctx, tx, q, rec)
		if err != nil {
			return errors.Wrap(err, "inserting payment")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "inserting payment")
		}
		if n == 1 {
			changed = true
			return nil
		}

		sel := "SELECT " + paymentColumns + " FROM payments WHERE id = ?"
		if tx.DriverName() == "postgres" {
			sel += " FOR UPDATE"
		}
		var old payment.Record
		if err = sqlx.GetContext(ctx, tx, &old, tx.Rebind(sel), rec.ID); err != nil {
			return errors.Wrap(err, "finding payment")
		}
		if enrollment.SameRecord(old, rec) {
			return nil
		}
		q = `UPDATE payments SET amount = :amount, currency = :currency, status = :status,
			payment_method = :payment_method, gateway_order_id = :gateway_order_id, transaction_id = :transaction_id
			WHERE id = :id`
		if _, err = sqlx.NamedExecContext(ctx, tx, q, rec); err != nil {
			return errors.Wrap(err, "updating payment")
		}
		changed = true
		return nil
	})
	return changed, err
}

func (repo paymentRepository) GetPayment(ctx context.Context, id string) (payment.Record, error) {
	var rec payment.Record
	q := repo.db.Rebind("SELECT " + paymentColumns + " FROM payments WHERE id = ?")
	if err := sqlx.GetContext(ctx, repo.db, &rec, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payment.Record{}, payment.ErrRecordNotFound
		}
		return payment.Record{}, errors.Wrap(err, "finding payment")
	}
	rec.Date = rec.Date.UTC()
	return rec, nil
}

func (repo paymentRepository) QueryPayments(ctx context.Context, filter *enrollment.QueryFilter, ordering []core.DBOrdering) ([]payment.Record, error) {
	q := "SELECT " + paymentColumns + " FROM payments WHERE 1 = 1"
	var args []interface{}
	if filter != nil {
		if filter.Status != "" {
			q += " AND status = ?"
			args = append(args, filter.Status)
		}
		if filter.UserID != "" {
			q += " AND user_id = ?"
			args = append(args, filter.UserID)
		}
	}
	q += orderBy(ordering, "created_at", "amount", "status")

	records := make([]payment.Record, 0)
	if err := sqlx.SelectContext(ctx, repo.db, &records, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	for i := range records {
		records[i].Date = records[i].Date.UTC()
	}
	return records, nil
}

func (repo paymentRepository) GrantAccess(ctx context.Context, userID, courseID string, at time.Time) error {
	q := repo.db.Rebind(`INSERT INTO enrollments (user_id, course_id, granted_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, course_id) DO NOTHING`)
	if _, err := repo.db.ExecContext(ctx, q, userID, courseID, at.UTC()); err != nil {
		return errors.Wrap(err, "inserting enrollment")
	}
	return nil
}

func (repo paymentRepository) ListEnrolledCourses(ctx context.Context, userID string) ([]string, error) {
	courses := make([]string, 0)
	q := repo.db.Rebind("SELECT course_id FROM enrollments WHERE user_id = ? ORDER BY course_id")
	if err := sqlx.SelectContext(ctx, repo.db, &courses, q, userID); err != nil {
		return nil, errors.Wrap(err, "listing enrollments")
	}
	return courses, nil
}
