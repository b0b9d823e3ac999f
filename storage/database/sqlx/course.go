package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/jotutor/core"
	"github.com/trezcool/jotutor/core/course"
)

const courseColumns = "id, title, price, price_jod, created_at"

type courseRow struct {
	ID        string          `db:"id"`
	Title     string          `db:"title"`
	Price     decimal.Decimal `db:"price"`
	PriceJOD  decimal.Decimal `db:"price_jod"`
	CreatedAt time.Time       `db:"created_at"`
}

func (row courseRow) course() course.Course {
	return course.Course{
		ID:        row.ID,
		Title:     row.Title,
		Price:     row.Price,
		PriceJOD:  row.PriceJOD,
		CreatedAt: row.CreatedAt.UTC(),
	}
}

type courseRepository struct {
	db core.DB
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db core.DB) course.Repository {
	return &courseRepository{db: db}
}

func (repo courseRepository) CreateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	q := `INSERT INTO courses (` + courseColumns + `) VALUES (:id, :title, :price, :price_jod, :created_at)`
	row := courseRow{ID: c.ID, Title: c.Title, Price: c.Price, PriceJOD: c.PriceJOD, CreatedAt: c.CreatedAt.UTC()}
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, row); err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return c, nil
}

func (repo courseRepository) GetCourseByID(ctx context.Context, id string) (course.Course, error) {
	var row courseRow
	q := repo.db.Rebind("SELECT " + courseColumns + " FROM courses WHERE id = ?")
	if err := sqlx.GetContext(ctx, repo.db, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "finding course")
	}
	return row.course(), nil
}

func (repo courseRepository) QueryCourses(ctx context.Context) ([]course.Course, error) {
	var rows []courseRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, "SELECT "+courseColumns+" FROM courses ORDER BY title"); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, row.course())
	}
	return courses, nil
}
