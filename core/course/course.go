package course

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trezcool/jotutor/core"
)

var ErrNotFound = errors.New("course not found")

type Course struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	PriceJOD  decimal.Decimal `json:"price_jod"`
	CreatedAt time.Time       `json:"created_at"` // UTC
}

// CheckoutAmount is what a student pays for the course: the JOD price when set, the list price otherwise.
func (c Course) CheckoutAmount() decimal.Decimal {
	if c.PriceJOD.IsPositive() {
		return c.PriceJOD
	}
	return c.Price
}

type NewCourse struct {
	Title    string          `json:"title" validate:"required"`
	Price    decimal.Decimal `json:"price" validate:"positive"`
	PriceJOD decimal.Decimal `json:"price_jod"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	if err := validate.Struct(nc); err != nil {
		return err
	}
	if nc.PriceJOD.IsNegative() {
		return core.NewValidationError(nil, core.FieldError{Field: "price_jod", Error: "must not be negative"})
	}
	return nil
}

type (
	Repository interface {
		CreateCourse(ctx context.Context, c Course) (Course, error)
		GetCourseByID(ctx context.Context, id string) (Course, error)
		QueryCourses(ctx context.Context) ([]Course, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, nc NewCourse) (Course, error) {
	return svc.repo.CreateCourse(ctx, Course{
		ID:        uuid.NewString(),
		Title:     nc.Title,
		Price:     nc.Price,
		PriceJOD:  nc.PriceJOD,
		CreatedAt: time.Now().UTC(),
	})
}

func (svc *Service) GetByID(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourseByID(ctx, id)
}

func (svc *Service) Query(ctx context.Context) ([]Course, error) {
	return svc.repo.QueryCourses(ctx)
}
