package inmemdb

import (
	"sync"
	"time"

	"github.com/trezcool/jotutor/core/course"
	"github.com/trezcool/jotutor/core/payment"
	"github.com/trezcool/jotutor/core/user"
)

type (
	userTable struct {
		mutex sync.RWMutex
		table map[string]*user.User
	}

	courseTable struct {
		mutex sync.RWMutex
		table map[string]*course.Course
	}

	enrollmentKey struct {
		userID   string
		courseID string
	}

	paymentTable struct {
		mutex       sync.RWMutex
		table       map[string]*payment.Record
		enrollments map[enrollmentKey]time.Time
	}

	// DB is a process-local database, for dev and tests.
	DB struct {
		user     *userTable
		course   *courseTable
		payments *paymentTable
	}
)

func New() *DB {
	return &DB{
		user:   &userTable{table: make(map[string]*user.User)},
		course: &courseTable{table: make(map[string]*course.Course)},
		payments: &paymentTable{
			table:       make(map[string]*payment.Record),
			enrollments: make(map[enrollmentKey]time.Time),
		},
	}
}
