package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/jotutor/core"
)

// inTx runs fn in a transaction, committed when fn returns nil.
func inTx(ctx context.Context, db core.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// orderBy renders ordering, keeping only the allowed columns.
func orderBy(ordering []core.DBOrdering, allowed ...string) string {
	list := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		for _, col := range allowed {
			if ord.Field == col {
				list = append(list, ord.String())
				break
			}
		}
	}
	if len(list) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(list, ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
