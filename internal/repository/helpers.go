package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound turns sql.ErrNoRows into a nil result without error, so
// Find* methods can report "no such row" as (nil, nil).
//
//	var analysis model.PropertyAnalysis
//	err := r.db.GetContext(ctx, &analysis, query, args...)
//	return HandleNotFound(&analysis, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
