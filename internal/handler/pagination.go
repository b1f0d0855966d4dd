package handler

import (
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit and offset; skip is accepted as an alias for
// offset because older clients send it.
func ParsePagination(r *http.Request) PaginationParams {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	rawOffset := q.Get("offset")
	if rawOffset == "" {
		rawOffset = q.Get("skip")
	}
	offset, _ := strconv.Atoi(rawOffset)

	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}

	if offset < 0 {
		offset = 0
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}
