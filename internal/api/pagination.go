package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
)

type Pagination struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	HasNext bool `json:"has_next"`
}

// parsePagination reads page and per_page, ignoring invalid values. It fetches
// one row more than the page so HasNext can be answered exactly.
func parsePagination(r *http.Request) (limit, offset int, pg Pagination) {
	q := r.URL.Query()
	pg = Pagination{Page: 1, PerPage: defaultPerPage}
	if v := q.Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			pg.Page = p
		}
	}
	if v := q.Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if n > maxPerPage {
				n = maxPerPage
			}
			pg.PerPage = n
		}
	}
	return pg.PerPage + 1, (pg.Page - 1) * pg.PerPage, pg
}
