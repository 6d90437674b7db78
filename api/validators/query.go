package validators

import (
	"net/http"
	"strconv"

	pkgerrors "github.com/jmuthoni/samani-backend/pkg/errors"
	"github.com/jmuthoni/samani-backend/pkg/pagination"
)

// PaginationParams reads limit and cursor query parameters.
func PaginationParams(r *http.Request) (pagination.Params, error) {
	params := pagination.Params{Cursor: r.URL.Query().Get("cursor")}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return pagination.Params{}, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer")
		}
		params.Limit = limit
	}
	return params, nil
}
