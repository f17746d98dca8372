package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
)

// bindOrdering parses the "ordering" query param, a comma-separated list of
// fields with an optional "-" prefix for descending order.
func bindOrdering(c echo.Context) []core.DBOrdering {
	raw := c.QueryParam("ordering")
	if raw == "" {
		return nil
	}

	var ordering []core.DBOrdering
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		ord := core.DBOrdering{Field: field, Ascending: true}
		if strings.HasPrefix(field, "-") {
			ord.Field = field[1:]
			ord.Ascending = false
		}
		ordering = append(ordering, ord)
	}
	return ordering
}
