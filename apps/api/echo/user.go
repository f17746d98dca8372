package echoapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/user"
)

type userAPI struct {
	svc user.ServiceInterface
}

// registerUserAPI mounts the admin-only user management endpoints.
func registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc user.ServiceInterface) {
	api := userAPI{svc: svc}

	ug := g.Group("/users", jwt, adminMiddleware())
	ug.GET("", api.query)
	ug.POST("", api.create)
	ug.GET("/roles", api.roles)
	ug.GET("/:id", api.get)
	ug.PATCH("/:id", api.update)
	ug.DELETE("/:id", api.delete)
}

func (api *userAPI) query(c echo.Context) error {
	var filter user.QueryFilter
	if err := c.Bind(&filter); err != nil {
		return err
	}
	filter.Clean()

	users, err := api.svc.Query(c.Request().Context(), &filter, bindOrdering(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}

func (api *userAPI) create(c echo.Context) error {
	var nu user.NewUser
	if err := c.Bind(&nu); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := nu.Validate(ctx, api.svc); err != nil {
		return err
	}

	usr, err := api.svc.Create(ctx, nu)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, usr)
}

func (api *userAPI) roles(c echo.Context) error {
	return c.JSON(http.StatusOK, user.Roles)
}

func (api *userAPI) get(c echo.Context) error {
	usr, err := api.svc.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, usr)
}

func (api *userAPI) update(c echo.Context) error {
	var uu user.UpdateUser
	if err := c.Bind(&uu); err != nil {
		return err
	}

	ctx := c.Request().Context()
	origUsr, err := api.svc.GetByID(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if err = uu.Validate(ctx, origUsr, api.svc); err != nil {
		return err
	}

	usr, err := api.svc.Update(ctx, origUsr.ID, uu)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, usr)
}

func (api *userAPI) delete(c echo.Context) error {
	ids := strings.Split(c.Param("id"), ",")
	if err := api.svc.Delete(c.Request().Context(), ids...); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
