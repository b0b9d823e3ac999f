package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/jotutor/core/enrollment"
	"github.com/trezcool/jotutor/core/payment"
	"github.com/trezcool/jotutor/core/user"
)

type paymentApi struct {
	svc *enrollment.Service
}

func registerPaymentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *enrollment.Service) {
	api := paymentApi{svc: svc}

	pg := g.Group("/payments", jwt, adminMiddleware(user.AdminRoles...))
	pg.GET("", api.query)
	pg.GET("/:id", api.retrieve)
	pg.POST("/:id/activate", api.activate)
}

// Handlers

func (api *paymentApi) query(ctx echo.Context) error {
	filter := &enrollment.QueryFilter{
		Status: payment.RecordStatus(ctx.QueryParam("status")),
		UserID: ctx.QueryParam("user_id"),
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	records, err := api.svc.QueryPayments(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying payments")
	}
	if records == nil {
		records = []payment.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *paymentApi) retrieve(ctx echo.Context) error {
	rec, err := api.svc.GetPayment(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding payment")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// activate confirms a manual transfer: the student gets the course, the record becomes a success.
func (api *paymentApi) activate(ctx echo.Context) error {
	rec, err := api.svc.ActivatePayment(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "activating payment")
	}
	return ctx.JSON(http.StatusOK, rec)
}
