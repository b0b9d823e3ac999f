package echoapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/jotutor/core/payment"
)

type checkoutApi struct {
	auth        *authenticator
	orch        *payment.Orchestrator
	validate    *validator.Validate
	frontendURL string
}

func registerCheckoutAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	auth *authenticator,
	orch *payment.Orchestrator,
	validate *validator.Validate,
	frontendURL string,
) {
	api := checkoutApi{
		auth:        auth,
		orch:        orch,
		validate:    validate,
		frontendURL: frontendURL,
	}
	callbackAuth := jwtOrCallbackToken(auth.jwtConfig())

	cg := g.Group("/checkout")
	cg.POST("", api.start, jwt)
	cg.GET("/:orderId", api.status, callbackAuth)
	cg.POST("/:orderId/events", api.event, callbackAuth)

	// the hosted payment page sends the browser back here
	cg.GET("/:orderId/return", api.returned)
	cg.GET("/:orderId/cancel", api.cancelled)
}

// CheckoutCallbacks builds the attempt-scoped callback URLs served by this API.
func CheckoutCallbacks(baseURL string) func(orderID, token string) payment.Callbacks {
	return func(orderID, token string) payment.Callbacks {
		base := baseURL + "/api/checkout/" + url.PathEscape(orderID)
		query := "?" + url.Values{callbackTokenParam: {token}}.Encode()
		return payment.Callbacks{
			Events: base + "/events" + query,
			Return: base + "/return" + query,
			Cancel: base + "/cancel" + query,
		}
	}
}

// Handlers

func (api *checkoutApi) start(ctx echo.Context) error {
	var data StartCheckoutRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartCheckoutRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	co, err := api.orch.Start(ctx.Request().Context(), payment.StartCheckout{
		UserID:   usr.ID,
		UserName: usr.Name,
		CourseID: data.CourseID,
		Method:   payment.Method(data.Method),
		Mode:     payment.Mode(data.Mode),
	})
	if err != nil {
		return errors.Wrap(err, "starting checkout")
	}
	return ctx.JSON(http.StatusCreated, co)
}

func (api *checkoutApi) status(ctx echo.Context) error {
	caller := api.caller(ctx)
	orderID := ctx.Param("orderId")
	reqCtx := ctx.Request().Context()

	if wait, _ := strconv.ParseBool(ctx.QueryParam("wait")); wait {
		// bounded by the request context: a client that gives up gets the current state
		if _, err := api.orch.Wait(reqCtx, orderID, caller); err != nil {
			return errors.Wrap(err, "waiting for checkout")
		}
	}

	co, err := api.orch.Status(reqCtx, orderID, caller)
	if err != nil {
		return errors.Wrap(err, "getting checkout status")
	}
	return ctx.JSON(http.StatusOK, co)
}

func (api *checkoutApi) event(ctx echo.Context) error {
	var data CheckoutEventRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckoutEventRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	outcome, err := api.orch.Handle(ctx.Request().Context(), ctx.Param("orderId"), api.caller(ctx), payment.Callback{
		Kind:            payment.CallbackKind(data.Event),
		ResultIndicator: data.ResultIndicator,
		Reason:          data.Reason,
	})
	if err != nil {
		return errors.Wrap(err, "handling checkout event")
	}
	return ctx.JSON(http.StatusOK, outcome)
}

func (api *checkoutApi) returned(ctx echo.Context) error {
	return api.redirect(ctx, payment.Callback{
		Kind:            payment.CallbackComplete,
		ResultIndicator: ctx.QueryParam("resultIndicator"),
	})
}

func (api *checkoutApi) cancelled(ctx echo.Context) error {
	return api.redirect(ctx, payment.Callback{Kind: payment.CallbackCancel})
}

// redirect applies a hosted payment page callback, then sends the browser to the frontend result page.
func (api *checkoutApi) redirect(ctx echo.Context, cb payment.Callback) error {
	orderID := ctx.Param("orderId")
	caller := payment.Caller{CallbackToken: ctx.QueryParam(callbackTokenParam)}
	if caller.CallbackToken == "" {
		return errHttpNotFound
	}

	outcome, err := api.orch.Handle(ctx.Request().Context(), orderID, caller, cb)
	if err != nil {
		return errors.Wrap(err, "handling checkout redirect")
	}

	v := url.Values{}
	v.Set("order_id", outcome.OrderID)
	v.Set("outcome", string(outcome.Kind))
	return ctx.Redirect(http.StatusSeeOther, api.frontendURL+"/checkout/result?"+v.Encode())
}

// caller is the authenticated user, or the browser holding the attempt's callback token.
func (api *checkoutApi) caller(ctx echo.Context) payment.Caller {
	var caller payment.Caller
	if claims, err := getContextClaims(ctx); err == nil {
		caller.UserID = claims.Subject
	}
	caller.CallbackToken = ctx.QueryParam(callbackTokenParam)
	return caller
}

type (
	StartCheckoutRequest struct {
		CourseID string `json:"course_id" validate:"required"`
		Method   string `json:"method" validate:"required,oneof=card manual"`
		Mode     string `json:"mode" validate:"omitempty,oneof=embedded redirect"`
	}

	CheckoutEventRequest struct {
		Event           string `json:"event" validate:"required,oneof=complete error cancel"`
		ResultIndicator string `json:"result_indicator" validate:"required_if=Event complete"`
		Reason          string `json:"reason"`
	}
)

func (r *StartCheckoutRequest) Validate(validate *validator.Validate) error {
	r.CourseID = strings.TrimSpace(r.CourseID)
	r.Method = strings.ToLower(strings.TrimSpace(r.Method))
	r.Mode = strings.ToLower(strings.TrimSpace(r.Mode))
	return validate.Struct(r)
}

func (r *CheckoutEventRequest) Validate(validate *validator.Validate) error {
	r.Event = strings.ToLower(strings.TrimSpace(r.Event))
	r.ResultIndicator = strings.TrimSpace(r.ResultIndicator)
	return validate.Struct(r)
}
