package echoapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/jotutor/core/payment"
)

// response texts of the raw gateway endpoints; browsers already rely on them
const (
	msgConfigMissing       = "Mastercard configuration missing"
	msgConfigMissingDetail = "Please ensure MASTERCARD_MERCHANT_ID and MASTERCARD_API_PASSWORD are set."
	msgSessionFailed       = "Failed to create session"
	msgMissingParams       = "Missing required verification parameters"
	msgSecurityMismatch    = "Security mismatch: resultIndicator does not match successIndicator"
	msgVerifyFailed        = "Payment verification failed or order not completed"
	msgInternalError       = "Internal server error"
)

// gatewayApi exposes the gateway clients as they are, for browsers driving the hosted checkout themselves.
type gatewayApi struct {
	gateway  payment.Gateway
	validate *validator.Validate
}

func registerGatewayAPI(g *echo.Group, gateway payment.Gateway, validate *validator.Validate) {
	api := gatewayApi{gateway: gateway, validate: validate}

	pg := g.Group("/payment")
	pg.POST("/session", api.createSession)
	pg.GET("/verify", api.verify)
}

func (api *gatewayApi) createSession(ctx echo.Context) error {
	var data SessionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SessionRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := api.gateway.CreateSession(ctx.Request().Context(), payment.SessionRequest{
		OrderID:     data.OrderID,
		Amount:      data.Amount,
		Currency:    data.Currency,
		Description: data.Description,
	})
	if err != nil {
		var confErr *payment.ConfigurationError
		var gwErr *payment.GatewayError
		switch {
		case errors.As(err, &confErr):
			return ctx.JSON(http.StatusInternalServerError, echo.Map{"error": msgConfigMissing, "message": msgConfigMissingDetail})
		case errors.As(err, &gwErr):
			// the gateway's own status, even a 2xx that carried no session
			code := gwErr.StatusCode
			if code == 0 {
				code = http.StatusInternalServerError
			}
			return ctx.JSON(code, echo.Map{"error": msgSessionFailed, "details": gwErr.Details})
		default:
			ctx.Logger().Errorf("creating session: %v", err)
			return ctx.JSON(http.StatusInternalServerError, echo.Map{"error": msgInternalError, "message": errors.Cause(err).Error()})
		}
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *gatewayApi) verify(ctx echo.Context) error {
	req := payment.VerifyRequest{
		OrderID:          ctx.QueryParam("orderId"),
		ResultIndicator:  ctx.QueryParam("resultIndicator"),
		SuccessIndicator: ctx.QueryParam("successIndicator"),
	}

	res, err := api.gateway.VerifyOrder(ctx.Request().Context(), req)
	if err != nil {
		var confErr *payment.ConfigurationError
		switch {
		case errors.Is(err, payment.ErrMissingParameters):
			return ctx.JSON(http.StatusBadRequest, echo.Map{"error": msgMissingParams})
		case errors.Is(err, payment.ErrSecurityMismatch):
			return ctx.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": msgSecurityMismatch})
		case errors.As(err, &confErr):
			return ctx.JSON(http.StatusInternalServerError, echo.Map{"error": msgConfigMissing, "message": msgConfigMissingDetail})
		default:
			ctx.Logger().Errorf("verifying order %s: %v", req.OrderID, err)
			return ctx.JSON(http.StatusInternalServerError, echo.Map{"error": msgInternalError})
		}
	}

	if !res.Success {
		return ctx.JSON(http.StatusBadRequest, VerifyFailureResponse{Error: msgVerifyFailed, Details: res.Details})
	}
	return ctx.JSON(http.StatusOK, VerifySuccessResponse{
		Success:       true,
		Status:        res.Status,
		Amount:        json.Number(res.Amount.String()),
		Currency:      res.Currency,
		TransactionID: res.TransactionID,
	})
}

type (
	SessionRequest struct {
		Amount      decimal.Decimal `json:"amount" validate:"positive"`
		Currency    string          `json:"currency" validate:"required,currency_code"`
		OrderID     string          `json:"orderId" validate:"required,order_id"`
		Description string          `json:"description"`
	}

	VerifySuccessResponse struct {
		Success       bool        `json:"success"`
		Status        string      `json:"status"`
		Amount        json.Number `json:"amount"`
		Currency      string      `json:"currency"`
		TransactionID string      `json:"transactionId,omitempty"`
	}

	VerifyFailureResponse struct {
		Success bool            `json:"success"`
		Error   string          `json:"error"`
		Details json.RawMessage `json:"details"`
	}
)

func (sr *SessionRequest) Validate(validate *validator.Validate) error {
	sr.Currency = strings.ToUpper(strings.TrimSpace(sr.Currency))
	sr.OrderID = strings.TrimSpace(sr.OrderID)
	if sr.Description == "" {
		sr.Description = "Order " + sr.OrderID
	}
	return validate.Struct(sr)
}
