package mastercard

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/jotutor/core/payment"
)

type (
	// WidgetConfig is handed to Checkout.configure() in the browser.
	WidgetConfig struct {
		Merchant    string            `json:"merchant"`
		Session     widgetSession     `json:"session"`
		Order       widgetOrder       `json:"order"`
		Interaction widgetInteraction `json:"interaction"`
	}

	widgetSession struct {
		ID string `json:"id"`
	}

	widgetOrder struct {
		Amount      string `json:"amount"`
		Currency    string `json:"currency"`
		Description string `json:"description"`
		ID          string `json:"id"`
	}

	widgetInteraction struct {
		Merchant merchantPayload `json:"merchant"`
	}
)

// HostedCheckout configures the Mastercard hosted checkout widget for one attempt.
type HostedCheckout struct {
	scriptURL       string
	merchantName    string
	merchantAddress string
}

var _ payment.HostedCheckout = (*HostedCheckout)(nil)

func NewHostedCheckout(opts Options) *HostedCheckout {
	return &HostedCheckout{
		scriptURL:       fmt.Sprintf("%s/static/checkout/checkout.min.js", opts.BaseURL),
		merchantName:    opts.MerchantName,
		merchantAddress: opts.MerchantAddress,
	}
}

// Configure returns the widget configuration.
// The embedded page is preferred; the browser falls back to the redirect page when it cannot embed.
func (h *HostedCheckout) Configure(_ context.Context, conf payment.CheckoutConfig) (payment.Presentation, error) {
	if conf.MerchantID == "" || conf.SessionID == "" {
		return payment.Presentation{}, errors.New("hosted checkout needs a merchant and a session")
	}

	pres := payment.Presentation{
		Mode:      conf.Mode,
		ScriptURL: h.scriptURL,
		Callbacks: conf.Callbacks,
		Config: WidgetConfig{
			Merchant: conf.MerchantID,
			Session:  widgetSession{ID: conf.SessionID},
			Order: widgetOrder{
				Amount:      FormatAmount(conf.Amount),
				Currency:    conf.Currency,
				Description: conf.Description,
				ID:          conf.OrderID,
			},
			Interaction: widgetInteraction{
				Merchant: merchantPayload{
					Name:    h.merchantName,
					Address: addressPayload{Line1: h.merchantAddress},
				},
			},
		},
	}
	if conf.Mode != payment.ModeRedirect {
		pres.Mode = payment.ModeEmbedded
		pres.Fallback = payment.ModeRedirect
	}
	return pres, nil
}
