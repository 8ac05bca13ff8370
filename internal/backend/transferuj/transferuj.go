// Package transferuj adapts the Transferuj.pl gateway: a flat form
// protocol guarded by a gateway IP allowlist, digests built by plain
// concatenation, and short text tokens as callback answers.
package transferuj

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hoongun/getpaid/internal/backend"
	"github.com/hoongun/getpaid/internal/config"
	"github.com/hoongun/getpaid/internal/logger"
	"github.com/hoongun/getpaid/internal/payment"
	"github.com/hoongun/getpaid/internal/sign"
	"github.com/hoongun/getpaid/internal/wire"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	Name = "transferuj"

	gatewayURL = "https://secure.transferuj.pl"

	// defaultGatewayIP is the production address notifications come
	// from. A config allowlist overrides it; a "*" entry disables the
	// check entirely.
	defaultGatewayIP = "195.149.229.109"

	tokenProcessed = "TRUE"
	tokenMalformed = "FALSE"
	tokenSourceIP  = "IP ERR"
	tokenSignature = "SIG ERR"
	tokenMerchant  = "ID ERR"
	tokenUnknown   = "CRC ERR"
)

var acceptedCurrencies = []string{"PLN"}

var (
	notifySigFields  = []string{"id", "tr_id", "tr_amount", "tr_crc"}
	payFormSigFields = []string{"id", "kwota", "crc"}
)

// Optional user fields forwarded on the pay form when supplied.
var additionFields = []string{"email", "imie", "nazwisko", "jezyk"}

var notifySchema = wire.Schema{
	Required: []string{"id", "tr_id", "tr_crc", "tr_amount", "md5sum"},
	Optional: []string{"tr_date", "tr_paid", "tr_desc", "tr_status", "tr_error", "tr_email"},
}

type adapter struct {
	cfg config.Backend
}

func New(cfg config.Backend) backend.Adapter {
	if cfg.Key == "" {
		logger.L().Warn("Transferuj secret key is empty")
	}
	return &adapter{cfg: cfg}
}

func (a *adapter) Name() string { return Name }

func recipe(fields []string) sign.Recipe {
	return sign.Recipe{Fields: fields}
}

func acceptsCurrency(currency string) bool {
	for _, c := range acceptedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

func allowedAddition(key string) bool {
	for _, f := range additionFields {
		if f == key {
			return true
		}
	}
	return false
}

func (a *adapter) allowsIP(ip string) bool {
	allowed := a.cfg.AllowedIPs
	if len(allowed) == 0 {
		allowed = []string{defaultGatewayIP}
	}
	for _, candidate := range allowed {
		if candidate == "*" || candidate == ip {
			return true
		}
	}
	return false
}

// BuildOutbound assembles the signed pay form. The crc field carries
// the payment id and comes back on the notification as tr_crc.
func (a *adapter) BuildOutbound(ctx context.Context, p *payment.Payment, extra map[string]string) (*backend.Redirect, error) {
	if !acceptsCurrency(p.Currency) {
		return nil, fmt.Errorf("%w: %s", backend.ErrCurrency, p.Currency)
	}

	merchantID, key := a.cfg.Credentials()

	fields := sign.Fields{
		"id":           sign.Scalar(merchantID),
		"kwota":        sign.Scalar(p.Amount.StringFixed(2)),
		"crc":          sign.Scalar(strconv.FormatInt(p.ID, 10)),
		"opis":         sign.Scalar(fmt.Sprintf("Order %d", p.OrderID)),
		"wyn_url":      sign.Scalar(a.cfg.ResultURL),
		"pow_url":      sign.Scalar(a.cfg.SuccessURL),
		"pow_url_blad": sign.Scalar(a.cfg.FailureURL),
	}
	for k, v := range extra {
		if allowedAddition(k) {
			fields[k] = sign.Scalar(v)
		}
	}

	digest, err := sign.Compute(fields, recipe(payFormSigFields), key)
	if err != nil {
		return nil, err
	}
	fields["md5sum"] = sign.Scalar(digest)

	logger.FromCtx(ctx).Info("built Transferuj pay form",
		zap.Int64("payment_id", p.ID),
	)

	switch {
	case strings.EqualFold(a.cfg.Method, http.MethodPost):
		form := make(map[string]string, len(fields))
		for k := range fields {
			form[k] = fields.Scalar(k)
		}
		return &backend.Redirect{URL: gatewayURL, Method: http.MethodPost, Fields: form}, nil
	case strings.EqualFold(a.cfg.Method, http.MethodGet):
		values, err := wire.EncodeForm(fields)
		if err != nil {
			return nil, err
		}
		return &backend.Redirect{URL: gatewayURL + "?" + values.Encode(), Method: http.MethodGet}, nil
	default:
		return nil, errors.New("transferuj accepts only GET or POST")
	}
}

// VerifyAndMap validates an online notification. The source address is
// checked before anything else; the digest covers the merchant id, the
// gateway transaction id, the amount and the crc echo.
func (a *adapter) VerifyAndMap(ctx context.Context, req *backend.Request) (*payment.Notification, error) {
	if !a.allowsIP(req.RemoteIP) {
		logger.FromCtx(ctx).Warn("Transferuj notification from disallowed address",
			zap.String("remote_ip", req.RemoteIP),
		)
		return nil, fmt.Errorf("%w: %s", backend.ErrSourceIP, req.RemoteIP)
	}

	form, err := wire.ParseForm(req.Form, notifySchema)
	if err != nil {
		return nil, err
	}

	_, key := a.cfg.Credentials()
	ok, err := sign.Verify(form, recipe(notifySigFields), key, form.Scalar("md5sum"))
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.FromCtx(ctx).Warn("Transferuj notification with wrong signature",
			zap.String("tr_crc", form.Scalar("tr_crc")),
		)
		return nil, backend.ErrSignature
	}

	merchantID, _ := a.cfg.Credentials()
	if form.Scalar("id") != merchantID {
		return nil, fmt.Errorf("%w: got %q", backend.ErrMerchant, form.Scalar("id"))
	}

	n := &payment.Notification{
		Reference: form.Scalar("tr_crc"),
		Currency:  a.cfg.Currency,
		Raw:       form,
	}
	if form.Scalar("tr_status") == "TRUE" {
		paid, err := decimal.NewFromString(form.Scalar("tr_paid"))
		if err != nil {
			return nil, fmt.Errorf("%w: bad tr_paid %q", wire.ErrMalformed, form.Scalar("tr_paid"))
		}
		n.Outcome = payment.OutcomePaid
		n.Amount = paid
	} else {
		n.Outcome = payment.OutcomeRejected
	}
	return n, nil
}

// Reply maps the processing result onto the gateway's short tokens.
// A processed notification answers TRUE even when it marked the
// payment failed.
func (a *adapter) Reply(ctx context.Context, req *backend.Request, n *payment.Notification, res *payment.ApplyResult, procErr error) backend.Reply {
	token := tokenProcessed
	switch {
	case procErr == nil:
	case errors.Is(procErr, backend.ErrSourceIP):
		token = tokenSourceIP
	case errors.Is(procErr, backend.ErrSignature):
		token = tokenSignature
	case errors.Is(procErr, backend.ErrMerchant):
		token = tokenMerchant
	case errors.Is(procErr, payment.ErrNotFound):
		token = tokenUnknown
	default:
		token = tokenMalformed
	}
	return backend.Reply{ContentType: "text/plain", Body: []byte(token)}
}
