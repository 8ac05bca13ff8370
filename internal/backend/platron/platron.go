// Package platron adapts the Platron gateway: nested-tag XML payloads,
// a semicolon-joined digest prefixed with the receiving script's name,
// and check/result callback scripts answered with signed XML documents.
package platron

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hoongun/getpaid/internal/backend"
	"github.com/hoongun/getpaid/internal/config"
	"github.com/hoongun/getpaid/internal/logger"
	"github.com/hoongun/getpaid/internal/payment"
	"github.com/hoongun/getpaid/internal/sign"
	"github.com/hoongun/getpaid/internal/wire"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	Name = "platron"

	initPaymentURL = "https://www.platron.ru/init_payment.php"

	// Script names the gateway signs its callbacks with.
	ScriptCheck  = "check"
	ScriptResult = "result"
	scriptInit   = "init_payment.php"
)

var acceptedCurrencies = []string{"RUB"}

// Optional user fields forwarded to the gateway when supplied. Anything
// else from the user-data collaborator is dropped.
var additionFields = []string{
	"pg_payment_system",
	"pg_encoding",
	"pg_description",
	"pg_user_phone",
	"pg_user_contact_email",
	"pg_user_email",
	"pg_user_cardholder",
	"pg_user_ip",
	"pg_language",
}

// pg_result values mapped onto canonical outcomes; anything else is a
// status check.
var resultOutcomes = map[string]payment.Outcome{
	"1": payment.OutcomePaid,
	"0": payment.OutcomeRejected,
}

type adapter struct {
	cfg        config.Backend
	httpClient *http.Client
	initURL    string
}

func New(cfg config.Backend) backend.Adapter {
	if cfg.Key == "" {
		logger.L().Warn("Platron secret key is empty")
	}
	return &adapter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		initURL: initPaymentURL,
	}
}

func (a *adapter) Name() string { return Name }

func recipe(script string) sign.Recipe {
	return sign.Recipe{Separator: ";", Prefix: script}
}

// Platron speaks the legacy RUR code for Russian rubles.
func wireCurrency(currency string) string {
	if currency == "RUB" {
		return "RUR"
	}
	return currency
}

func acceptsCurrency(currency string) bool {
	for _, c := range acceptedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

func newSalt() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// BuildOutbound signs an init_payment request, posts it to the gateway
// and extracts the redirect target from the XML response.
func (a *adapter) BuildOutbound(ctx context.Context, p *payment.Payment, extra map[string]string) (*backend.Redirect, error) {
	log := logger.FromCtx(ctx).With(
		zap.Int64("payment_id", p.ID),
		zap.String("amount", p.Amount.String()),
		zap.String("currency", p.Currency),
	)

	if !strings.EqualFold(a.cfg.Method, http.MethodGet) {
		return nil, errors.New("platron accepts only GET")
	}
	if !acceptsCurrency(p.Currency) {
		return nil, fmt.Errorf("%w: %s", backend.ErrCurrency, p.Currency)
	}

	merchantID, key := a.cfg.Credentials()

	fields := sign.Fields{
		"pg_merchant_id": sign.Scalar(merchantID),
		"pg_order_id":    sign.Scalar(strconv.FormatInt(p.ID, 10)),
		"pg_amount":      sign.Scalar(p.Amount.StringFixed(2)),
		"pg_currency":    sign.Scalar(wireCurrency(p.Currency)),
		"pg_check_url":   sign.Scalar(a.cfg.CheckURL),
		"pg_result_url":  sign.Scalar(a.cfg.ResultURL),
		"pg_description": sign.Scalar(fmt.Sprintf("Order %d", p.OrderID)),
		"pg_salt":        sign.Scalar(newSalt()),
	}
	if a.cfg.Testing {
		fields["pg_payment_system"] = sign.Scalar("TEST")
	}
	for k, v := range extra {
		if allowedAddition(k) {
			fields[k] = sign.Scalar(v)
		}
	}

	digest, err := sign.Compute(fields, recipe(scriptInit), key)
	if err != nil {
		return nil, err
	}
	fields["pg_sig"] = sign.Scalar(digest)

	body, err := wire.EncodeDoc(fields, wire.RootRequest)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.initURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")

	log.Info("Sending init payment request to Platron")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		log.Error("Platron request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", backend.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrGatewayUnavailable, err)
	}

	respFields, err := wire.ParseDoc(respBytes, wire.RootResponse, wire.DefaultDocDepth)
	if err != nil {
		log.Error("Platron returned malformed response", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", backend.ErrGatewayUnavailable, err)
	}

	if respFields.Scalar("pg_status") == "error" {
		log.Error("Platron rejected init payment request",
			zap.String("error_code", respFields.Scalar("pg_error_code")),
			zap.String("error_description", respFields.Scalar("pg_error_description")),
		)
		params := url.Values{}
		params.Set("pg_error_code", respFields.Scalar("pg_error_code"))
		params.Set("pg_error_description", respFields.Scalar("pg_error_description"))
		params.Set("pg_order_id", strconv.FormatInt(p.ID, 10))
		return &backend.Redirect{
			URL:    a.cfg.FailureURL + "?" + params.Encode(),
			Method: http.MethodGet,
		}, nil
	}

	redirectURL := respFields.Scalar("pg_redirect_url")
	if redirectURL == "" {
		return nil, fmt.Errorf("%w: response carries no redirect url", backend.ErrGatewayUnavailable)
	}

	log.Info("Platron payment initialized",
		zap.String("gateway_payment_id", respFields.Scalar("pg_payment_id")),
	)

	return &backend.Redirect{URL: redirectURL, Method: http.MethodGet}, nil
}

func allowedAddition(key string) bool {
	for _, k := range additionFields {
		if k == key {
			return true
		}
	}
	return false
}

// VerifyAndMap unwraps the pg_xml envelope, checks the script-prefixed
// signature and currency, and maps pg_result onto an outcome.
func (a *adapter) VerifyAndMap(ctx context.Context, req *backend.Request) (*payment.Notification, error) {
	xmlBody := req.Form.Get("pg_xml")
	if xmlBody == "" {
		return nil, fmt.Errorf("%w: missing pg_xml", wire.ErrMalformed)
	}

	fields, err := wire.ParseDoc([]byte(xmlBody), wire.RootRequest, wire.DefaultDocDepth)
	if err != nil {
		return nil, err
	}

	claimed := fields.Scalar("pg_sig")
	if claimed == "" {
		return nil, fmt.Errorf("%w: missing pg_sig", backend.ErrSignature)
	}
	unsigned := fields.Clone()
	delete(unsigned, "pg_sig")

	_, key := a.cfg.Credentials()
	ok, err := sign.Verify(unsigned, recipe(req.Script), key, claimed)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.FromCtx(ctx).Warn("Platron notification with wrong signature",
			zap.String("order_id", fields.Scalar("pg_order_id")),
		)
		return nil, backend.ErrSignature
	}

	if wireCurrency(a.cfg.Currency) != fields.Scalar("pg_ps_currency") {
		return nil, fmt.Errorf("%w: %s", backend.ErrCurrency, fields.Scalar("pg_ps_currency"))
	}

	if fields.Scalar("pg_can_rejected") == "1" {
		return nil, backend.ErrRejected
	}

	n := &payment.Notification{
		Reference: fields.Scalar("pg_order_id"),
		Currency:  a.cfg.Currency,
		Outcome:   payment.OutcomePending,
		Raw:       fields,
	}
	if outcome, ok := resultOutcomes[fields.Scalar("pg_result")]; ok {
		n.Outcome = outcome
	}
	if n.Outcome == payment.OutcomePaid {
		amount, err := decimal.NewFromString(fields.Scalar("pg_amount"))
		if err != nil {
			return nil, fmt.Errorf("%w: bad pg_amount %q", wire.ErrMalformed, fields.Scalar("pg_amount"))
		}
		n.Amount = amount
	}
	return n, nil
}

// Reply renders the signed XML acknowledgement. A payload that never
// parsed gets the bare MALFORMED token instead.
func (a *adapter) Reply(ctx context.Context, req *backend.Request, n *payment.Notification, res *payment.ApplyResult, procErr error) backend.Reply {
	if errors.Is(procErr, wire.ErrMalformed) {
		return backend.Reply{ContentType: "text/plain", Body: []byte("MALFORMED")}
	}

	status, description := "ok", ""
	switch {
	case procErr == nil:
	case errors.Is(procErr, backend.ErrRejected):
		status, description = "rejected", "Payment rejected"
	case errors.Is(procErr, backend.ErrSignature):
		status, description = "error", "Signature failure"
	case errors.Is(procErr, backend.ErrCurrency):
		status, description = "error", "Bad currency"
	case errors.Is(procErr, payment.ErrNotFound):
		status, description = "error", "Order id is not found"
	default:
		status, description = "error", "Processing error"
	}

	fields := sign.Fields{
		"pg_salt":              sign.Scalar(newSalt()),
		"pg_status":            sign.Scalar(status),
		"pg_description":       sign.Scalar(description),
		"pg_error_description": sign.Scalar(description),
	}

	_, key := a.cfg.Credentials()
	digest, err := sign.Compute(fields, recipe(req.Script), key)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to sign Platron reply", zap.Error(err))
		return backend.Reply{ContentType: "text/plain", Body: []byte("MALFORMED")}
	}
	fields["pg_sig"] = sign.Scalar(digest)

	body, err := wire.EncodeDoc(fields, wire.RootResponse)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to encode Platron reply", zap.Error(err))
		return backend.Reply{ContentType: "text/plain", Body: []byte("MALFORMED")}
	}
	return backend.Reply{ContentType: "text/xml", Body: body}
}
