// Package payanyway adapts the PayAnyWay (Moneta) gateway: a flat
// MNT_* form vocabulary, digests built by plain concatenation of a
// named field list, and a CHECK command answered with a signed
// MNT_RESPONSE document.
package payanyway

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
	Name = "payanyway"

	gatewayURL     = "https://www.payanyway.ru/assistant.htm"
	testGatewayURL = "https://demo.moneta.ru/assistant.htm"

	// CommandCheck marks a pre-payment status query. Everything else on
	// the online callback is a payment notification.
	CommandCheck = "CHECK"

	responseRoot = "MNT_RESPONSE"

	tokenSuccess = "SUCCESS"
	tokenFail    = "FAIL"
)

// CHECK answer result codes.
const (
	codeAmountRequired = "100"
	codePaid           = "200"
	codeUnknownOrder   = "302"
	codeNotReady       = "402"
)

var acceptedCurrencies = []string{"RUB"}

// Digest field orders. Inbound notifications and CHECK answers sign
// normalized names, the outbound pay form signs the wire names.
var (
	payFormSigFields = []string{"MNT_ID", "MNT_TRANSACTION_ID", "MNT_AMOUNT", "MNT_CURRENCY_CODE", "MNT_TEST_MODE"}
	notifySigFields  = []string{"command", "id", "transaction_id", "operation_id", "amount", "currency_code", "test_mode"}
	answerSigFields  = []string{"result_code", "id", "transaction_id"}
)

// Optional user fields forwarded on the pay form when supplied.
var additionFields = []string{
	"MNT_CUSTOM1",
	"MNT_CUSTOM2",
	"MNT_CUSTOM3",
	"moneta.locale",
	"paymentSystem.unitId",
	"paymentSystem.limitIds",
}

var notifySchema = wire.Schema{
	Required: []string{"MNT_ID", "MNT_TRANSACTION_ID", "MNT_CURRENCY_CODE", "MNT_TEST_MODE", "MNT_SIGNATURE"},
	Optional: []string{"MNT_COMMAND", "MNT_OPERATION_ID", "MNT_AMOUNT", "MNT_USER", "MNT_CORRACCOUNT", "paymentSystem.unitId"},
}

type adapter struct {
	cfg config.Backend
}

func New(cfg config.Backend) backend.Adapter {
	if cfg.Key == "" {
		logger.L().Warn("PayAnyWay secret key is empty")
	}
	return &adapter{cfg: cfg}
}

func (a *adapter) Name() string { return Name }

func recipe(fields []string) sign.Recipe {
	return sign.Recipe{Fields: fields}
}

func (a *adapter) gateway() string {
	if a.cfg.Testing {
		return testGatewayURL
	}
	return gatewayURL
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

// BuildOutbound assembles the signed pay form for the assistant page.
// In test mode the form targets the demo gateway with the test
// credentials. No network round trip is involved; the payer is sent to
// the gateway directly.
func (a *adapter) BuildOutbound(ctx context.Context, p *payment.Payment, extra map[string]string) (*backend.Redirect, error) {
	if !acceptsCurrency(p.Currency) {
		return nil, fmt.Errorf("%w: %s", backend.ErrCurrency, p.Currency)
	}

	merchantID, key := a.cfg.Credentials()

	testMode := "0"
	if a.cfg.Testing {
		testMode = "1"
	}

	fields := sign.Fields{
		"MNT_ID":             sign.Scalar(merchantID),
		"MNT_TRANSACTION_ID": sign.Scalar(strconv.FormatInt(p.ID, 10)),
		"MNT_AMOUNT":         sign.Scalar(p.Amount.StringFixed(2)),
		"MNT_CURRENCY_CODE":  sign.Scalar(p.Currency),
		"MNT_TEST_MODE":      sign.Scalar(testMode),
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
	fields["MNT_SIGNATURE"] = sign.Scalar(digest)

	logger.FromCtx(ctx).Info("built PayAnyWay pay form",
		zap.Int64("payment_id", p.ID),
		zap.Bool("test_mode", a.cfg.Testing),
	)

	switch {
	case strings.EqualFold(a.cfg.Method, http.MethodPost):
		form := make(map[string]string, len(fields))
		for k := range fields {
			form[k] = fields.Scalar(k)
		}
		return &backend.Redirect{URL: a.gateway(), Method: http.MethodPost, Fields: form}, nil
	case strings.EqualFold(a.cfg.Method, http.MethodGet):
		values, err := wire.EncodeForm(fields)
		if err != nil {
			return nil, err
		}
		return &backend.Redirect{URL: a.gateway() + "?" + values.Encode(), Method: http.MethodGet}, nil
	default:
		return nil, errors.New("payanyway accepts only GET or POST")
	}
}

// VerifyAndMap validates an online callback. The digest covers the
// normalized field names in a fixed order, with the command slot left
// empty for plain payment notifications.
func (a *adapter) VerifyAndMap(ctx context.Context, req *backend.Request) (*payment.Notification, error) {
	form, err := wire.ParseForm(req.Form, notifySchema)
	if err != nil {
		return nil, err
	}

	command := form.Scalar("MNT_COMMAND")
	if command == "" {
		// Plain notifications always carry the operation and amount.
		for _, k := range []string{"MNT_OPERATION_ID", "MNT_AMOUNT"} {
			if _, ok := form[k]; !ok {
				return nil, fmt.Errorf("%w: missing required key %q", wire.ErrMalformed, k)
			}
		}
	}

	normalized := sign.Fields{
		"command":        sign.Scalar(command),
		"id":             sign.Scalar(form.Scalar("MNT_ID")),
		"transaction_id": sign.Scalar(form.Scalar("MNT_TRANSACTION_ID")),
		"operation_id":   sign.Scalar(form.Scalar("MNT_OPERATION_ID")),
		"amount":         sign.Scalar(form.Scalar("MNT_AMOUNT")),
		"currency_code":  sign.Scalar(form.Scalar("MNT_CURRENCY_CODE")),
		"test_mode":      sign.Scalar(form.Scalar("MNT_TEST_MODE")),
	}

	_, key := a.cfg.Credentials()
	ok, err := sign.Verify(normalized, recipe(notifySigFields), key, form.Scalar("MNT_SIGNATURE"))
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.FromCtx(ctx).Warn("PayAnyWay notification with wrong signature",
			zap.String("transaction_id", form.Scalar("MNT_TRANSACTION_ID")),
		)
		return nil, backend.ErrSignature
	}

	n := &payment.Notification{
		Reference: form.Scalar("MNT_TRANSACTION_ID"),
		Currency:  a.cfg.Currency,
		Outcome:   payment.OutcomePending,
		Raw:       normalized,
	}
	if command == CommandCheck {
		return n, nil
	}

	if amount := form.Scalar("MNT_AMOUNT"); amount != "" {
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("%w: bad MNT_AMOUNT %q", wire.ErrMalformed, amount)
		}
		n.Outcome = payment.OutcomePaid
		n.Amount = parsed
	} else {
		n.Outcome = payment.OutcomeRejected
	}
	return n, nil
}

// Reply answers the callback. CHECK queries get a signed MNT_RESPONSE
// document with a result code; payment notifications get the bare
// SUCCESS or FAIL token.
func (a *adapter) Reply(ctx context.Context, req *backend.Request, n *payment.Notification, res *payment.ApplyResult, procErr error) backend.Reply {
	if n == nil {
		return plain(tokenFail)
	}

	if n.Raw.Scalar("command") == CommandCheck {
		return a.checkReply(ctx, n, res, procErr)
	}

	if procErr == nil && n.Outcome == payment.OutcomePaid {
		return plain(tokenSuccess)
	}
	return plain(tokenFail)
}

func (a *adapter) checkReply(ctx context.Context, n *payment.Notification, res *payment.ApplyResult, procErr error) backend.Reply {
	amount := n.Raw.Scalar("amount")

	var code string
	switch {
	case errors.Is(procErr, payment.ErrNotFound):
		code = codeUnknownOrder
	case procErr != nil || res == nil:
		return plain(tokenFail)
	case amount == "":
		code = codeAmountRequired
		amount = res.Payment.Amount.StringFixed(2)
	case res.Payment.Status == payment.StatusPaid:
		code = codePaid
	default:
		code = codeNotReady
	}

	id := n.Raw.Scalar("id")
	txn := n.Raw.Scalar("transaction_id")

	_, key := a.cfg.Credentials()
	digest, err := sign.Compute(sign.Fields{
		"result_code":    sign.Scalar(code),
		"id":             sign.Scalar(id),
		"transaction_id": sign.Scalar(txn),
	}, recipe(answerSigFields), key)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to sign PayAnyWay answer", zap.Error(err))
		return plain(tokenFail)
	}

	body, err := wire.EncodeDoc(sign.Fields{
		"MNT_ID":             sign.Scalar(id),
		"MNT_TRANSACTION_ID": sign.Scalar(txn),
		"MNT_RESULT_CODE":    sign.Scalar(code),
		"MNT_AMOUNT":         sign.Scalar(amount),
		"MNT_SIGNATURE":      sign.Scalar(digest),
	}, responseRoot)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to encode PayAnyWay answer", zap.Error(err))
		return plain(tokenFail)
	}
	return backend.Reply{ContentType: "text/xml", Body: body}
}

func plain(token string) backend.Reply {
	return backend.Reply{ContentType: "text/plain", Body: []byte(token)}
}
