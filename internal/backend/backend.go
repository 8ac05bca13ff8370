package backend

import (
	"context"
	"errors"
	"net/url"

	"github.com/hoongun/getpaid/internal/payment"
)

var (
	// ErrSignature is a digest mismatch. The expected digest is never
	// part of the error or the reply.
	ErrSignature = errors.New("signature verification failed")

	ErrCurrency = errors.New("currency not accepted")

	// ErrGatewayUnavailable surfaces a failed or garbled outbound call;
	// the caller decides whether to retry.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrMerchant means the notification echoes a merchant id other
	// than the configured one.
	ErrMerchant = errors.New("merchant id mismatch")

	// ErrSourceIP rejects notifications from outside a gateway's
	// published address range.
	ErrSourceIP = errors.New("source address not allowed")

	// ErrRejected is a gateway asking to reject the payment; answered
	// affirmatively without touching payment state.
	ErrRejected = errors.New("payment rejected by gateway")
)

// Redirect is the outbound initiation result: where to send the payer
// and how. Fields are non-empty only for POST, rendered by the caller
// as an auto-submitting form.
type Redirect struct {
	URL    string
	Method string
	Fields map[string]string
}

// Request is one inbound notification as delivered by the gateway.
type Request struct {
	// Script is the callback route variant for backends that sign with
	// the receiving script's name.
	Script   string
	RemoteIP string
	Form     url.Values
}

// Reply is the acknowledgement body a gateway expects, bare token or
// signed document depending on the backend.
type Reply struct {
	ContentType string
	Body        []byte
}

// Adapter is the per-gateway plug-in point. Each implementation
// declares its field lists, signature recipe and outcome vocabulary as
// data and exposes this fixed capability set.
type Adapter interface {
	Name() string

	// BuildOutbound assembles the signed redirect for a payment. Extra
	// user fields outside the adapter's allowlist are dropped silently.
	// Fails with ErrCurrency before any network call when the payment
	// currency is not accepted.
	BuildOutbound(ctx context.Context, p *payment.Payment, extra map[string]string) (*Redirect, error)

	// VerifyAndMap parses the raw notification, verifies its signature
	// and maps the gateway vocabulary onto a canonical notification.
	VerifyAndMap(ctx context.Context, req *Request) (*payment.Notification, error)

	// Reply renders the gateway-specific acknowledgement. n and res may
	// be nil when verification or reconciliation failed; procErr is the
	// error that stopped processing, nil on success.
	Reply(ctx context.Context, req *Request, n *payment.Notification, res *payment.ApplyResult, procErr error) Reply
}
