package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/hoongun/getpaid/internal/backend"
	"github.com/hoongun/getpaid/internal/backend/transferuj"
	"github.com/hoongun/getpaid/internal/config"
	"github.com/hoongun/getpaid/internal/payment"
	"github.com/hoongun/getpaid/internal/userdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	payments map[int64]*payment.Payment
}

func newFakeStore(payments ...*payment.Payment) *fakeStore {
	s := &fakeStore{payments: make(map[int64]*payment.Payment)}
	for _, p := range payments {
		s.payments[p.ID] = p
	}
	return s
}

func (s *fakeStore) GetByID(ctx context.Context, id int64) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *fakeStore) UpdateOutcome(ctx context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return payment.ErrNotFound
	}
	copied := *p
	s.payments[p.ID] = &copied
	return nil
}

func transferujConfig() config.Backend {
	return config.Backend{
		MerchantID: "1234",
		Key:        "AAAAAAAA",
		Currency:   "PLN",
		Method:     "GET",
		AllowedIPs: []string{"*"},
	}
}

func newTestHandler(store *fakeStore) *Handler {
	registry := backend.NewRegistry(transferuj.New(transferujConfig()))
	reconciler := payment.NewReconciler(store)
	return NewHandler(registry, store, reconciler, userdata.Static{"email": "payer@example.com"},
		"https://shop.example/thanks", "https://shop.example/sorry")
}

func pendingPayment(id int64) *payment.Payment {
	return &payment.Payment{
		ID:       id,
		OrderID:  7,
		Backend:  transferuj.Name,
		Amount:   decimal.RequireFromString("123.45"),
		Currency: "PLN",
		Status:   payment.StatusInProgress,
	}
}

func TestInitiate(t *testing.T) {
	t.Run("RedirectPayload", func(t *testing.T) {
		store := newFakeStore(pendingPayment(55))
		h := newTestHandler(store)

		req := httptest.NewRequest("POST", "/payments/55/initiate", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var resp initiateResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, http.MethodGet, resp.Method)
		assert.True(t, strings.HasPrefix(resp.URL, "https://secure.transferuj.pl?"))

		u, err := url.Parse(resp.URL)
		require.NoError(t, err)
		assert.Equal(t, "55", u.Query().Get("crc"))
		assert.Equal(t, "payer@example.com", u.Query().Get("email"))
	})

	t.Run("UnknownPayment", func(t *testing.T) {
		h := newTestHandler(newFakeStore())

		req := httptest.NewRequest("POST", "/payments/55/initiate", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("NonNumericID", func(t *testing.T) {
		h := newTestHandler(newFakeStore())

		req := httptest.NewRequest("POST", "/payments/abc/initiate", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("UnconfiguredBackend", func(t *testing.T) {
		p := pendingPayment(55)
		p.Backend = "unknown"
		h := newTestHandler(newFakeStore(p))

		req := httptest.NewRequest("POST", "/payments/55/initiate", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("WrongCurrency", func(t *testing.T) {
		p := pendingPayment(55)
		p.Currency = "EUR"
		h := newTestHandler(newFakeStore(p))

		req := httptest.NewRequest("POST", "/payments/55/initiate", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func postCallback(h *Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "195.149.229.109:4321"
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	return w
}

func TestOnlineCallback(t *testing.T) {
	paidForm := url.Values{
		"id":        {"1234"},
		"tr_id":     {"1"},
		"tr_crc":    {"55"},
		"tr_amount": {"123.45"},
		"tr_paid":   {"123.45"},
		"tr_status": {"TRUE"},
		"md5sum":    {"8b62f0b7ffac576c16f633476b9daec0"},
	}

	t.Run("PaidNotification", func(t *testing.T) {
		store := newFakeStore(pendingPayment(55))
		h := newTestHandler(store)

		w := postCallback(h, "/gateways/transferuj/online", paidForm)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "TRUE", w.Body.String())

		p, err := store.GetByID(context.Background(), 55)
		require.NoError(t, err)
		assert.Equal(t, payment.StatusPaid, p.Status)
		assert.True(t, p.AmountPaid.Equal(decimal.RequireFromString("123.45")))
		assert.NotNil(t, p.PaidOn)
	})

	t.Run("UnknownPaymentAnswersCRCErr", func(t *testing.T) {
		h := newTestHandler(newFakeStore())

		w := postCallback(h, "/gateways/transferuj/online", paidForm)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "CRC ERR", w.Body.String())
	})

	t.Run("WrongSignatureAnswersSigErr", func(t *testing.T) {
		h := newTestHandler(newFakeStore(pendingPayment(55)))

		tampered := url.Values{}
		for k, v := range paidForm {
			tampered[k] = v
		}
		tampered.Set("md5sum", "xxx")
		w := postCallback(h, "/gateways/transferuj/online", tampered)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "SIG ERR", w.Body.String())
	})

	t.Run("UnknownGateway", func(t *testing.T) {
		h := newTestHandler(newFakeStore())

		w := postCallback(h, "/gateways/nosuch/online", url.Values{})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("PlatronNotServedOnOnline", func(t *testing.T) {
		h := newTestHandler(newFakeStore())

		w := postCallback(h, "/gateways/platron/online", url.Values{})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestFallbacks(t *testing.T) {
	h := newTestHandler(newFakeStore())

	t.Run("Success", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/payments/55/success", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, req)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://shop.example/thanks?payment=55", w.Header().Get("Location"))
	})

	t.Run("Failure", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/payments/55/failure", nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, req)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://shop.example/sorry?payment=55", w.Header().Get("Location"))
	})

	t.Run("Unconfigured", func(t *testing.T) {
		bare := NewHandler(backend.NewRegistry(), newFakeStore(), payment.NewReconciler(newFakeStore()), nil, "", "")
		req := httptest.NewRequest("GET", "/payments/55/success", nil)
		w := httptest.NewRecorder()
		bare.Routes().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
