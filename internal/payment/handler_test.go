package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/paymentgateway"
	paymentpkg "github.com/frahmantamala/autoservice-payments/internal/payment"
	"github.com/frahmantamala/autoservice-payments/internal/paymentgateway"
	"github.com/frahmantamala/autoservice-payments/internal/transport"
)

var _ = Describe("Payment HTTP Handlers", func() {
	var (
		repo     *mockPaymentRepository
		queue    *mockQueue
		verifier *paymentgateway.Verifier
		router   *chi.Mux
		ctx      context.Context
	)

	build := func(returnURL string, mockEnabled bool) {
		service := paymentpkg.NewService(repo, verifier, queue, &mockPublisher{}, paymentpkg.Config{
			IntentExpiry: time.Hour,
			MockEnabled:  mockEnabled,
		}, testLogger())
		handler := paymentpkg.NewHandler(service, testLogger())
		webhook := paymentpkg.NewWebhookHandler(&transport.BaseHandler{Logger: testLogger()}, service, returnURL, testLogger())

		router = chi.NewRouter()
		router.Post("/payment-intents", handler.CreateIntent)
		router.Get("/payment-intents/{code}", handler.GetIntent)
		router.Post("/payments/mock/{paymentCode}/complete", handler.MockComplete)
		router.Get("/payments/{gateway}/return", webhook.HandleReturn)
		router.Get("/payments/{gateway}/ipn", webhook.HandleIPN)
		router.Post("/payments/{gateway}/ipn", webhook.HandleIPN)
	}

	seed := func(code, gateway string) *paymentmodel.PaymentIntent {
		intent := &paymentmodel.PaymentIntent{
			Code:      code,
			BookingID: 7,
			InvoiceID: 8,
			Amount:    decimal.NewFromInt(500000),
			Currency:  "VND",
			Gateway:   gateway,
			Status:    paymentmodel.IntentStatusPending,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		Expect(repo.CreateIntent(ctx, intent)).To(Succeed())
		return intent
	}

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decodeAck := func(w *httptest.ResponseRecorder) paymentpkg.Ack {
		var ack paymentpkg.Ack
		Expect(json.NewDecoder(w.Body).Decode(&ack)).To(Succeed())
		return ack
	}

	BeforeEach(func() {
		repo = newMockPaymentRepository()
		queue = &mockQueue{}
		verifier = testVerifier(repo)
		ctx = context.Background()
		build("", true)
	})

	Describe("POST /payment-intents", func() {
		It("should create an intent", func() {
			body := `{"code":"PI-1001","booking_id":7,"invoice_id":8,"amount":"500000","gateway":"vnpay"}`
			req := httptest.NewRequest(http.MethodPost, "/payment-intents", strings.NewReader(body))

			w := serve(req)

			Expect(w.Code).To(Equal(http.StatusCreated))
			var resp paymentpkg.IntentResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp.Code).To(Equal("PI-1001"))
			Expect(resp.Status).To(Equal("pending"))
			Expect(resp.Amount).To(Equal("500000.00"))
		})

		It("should reject a malformed body", func() {
			req := httptest.NewRequest(http.MethodPost, "/payment-intents", strings.NewReader("{"))

			w := serve(req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject a duplicate code with 409", func() {
			seed("PI-1001", gatewaytypes.GatewayVNPay)
			body := `{"code":"PI-1001","booking_id":7,"invoice_id":8,"amount":"500000","gateway":"vnpay"}`
			req := httptest.NewRequest(http.MethodPost, "/payment-intents", strings.NewReader(body))

			w := serve(req)

			Expect(w.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("GET /payment-intents/{code}", func() {
		It("should return 404 for an unknown code", func() {
			w := serve(httptest.NewRequest(http.MethodGet, "/payment-intents/PI-404", nil))

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("should include the payment once completed", func() {
			// Given
			intent := seed("PI-1001", gatewaytypes.GatewayVNPay)
			params, _ := verifier.Simulate(intent, true, "VNP-1")
			serve(httptest.NewRequest(http.MethodGet, "/payments/vnpay/ipn?"+params.Encode(), nil))

			// When
			w := serve(httptest.NewRequest(http.MethodGet, "/payment-intents/PI-1001", nil))

			// Then
			Expect(w.Code).To(Equal(http.StatusOK))
			var resp paymentpkg.IntentResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp.Status).To(Equal("completed"))
			Expect(resp.Payment).ToNot(BeNil())
			Expect(resp.Payment.ExternalRef).To(Equal("VNP-1"))
		})
	})

	Describe("IPN", func() {
		It("should acknowledge a VNPay success and its replay with 00", func() {
			// Given
			intent := seed("PI-1001", gatewaytypes.GatewayVNPay)
			params, _ := verifier.Simulate(intent, true, "VNP-1")
			target := "/payments/vnpay/ipn?" + params.Encode()

			// When
			first := serve(httptest.NewRequest(http.MethodGet, target, nil))
			second := serve(httptest.NewRequest(http.MethodGet, target, nil))

			// Then
			Expect(first.Code).To(Equal(http.StatusOK))
			Expect(decodeAck(first).RspCode).To(Equal("00"))
			Expect(second.Code).To(Equal(http.StatusOK))
			Expect(decodeAck(second).RspCode).To(Equal("00"))
			Expect(repo.paymentCount()).To(Equal(1))
			Expect(queue.Jobs()).To(HaveLen(1))
		})

		It("should answer 97 with HTTP 200 for a bad checksum", func() {
			intent := seed("PI-1001", gatewaytypes.GatewayVNPay)
			params, _ := verifier.Simulate(intent, true, "VNP-1")
			params.Set("vnp_Amount", "1")

			w := serve(httptest.NewRequest(http.MethodGet, "/payments/vnpay/ipn?"+params.Encode(), nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decodeAck(w)).To(Equal(paymentpkg.AckInvalidChecksum))
			Expect(repo.status("PI-1001")).To(Equal(paymentmodel.IntentStatusPending))
		})

		It("should answer 01 for an unknown intent", func() {
			ghost := &paymentmodel.PaymentIntent{Code: "PI-GHOST", Amount: decimal.NewFromInt(1000), Gateway: gatewaytypes.GatewayVNPay}
			params, _ := verifier.Simulate(ghost, true, "VNP-9")

			w := serve(httptest.NewRequest(http.MethodGet, "/payments/vnpay/ipn?"+params.Encode(), nil))

			Expect(decodeAck(w)).To(Equal(paymentpkg.AckOrderNotFound))
		})

		It("should answer 99 for an unsupported gateway", func() {
			w := serve(httptest.NewRequest(http.MethodGet, "/payments/paypal/ipn?foo=bar", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decodeAck(w).RspCode).To(Equal("99"))
		})

		It("should accept a MoMo JSON body", func() {
			// Given
			intent := seed("PI-2001", gatewaytypes.GatewayMoMo)
			params, _ := verifier.Simulate(intent, true, "MOMO-1")
			payload := make(map[string]string, len(params))
			for k := range params {
				payload[k] = params.Get(k)
			}
			body, _ := json.Marshal(payload)
			req := httptest.NewRequest(http.MethodPost, "/payments/momo/ipn", strings.NewReader(string(body)))
			req.Header.Set("Content-Type", "application/json; charset=utf-8")

			// When
			w := serve(req)

			// Then
			Expect(decodeAck(w)).To(Equal(paymentpkg.AckConfirmSuccess))
			Expect(repo.status("PI-2001")).To(Equal(paymentmodel.IntentStatusCompleted))
		})

		It("should answer 99 for an unreadable body", func() {
			req := httptest.NewRequest(http.MethodPost, "/payments/momo/ipn", strings.NewReader("not json"))
			req.Header.Set("Content-Type", "application/json")

			w := serve(req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decodeAck(w)).To(Equal(paymentpkg.AckUnknownError))
		})
	})

	Describe("Return", func() {
		It("should redirect to the frontend with the outcome", func() {
			// Given
			build("https://shop.example.com/payment/result?lang=vi", true)
			intent := seed("PI-1001", gatewaytypes.GatewayVNPay)
			params, _ := verifier.Simulate(intent, true, "VNP-1")

			// When
			w := serve(httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?"+params.Encode(), nil))

			// Then
			Expect(w.Code).To(Equal(http.StatusFound))
			location, err := url.Parse(w.Header().Get("Location"))
			Expect(err).ToNot(HaveOccurred())
			Expect(location.Host).To(Equal("shop.example.com"))
			Expect(location.Query().Get("paymentCode")).To(Equal("PI-1001"))
			Expect(location.Query().Get("status")).To(Equal("success"))
			Expect(location.Query().Get("lang")).To(Equal("vi"))
		})

		It("should render a JSON summary without a frontend url", func() {
			// Given
			intent := seed("PI-1001", gatewaytypes.GatewayVNPay)
			params, _ := verifier.Simulate(intent, false, "VNP-1")

			// When
			w := serve(httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?"+params.Encode(), nil))

			// Then
			Expect(w.Code).To(Equal(http.StatusOK))
			var summary paymentpkg.ReturnSummary
			Expect(json.NewDecoder(w.Body).Decode(&summary)).To(Succeed())
			Expect(summary.PaymentCode).To(Equal("PI-1001"))
			Expect(summary.Status).To(Equal("failed"))
			Expect(summary.Result).To(Equal("failed"))
		})
	})

	Describe("POST /payments/mock/{paymentCode}/complete", func() {
		It("should complete the intent", func() {
			seed("PI-1001", gatewaytypes.GatewayVNPay)
			req := httptest.NewRequest(http.MethodPost, "/payments/mock/PI-1001/complete", strings.NewReader(`{"status":"success"}`))

			w := serve(req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]interface{}
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("completed"))
			Expect(repo.status("PI-1001")).To(Equal(paymentmodel.IntentStatusCompleted))
		})

		It("should reject an unknown status", func() {
			seed("PI-1001", gatewaytypes.GatewayVNPay)
			req := httptest.NewRequest(http.MethodPost, "/payments/mock/PI-1001/complete", strings.NewReader(`{"status":"maybe"}`))

			w := serve(req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("should be forbidden when the mock gateway is disabled", func() {
			build("", false)
			seed("PI-1001", gatewaytypes.GatewayVNPay)
			req := httptest.NewRequest(http.MethodPost, "/payments/mock/PI-1001/complete", strings.NewReader(`{"status":"success"}`))

			w := serve(req)

			Expect(w.Code).To(Equal(http.StatusForbidden))
		})
	})
})
