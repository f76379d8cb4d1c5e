package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"arcade-backend/apperrors"
	"arcade-backend/config"
	"arcade-backend/services"
)

const testPayer = "0x00000000000000000000000000000000000000aa"

func newFacilitator(t *testing.T, verify, settle http.HandlerFunc) (*FacilitatorClient, *[]facilitatorRequest) {
	t.Helper()
	var seen []facilitatorRequest
	mux := http.NewServeMux()
	record := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer secret" {
				t.Errorf("%s: missing bearer token", r.URL.Path)
			}
			var body facilitatorRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("%s: decode request: %v", r.URL.Path, err)
			}
			seen = append(seen, body)
			next(w, r)
		}
	}
	mux.HandleFunc("/verify", record(verify))
	mux.HandleFunc("/settle", record(settle))
	mux.HandleFunc("/supported", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"kinds":[{"x402Version":1,"scheme":"exact","network":"base-sepolia"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewFacilitatorClient(config.FacilitatorConfig{
		URL:        srv.URL,
		Token:      "secret",
		TimeoutSec: 5,
		Network:    "base-sepolia",
	}, "0x036cbd53842c5426634e7929541ec2318f3dcf7e")
	if err != nil {
		t.Fatalf("NewFacilitatorClient: %v", err)
	}
	return client, &seen
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

var validVerify = reply(http.StatusOK, `{"isValid":true,"payer":"`+testPayer+`"}`)

func settlementRequest() services.SettlementRequest {
	return services.SettlementRequest{
		Payment:  json.RawMessage(`{"scheme":"exact","payload":{"signature":"0x01"}}`),
		Payer:    testPayer,
		PayTo:    "0x00000000000000000000000000000000000000fe",
		Amount:   10000,
		GameType: "snake",
	}
}

func TestFacilitatorSettle(t *testing.T) {
	hash := "0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000001"
	client, seen := newFacilitator(t, validVerify,
		reply(http.StatusOK, `{"success":true,"transaction":"`+hash+`","network":"base-sepolia"}`))

	res, err := client.Settle(context.Background(), settlementRequest())
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.TransactionReference != hash || res.Payer != testPayer || res.Network != "base-sepolia" {
		t.Fatalf("result = %+v", res)
	}

	if len(*seen) != 2 {
		t.Fatalf("facilitator saw %d requests, want verify and settle", len(*seen))
	}
	req := (*seen)[1].PaymentRequirements
	if req.MaxAmountRequired != "10000" || req.Scheme != "exact" || req.PayTo != "0x00000000000000000000000000000000000000fe" || req.Resource != "/api/play/snake" {
		t.Fatalf("payment requirements = %+v", req)
	}
}

func TestFacilitatorSettleAcceptsTransactionHash(t *testing.T) {
	hash := "0x" + "cd" + "00000000000000000000000000000000000000000000000000000000000002"
	client, _ := newFacilitator(t, validVerify,
		reply(http.StatusOK, `{"success":true,"transactionHash":"`+hash+`"}`))

	res, err := client.Settle(context.Background(), settlementRequest())
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.TransactionReference != hash || res.Network != "base-sepolia" {
		t.Fatalf("result = %+v", res)
	}
}

func TestFacilitatorFailures(t *testing.T) {
	cases := []struct {
		name   string
		verify http.HandlerFunc
		settle http.HandlerFunc
		reason string
	}{
		{"invalid signature", reply(http.StatusBadRequest, `{"isValid":false,"invalidReason":"invalid_exact_evm_payload_signature"}`), nil, "invalid_exact_evm_payload_signature"},
		{"settle rejected", validVerify, reply(http.StatusOK, `{"success":false,"errorReason":"insufficient_funds"}`), "insufficient_funds"},
		{"success without hash", validVerify, reply(http.StatusOK, `{"success":true}`), services.SettlementReasonMalformedResponse},
		{"missing success", validVerify, reply(http.StatusOK, `{"transaction":"0x01"}`), services.SettlementReasonMalformedResponse},
		{"garbage body", validVerify, reply(http.StatusOK, `<html>`), services.SettlementReasonMalformedResponse},
		{"server error", validVerify, reply(http.StatusBadGateway, `upstream down`), services.SettlementReasonGatewayError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			settle := tc.settle
			if settle == nil {
				settle = func(w http.ResponseWriter, r *http.Request) {
					t.Error("settle called after a failed verification")
				}
			}
			client, _ := newFacilitator(t, tc.verify, settle)

			_, err := client.Settle(context.Background(), settlementRequest())
			if !apperrors.Is(err, apperrors.CodeSettlementFailure) || apperrors.ReasonOf(err) != tc.reason {
				t.Fatalf("got %v, want reason %s", err, tc.reason)
			}
		})
	}
}

func TestFacilitatorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client, err := NewFacilitatorClient(config.FacilitatorConfig{URL: srv.URL, TimeoutSec: 1}, "")
	if err != nil {
		t.Fatalf("NewFacilitatorClient: %v", err)
	}

	_, err = client.Settle(context.Background(), settlementRequest())
	if apperrors.ReasonOf(err) != services.SettlementReasonGatewayError {
		t.Fatalf("got %v, want gateway error", err)
	}
	if client.Health(context.Background()) == nil {
		t.Fatal("health check passed against a closed server")
	}
}

func TestFacilitatorHealth(t *testing.T) {
	client, _ := newFacilitator(t, validVerify, validVerify)
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}

	if _, err := NewFacilitatorClient(config.FacilitatorConfig{}, ""); err == nil {
		t.Fatal("missing URL accepted")
	}
}
