package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"arcade-backend/apperrors"
	"arcade-backend/config"
	"arcade-backend/logger"
	"arcade-backend/services"
	"arcade-backend/utils"

	"github.com/sirupsen/logrus"
)

const x402Version = 1

// FacilitatorClient verifies and settles signed payments through an x402 facilitator.
type FacilitatorClient struct {
	BaseURL    string
	Token      string
	Network    string
	Asset      string
	HTTPClient *http.Client
}

func NewFacilitatorClient(cfg config.FacilitatorConfig, asset string) (*FacilitatorClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("FACILITATOR_URL is required")
	}
	return &FacilitatorClient{
		BaseURL:    cfg.URL,
		Token:      cfg.Token,
		Network:    cfg.Network,
		Asset:      asset,
		HTTPClient: utils.NewHTTPClient(time.Duration(cfg.TimeoutSec) * time.Second),
	}, nil
}

type paymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	PayTo             string `json:"payTo"`
	Asset             string `json:"asset,omitempty"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
}

type facilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      json.RawMessage     `json:"paymentPayload"`
	PaymentRequirements paymentRequirements `json:"paymentRequirements"`
}

type verifyResponse struct {
	IsValid       *bool  `json:"isValid"`
	InvalidReason string `json:"invalidReason"`
	Payer         string `json:"payer"`
}

type settleResponse struct {
	Success         *bool  `json:"success"`
	ErrorReason     string `json:"errorReason"`
	Transaction     string `json:"transaction"`
	TransactionHash string `json:"transactionHash"`
	Network         string `json:"network"`
	Payer           string `json:"payer"`
}

func (c *FacilitatorClient) request(req services.SettlementRequest) facilitatorRequest {
	return facilitatorRequest{
		X402Version:    x402Version,
		PaymentPayload: req.Payment,
		PaymentRequirements: paymentRequirements{
			Scheme:            "exact",
			Network:           c.Network,
			MaxAmountRequired: strconv.FormatInt(int64(req.Amount), 10),
			Resource:          "/api/play/" + req.GameType,
			PayTo:             req.PayTo,
			Asset:             c.Asset,
			MaxTimeoutSeconds: 60,
		},
	}
}

// Settle verifies the payment, then asks the facilitator to execute it on chain.
func (c *FacilitatorClient) Settle(ctx context.Context, req services.SettlementRequest) (*services.SettlementResult, error) {
	body := c.request(req)
	log := logger.WithFields(logrus.Fields{
		"game_type": req.GameType,
		"payer":     req.Payer,
		"amount":    int64(req.Amount),
	})

	var verified verifyResponse
	if err := c.post(ctx, "/verify", body, &verified); err != nil {
		return nil, err
	}
	if verified.IsValid == nil {
		return nil, apperrors.Settlement(services.SettlementReasonMalformedResponse, "facilitator verify response is missing isValid")
	}
	if !*verified.IsValid {
		reason := verified.InvalidReason
		if reason == "" {
			reason = "invalid_payment"
		}
		log.WithField("reason", reason).Warn("payment rejected by facilitator")
		return nil, apperrors.Settlement(reason, "payment verification failed")
	}

	var settled settleResponse
	if err := c.post(ctx, "/settle", body, &settled); err != nil {
		return nil, err
	}
	if settled.Success == nil {
		return nil, apperrors.Settlement(services.SettlementReasonMalformedResponse, "facilitator settle response is missing success")
	}
	if !*settled.Success {
		reason := settled.ErrorReason
		if reason == "" {
			reason = "settlement_failed"
		}
		log.WithField("reason", reason).Warn("payment settlement failed")
		return nil, apperrors.Settlement(reason, "payment settlement failed")
	}

	ref := settled.Transaction
	if ref == "" {
		ref = settled.TransactionHash
	}
	if ref == "" {
		return nil, apperrors.Settlement(services.SettlementReasonMalformedResponse, "facilitator reported success without a transaction hash")
	}

	payer := settled.Payer
	if payer == "" {
		payer = verified.Payer
	}
	network := settled.Network
	if network == "" {
		network = c.Network
	}
	log.WithFields(logrus.Fields{"reference": ref, "network": network}).Info("payment settled")
	return &services.SettlementResult{TransactionReference: ref, Payer: payer, Network: network}, nil
}

// Health probes the facilitator's /supported endpoint.
func (c *FacilitatorClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/supported", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator returned status %d: %s", resp.StatusCode, utils.ErrorBody(resp))
	}
	return nil
}

func (c *FacilitatorClient) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// post sends body to path and decodes the reply into out. Transport failures and
// 5xx replies are gateway errors; 4xx replies still carry a decodable verdict.
func (c *FacilitatorClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode facilitator request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return gatewayError(fmt.Sprintf("facilitator %s call failed", path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return gatewayError(fmt.Sprintf("facilitator %s returned status %d", path, resp.StatusCode),
			errors.New(utils.ErrorBody(resp)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apperrors.AppError{
			Code:    apperrors.CodeSettlementFailure,
			Reason:  services.SettlementReasonMalformedResponse,
			Message: fmt.Sprintf("failed to decode facilitator %s response (status %d)", path, resp.StatusCode),
			Err:     err,
		}
	}
	return nil
}

func gatewayError(message string, err error) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    apperrors.CodeSettlementFailure,
		Reason:  services.SettlementReasonGatewayError,
		Message: message,
		Err:     err,
	}
}
