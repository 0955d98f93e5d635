package payoutprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/money"
)

const (
	headerClientID  = "X-Client-Id"
	headerTimestamp = "X-Timestamp"
	headerSignature = "X-Signature"

	defaultRetryBase = 250 * time.Millisecond
	maxRetryDelay    = 5 * time.Second
	maxErrorBody     = 4096

	opSubmitBatch = "submit_batch"
	opGetBatch    = "get_batch"
)

// RetryObserver is told about every retried attempt.
type RetryObserver interface {
	IncProviderRetry(operation string)
}

// ClientParams configures the HTTP provider client.
type ClientParams struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxRetries   int
	RetryBase    time.Duration
	HTTPClient   *http.Client
	Logger       *logger.Logger
	Observer     RetryObserver
	Clock        func() time.Time
}

// Client implements Provider over JSON/HTTPS with signed requests.
type Client struct {
	baseURL    *url.URL
	clientID   string
	secret     string
	timeout    time.Duration
	maxRetries uint64
	retryBase  time.Duration
	http       *http.Client
	logg       *logger.Logger
	observer   RetryObserver
	now        func() time.Time
}

// NewClient validates credentials up front; a misconfigured provider fails at
// boot instead of on the first payout run.
func NewClient(params ClientParams) (*Client, error) {
	if strings.TrimSpace(params.BaseURL) == "" {
		return nil, errors.New("payout provider base url is required")
	}
	base, err := url.Parse(strings.TrimRight(params.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid payout provider base url %q", params.BaseURL)
	}
	if strings.TrimSpace(params.ClientID) == "" || strings.TrimSpace(params.ClientSecret) == "" {
		return nil, errors.New("payout provider client id and secret are required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := params.MaxRetries
	if retries < 0 {
		retries = 0
	}
	retryBase := params.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Client{
		baseURL:    base,
		clientID:   params.ClientID,
		secret:     params.ClientSecret,
		timeout:    timeout,
		maxRetries: uint64(retries),
		retryBase:  retryBase,
		http:       httpClient,
		logg:       params.Logger,
		observer:   params.Observer,
		now:        clock,
	}, nil
}

// NewClientFromConfig builds the client for the configured mode.
func NewClientFromConfig(cfg config.PayoutsConfig, logg *logger.Logger, observer RetryObserver) (*Client, error) {
	return NewClient(ClientParams{
		BaseURL:      cfg.BaseURL(),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Timeout:      cfg.RequestTimeout,
		MaxRetries:   cfg.MaxRetries,
		Logger:       logg,
		Observer:     observer,
	})
}

type wireAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type wireSubmitItem struct {
	SenderItemID string     `json:"sender_item_id"`
	Receiver     string     `json:"receiver"`
	Amount       wireAmount `json:"amount"`
	Note         string     `json:"note,omitempty"`
}

type wireSubmitRequest struct {
	SenderBatchID string           `json:"sender_batch_id"`
	Note          string           `json:"note,omitempty"`
	Items         []wireSubmitItem `json:"items"`
}

type wireSubmitResponse struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

type wireItemStatus struct {
	ItemID       string     `json:"item_id"`
	SenderItemID string     `json:"sender_item_id"`
	Status       string     `json:"status"`
	Receiver     string     `json:"receiver"`
	Amount       wireAmount `json:"amount"`
	Error        string     `json:"error,omitempty"`
}

type wireBatchStatus struct {
	BatchID       string           `json:"batch_id"`
	SenderBatchID string           `json:"sender_batch_id"`
	Status        string           `json:"status"`
	Items         []wireItemStatus `json:"items"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) SubmitBatch(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if req.SenderBatchID == "" {
		return nil, errors.New("sender batch id is required")
	}
	if len(req.Items) == 0 {
		return nil, errors.New("batch has no items")
	}
	body := wireSubmitRequest{SenderBatchID: req.SenderBatchID, Note: req.Note}
	for _, item := range req.Items {
		currency := item.Currency
		if currency == "" {
			currency = req.Currency
		}
		body.Items = append(body.Items, wireSubmitItem{
			SenderItemID: item.SenderItemID,
			Receiver:     item.Receiver,
			Amount:       wireAmount{Value: money.FormatCents(item.AmountCents), Currency: currency},
			Note:         item.Note,
		})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode submit request: %w", err)
	}

	var out wireSubmitResponse
	if err := c.do(ctx, opSubmitBatch, http.MethodPost, "/v1/payouts/batches", payload, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.BatchID) == "" {
		return nil, &Error{StatusCode: http.StatusOK, Code: "MISSING_BATCH_ID", Message: "provider accepted the batch without an id"}
	}
	return &SubmitResponse{ExternalBatchID: out.BatchID, Status: out.Status}, nil
}

func (c *Client) GetBatch(ctx context.Context, externalBatchID string) (*BatchStatus, error) {
	if strings.TrimSpace(externalBatchID) == "" {
		return nil, errors.New("external batch id is required")
	}
	var out wireBatchStatus
	path := "/v1/payouts/batches/" + url.PathEscape(externalBatchID)
	if err := c.do(ctx, opGetBatch, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	status := &BatchStatus{
		ExternalBatchID: out.BatchID,
		SenderBatchID:   out.SenderBatchID,
		Status:          out.Status,
	}
	for _, item := range out.Items {
		cents, err := money.ParseCents(item.Amount.Value)
		if err != nil {
			// an unreadable amount only weakens receiver+amount matching
			cents = 0
		}
		status.Items = append(status.Items, ItemStatus{
			ExternalItemID: item.ItemID,
			SenderItemID:   item.SenderItemID,
			Status:         item.Status,
			Receiver:       item.Receiver,
			AmountCents:    cents,
			Currency:       item.Amount.Currency,
			Error:          item.Error,
		})
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	backoff := retry.NewExponential(c.retryBase)
	backoff = retry.WithCappedDuration(maxRetryDelay, backoff)
	backoff = retry.WithMaxRetries(c.maxRetries, backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && c.observer != nil {
			c.observer.IncProviderRetry(op)
		}
		err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		var perr *Error
		if errors.As(err, &perr) && !perr.Retryable {
			return err
		}
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"operation": op,
			"attempt":   attempt,
			"error":     err.Error(),
		}), "payout provider call failed")
		return retry.RetryableError(err)
	})
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL.String() + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, endpoint, reader)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerClientID, c.clientID)
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, Sign(c.secret, requestSigningPayload(ts, method, path, body)))

	resp, err := c.http.Do(req)
	if err != nil {
		// transport errors and per-attempt timeouts are transient
		return &Error{Code: "TRANSPORT", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		perr := &Error{StatusCode: resp.StatusCode, Retryable: retryableStatus(resp.StatusCode)}
		var we wireError
		if json.Unmarshal(raw, &we) == nil && (we.Code != "" || we.Message != "") {
			perr.Code = we.Code
			perr.Message = we.Message
		} else {
			perr.Message = strings.TrimSpace(string(raw))
		}
		if perr.Message == "" {
			perr.Message = http.StatusText(resp.StatusCode)
		}
		return perr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{StatusCode: resp.StatusCode, Code: "DECODE", Message: err.Error()}
	}
	return nil
}
