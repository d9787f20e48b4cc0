// Package source calls the external banking API that returns one day of
// transactions for a proccode. Requests are signed with the SHA-256 digest
// of their exact JSON body.
package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/pkg/errors"
	"tax-reconciliation-service/pkg/logger"

	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 512

// Source fetches one day of records. Implemented by *Client and by fakes in
// tests.
type Source interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// Config holds client settings
type Config struct {
	BaseURL       string        `json:"base_url"`
	Timeout       time.Duration `json:"timeout"`
	RatePerSecond float64       `json:"rate_per_second"`
	Burst         int           `json:"burst"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RatePerSecond: 5,
		Burst:         1,
	}
}

// Validate checks the configuration. A zero rate disables limiting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "source.base_url", "", nil)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "source.base_url", c.BaseURL, err)
	}
	if c.Timeout <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "source.timeout", c.Timeout, nil)
	}
	if c.RatePerSecond < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "source.rate_per_second", c.RatePerSecond, nil)
	}
	if c.RatePerSecond > 0 && c.Burst < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "source.burst", c.Burst, nil)
	}
	return nil
}

// Request identifies one day of one proccode. Source doubles as the psw
// credential of the banking API.
type Request struct {
	Proccode  string
	TransDate time.Time
	Source    string
}

// Validate checks that the request can be sent
func (r Request) Validate() error {
	if strings.TrimSpace(r.Proccode) == "" {
		return errors.ValidationError(errors.CodeMissingField, "proccode", r.Proccode, nil)
	}
	if r.TransDate.IsZero() {
		return errors.ValidationError(errors.CodeInvalidDate, "transdate", "", nil)
	}
	return nil
}

// wireRequest fixes the key order the remote side uses to recompute the
// signature.
type wireRequest struct {
	Proccode  string `json:"proccode"`
	TransDate string `json:"transdate"`
	Psw       string `json:"psw"`
}

// Body returns the exact JSON bytes sent for r.
func (r Request) Body() ([]byte, error) {
	return json.Marshal(wireRequest{
		Proccode:  r.Proccode,
		TransDate: r.TransDate.Format(models.DayLayout),
		Psw:       r.Source,
	})
}

// Sign returns the hex SHA-256 digest of body.
func Sign(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Response is a decoded banking API answer.
type Response struct {
	Payload    models.Payload
	StatusCode int
	Duration   time.Duration
}

// Client is the HTTP implementation of Source. It never retries.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logger.Logger
}

// NewClient creates a client after validating config
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
		logger:     logger.WithComponent("source"),
	}, nil
}

// Fetch posts req and decodes the JSON answer. Numbers are kept as
// json.Number so amounts stay exact.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	endpoint := c.config.BaseURL
	log := c.logger.WithFields(logger.Fields{
		"proccode":  req.Proccode,
		"transdate": req.TransDate.Format(models.DayLayout),
	})

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.SourceError(errors.CodeTimeout, endpoint, err)
	}

	body, err := req.Body()
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "encode source request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.SourceError(errors.CodeConnectionFailed, endpoint, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", Sign(body))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.WithError(err).Warn("Source request failed")
		return nil, classify(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.WithField("status", resp.StatusCode).Warn("Source answered with an error status")
		return nil, errors.SourceError(errors.CodeServiceUnavailable, endpoint,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))).
			WithContext("status", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var payload models.Payload
	if err := dec.Decode(&payload); err != nil {
		if isTimeout(err) {
			return nil, errors.SourceError(errors.CodeTimeout, endpoint, err)
		}
		return nil, errors.SourceError(errors.CodeInvalidResponse, endpoint, err)
	}
	if payload == nil {
		return nil, errors.SourceError(errors.CodeInvalidResponse, endpoint, fmt.Errorf("response is not a JSON object"))
	}

	duration := time.Since(start)
	log.WithFields(logger.Fields{"status": resp.StatusCode, "duration": duration}).Debug("Source request completed")

	return &Response{Payload: payload, StatusCode: resp.StatusCode, Duration: duration}, nil
}

func classify(endpoint string, err error) error {
	if isTimeout(err) {
		return errors.SourceError(errors.CodeTimeout, endpoint, err)
	}
	return errors.SourceError(errors.CodeConnectionFailed, endpoint, err)
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
