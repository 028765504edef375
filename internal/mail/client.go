// Package mail sends transactional email through a Resend-compatible HTTP
// API.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/casca-store/storefront/internal/circuitbreaker"
	"github.com/sirupsen/logrus"
)

type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ErrRejected marks a 4xx answer from the mail API. It does not count
// against the circuit breaker.
var ErrRejected = errors.New("mail API rejected the message")

type ResendClient struct {
	apiKey     string
	baseURL    string
	from       string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

// BreakerConfig is the circuit breaker configuration the client expects.
func BreakerConfig() circuitbreaker.Config {
	return circuitbreaker.Config{
		Name:        "mail",
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		MaxRequests: 1,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, ErrRejected)
		},
	}
}

func NewResendClient(apiKey, baseURL, from string, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *ResendClient {
	return &ResendClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		from:    from,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: breaker,
		logger:  logger,
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendResponse struct {
	ID string `json:"id"`
}

func (c *ResendClient) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("message has no recipients")
	}

	jsonData, err := json.Marshal(sendRequest{
		From:    c.from,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	var id string
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request to mail API: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return fmt.Errorf("mail API returned error status: %d", resp.StatusCode)
		}

		var out sendResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode mail API response: %w", err)
		}
		id = out.ID
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"email_id": id,
		"to":       strings.Join(msg.To, ","),
		"subject":  msg.Subject,
	}).Info("Email sent")
	return nil
}

// NoopSender drops every message. It stands in when no API key is
// configured.
type NoopSender struct {
	logger *logrus.Logger
}

func NewNoopSender(logger *logrus.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

func (s *NoopSender) Send(ctx context.Context, msg Message) error {
	s.logger.WithFields(logrus.Fields{
		"to":      strings.Join(msg.To, ","),
		"subject": msg.Subject,
	}).Warn("RESEND_API_KEY missing, skipping email send")
	return nil
}
