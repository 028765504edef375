// Package imagegen builds AI image URLs from text prompts for the case
// designer.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/casca-store/storefront/internal/circuitbreaker"
	"github.com/casca-store/storefront/internal/httpx"
	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
)

const maxSeed = 1000000

var ErrPromptRequired = errors.New("prompt is required")

type Generator struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	seed       func() int
	logger     *logrus.Logger
}

func BreakerConfig() circuitbreaker.Config {
	return circuitbreaker.Config{
		Name:        "imagegen",
		MaxFailures: 3,
		Timeout:     20 * time.Second,
		MaxRequests: 1,
	}
}

func NewGenerator(baseURL string, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *Generator {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Generator{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		breaker: breaker,
		seed:    func() int { return rand.Intn(maxSeed) + 1 },
		logger:  logger,
	}
}

// URL returns the generator address for prompt at the default case size.
func (g *Generator) URL(prompt string, seed int) string {
	q := url.Values{}
	q.Set("seed", strconv.Itoa(seed))
	q.Set("width", strconv.Itoa(models.DefaultConfigurationWidth))
	q.Set("height", strconv.Itoa(models.DefaultConfigurationHeight))
	q.Set("nologo", "True")
	return g.baseURL + url.PathEscape(prompt) + "?" + q.Encode()
}

// Generate picks a random seed and requests the image once so it is
// rendered by the time the browser asks for it.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrPromptRequired
	}
	imageURL := g.URL(prompt, g.seed())

	start := time.Now()
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := g.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach image generator: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			return fmt.Errorf("image generator returned error status: %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	g.logger.WithFields(logrus.Fields{
		"prompt_length": len(prompt),
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Info("Image generated")
	return imageURL, nil
}

type Handler struct {
	generator *Generator
	limiter   *IPLimiter
	logger    *logrus.Logger
}

func NewHandler(generator *Generator, limiter *IPLimiter, logger *logrus.Logger) *Handler {
	return &Handler{generator: generator, limiter: limiter, logger: logger}
}

type imageRequest struct {
	Prompt string `json:"prompt" validate:"required,max=1000"`
}

// GenerateImage handles POST /api/image.
func (h *Handler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r)
	if !h.limiter.Allow(ip) {
		h.logger.WithField("client_ip", ip).Warn("Image generation rate limit exceeded")
		httpx.RespondWithError(w, http.StatusTooManyRequests, "Too many requests, try again shortly")
		return
	}

	var req imageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	imageURL, err := h.generator.Generate(r.Context(), req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, ErrPromptRequired):
			httpx.RespondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
			httpx.RespondWithError(w, http.StatusServiceUnavailable, "Image generator unavailable, try again later")
		default:
			h.logger.WithError(err).Error("Failed to generate image")
			httpx.RespondWithError(w, http.StatusBadGateway, "Failed to generate image")
		}
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]string{"url": imageURL})
}
