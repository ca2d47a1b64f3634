package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tabwatch/tabwatch/errors"
	"github.com/tabwatch/tabwatch/internal/httpclient"
	"github.com/tabwatch/tabwatch/internal/retry"
)

// Config controls the delivery endpoint and retry policy.
type Config struct {
	APIURL        string        // base URL of the bot API, including the token
	ChatID        string        // default chat when the watch has none
	Timeout       time.Duration // per-request timeout
	Retries       int           // retries after the first attempt
	Backoff       time.Duration // multiplicative backoff base between attempts
	RatePerMinute int           // outbound request cap
}

// Client sends captured screenshots to a Telegram-style bot API. Requests
// are rate limited and retried with growing backoff; only after every
// attempt fails does delivery count as failed.
type Client struct {
	cfg     Config
	http    *httpclient.SaferClient
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewClient creates a delivery client with SSRF-protected transport.
func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 20
	}

	return &Client{
		cfg:     cfg,
		http:    httpclient.NewSaferClient(cfg.Timeout),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:  log,
	}
}

// NewClientWithHTTP creates a client over a caller-supplied HTTP client.
// Used by tests to reach httptest servers.
func NewClientWithHTTP(cfg Config, hc *httpclient.SaferClient, log *zap.SugaredLogger) *Client {
	c := NewClient(cfg, log)
	c.http = hc
	return c
}

// SendPhoto delivers a PNG capture with a caption. Exhausting all retries
// returns ErrDeliveryFailed wrapping the last attempt's error.
func (c *Client) SendPhoto(ctx context.Context, chatID string, photo []byte, caption string) error {
	if chatID == "" {
		chatID = c.cfg.ChatID
	}
	if chatID == "" {
		return errors.Wrap(errors.ErrDeliveryFailed, "no chat configured for delivery")
	}

	attempt := 0
	err := retry.Do(ctx, c.cfg.Retries, retry.Multiplicative(c.cfg.Backoff), func() error {
		attempt++
		if err := c.postPhoto(ctx, chatID, photo, caption); err != nil {
			c.logger.Warnw("Delivery attempt failed",
				"chat_id", chatID,
				"attempt", attempt,
				"bytes", len(photo),
				"error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(errors.ErrDeliveryFailed, "after %d attempts: %v", attempt, err)
	}

	c.logger.Infow("Capture delivered",
		"chat_id", chatID,
		"bytes", len(photo),
		"attempts", attempt)
	return nil
}

// SendDocument delivers an arbitrary file attachment, such as an exported
// spreadsheet, under the same retry contract as SendPhoto.
func (c *Client) SendDocument(ctx context.Context, chatID, filename string, data []byte, caption string) error {
	if chatID == "" {
		chatID = c.cfg.ChatID
	}
	if chatID == "" {
		return errors.Wrap(errors.ErrDeliveryFailed, "no chat configured for delivery")
	}

	attempt := 0
	err := retry.Do(ctx, c.cfg.Retries, retry.Multiplicative(c.cfg.Backoff), func() error {
		attempt++
		if err := c.postDocument(ctx, chatID, filename, data, caption); err != nil {
			c.logger.Warnw("Document delivery attempt failed",
				"chat_id", chatID,
				"attempt", attempt,
				"filename", filename,
				"error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(errors.ErrDeliveryFailed, "after %d attempts: %v", attempt, err)
	}

	c.logger.Infow("Document delivered",
		"chat_id", chatID,
		"filename", filename,
		"attempts", attempt)
	return nil
}

// NotifyFailure sends a plain-text failure notice. Best effort: it is
// never retried, and its own failure is only logged. A watch that failed
// to deliver must not fail again trying to say so.
func (c *Client) NotifyFailure(ctx context.Context, chatID, message string) {
	if chatID == "" {
		chatID = c.cfg.ChatID
	}
	if chatID == "" {
		return
	}

	if err := c.postMessage(ctx, chatID, message); err != nil {
		c.logger.Warnw("Failed to send failure notification",
			"chat_id", chatID,
			"error", err)
	}
}

func (c *Client) postPhoto(ctx context.Context, chatID string, photo []byte, caption string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("chat_id", chatID); err != nil {
		return errors.Wrap(err, "failed to write chat_id field")
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return errors.Wrap(err, "failed to write caption field")
		}
	}

	part, err := w.CreateFormFile("photo", "capture.png")
	if err != nil {
		return errors.Wrap(err, "failed to create photo part")
	}
	if _, err := part.Write(photo); err != nil {
		return errors.Wrap(err, "failed to write photo data")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "failed to finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/sendPhoto", &body)
	if err != nil {
		return errors.Wrap(err, "failed to build sendPhoto request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req)
}

func (c *Client) postDocument(ctx context.Context, chatID, filename string, data []byte, caption string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("chat_id", chatID); err != nil {
		return errors.Wrap(err, "failed to write chat_id field")
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return errors.Wrap(err, "failed to write caption field")
		}
	}

	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return errors.Wrap(err, "failed to create document part")
	}
	if _, err := part.Write(data); err != nil {
		return errors.Wrap(err, "failed to write document data")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "failed to finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/sendDocument", &body)
	if err != nil {
		return errors.Wrap(err, "failed to build sendDocument request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req)
}

func (c *Client) postMessage(ctx context.Context, chatID, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/sendMessage",
		strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "failed to build sendMessage request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("delivery endpoint returned %s: %s",
			resp.Status, strings.TrimSpace(string(body)))
	}

	// A 2xx can still carry an API-level rejection
	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &apiResp); err == nil && len(body) > 0 && !apiResp.OK {
		return errors.WithDetail(
			errors.Newf("delivery endpoint rejected request: %s", apiResp.Description),
			apiResp.Description)
	}
	return nil
}

// FailureMessage formats the standard failure notice for a watch.
func FailureMessage(tabID string, attempts int, cause error) string {
	return fmt.Sprintf("Watch for tab %s failed after %d attempts: %v", tabID, attempts, cause)
}
