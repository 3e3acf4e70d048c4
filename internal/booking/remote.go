package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/autoservice-payments/internal"
)

const defaultRemoteTimeout = 10 * time.Second

// RemoteCompleter notifies an external booking service over HTTP.
type RemoteCompleter struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewRemoteCompleter(baseURL string, timeout time.Duration, logger *slog.Logger) *RemoteCompleter {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &RemoteCompleter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type paymentCompletedRequest struct {
	BookingID int64  `json:"booking_id"`
	ActorID   string `json:"actor_id"`
}

func (c *RemoteCompleter) MarkBookingPaymentCompleted(ctx context.Context, bookingID int64, actorID string) error {
	url := fmt.Sprintf("%s/internal/bookings/%d/payment-completed", c.baseURL, bookingID)

	body, err := json.Marshal(paymentCompletedRequest{BookingID: bookingID, ActorID: actorID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return internal.NewExternalError("booking service unreachable", internal.ErrCodeBookingServiceFailed, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return internal.ErrBookingNotFound
	case resp.StatusCode >= 400:
		c.logger.Warn("booking service rejected payment completion",
			"booking_id", bookingID,
			"status", resp.StatusCode,
			"body", string(respBody))
		return internal.NewExternalError(
			fmt.Sprintf("booking service responded %s", resp.Status),
			internal.ErrCodeBookingServiceFailed, nil)
	}

	c.logger.Debug("booking service acknowledged payment completion", "booking_id", bookingID, "actor", actorID)
	return nil
}
