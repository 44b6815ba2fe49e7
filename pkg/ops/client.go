package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

func newClient() *resty.Client {
	return resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "HeatWatch/1.0")
}

// deliver posts an encoded payload. Any reply outside 2xx is an error.
func deliver(ctx context.Context, client *resty.Client, target, url string, body []byte, headers map[string]string) error {
	resp, err := client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		Post(url)
	if err != nil {
		return fmt.Errorf("send %s event: %w", target, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%s returned status %d", target, resp.StatusCode())
	}
	return nil
}

func occurred(e Event) time.Time {
	if e.OccurredAt.IsZero() {
		return time.Now()
	}
	return e.OccurredAt
}
