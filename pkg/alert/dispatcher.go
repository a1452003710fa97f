package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LogDispatcher writes alerts to the structured log at the level matching
// their severity.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, alert Alert) {
	logger := d.logger.Sugar()
	fields := []interface{}{
		"type", alert.Type,
		"validator", alert.Validator,
		"network", alert.Network,
	}
	switch alert.Severity {
	case SeverityCritical:
		logger.Errorw(alert.Message, fields...)
	case SeverityWarning:
		logger.Warnw(alert.Message, fields...)
	default:
		logger.Infow(alert.Message, fields...)
	}
}

// WebhookDispatcher POSTs each alert as JSON to a configured endpoint.
// Delivery is best-effort.
type WebhookDispatcher struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewWebhookDispatcher(url string, timeout time.Duration, logger *zap.Logger) *WebhookDispatcher {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDispatcher{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, alert Alert) {
	body, err := json.Marshal(alert)
	if err != nil {
		d.logger.Sugar().Warnw("could not encode alert", "error", err)
		return
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		d.logger.Sugar().Warnw("could not build alert request", "error", err)
		return
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := d.client.Do(request)
	if err != nil {
		d.logger.Sugar().Warnw("could not deliver alert", "url", d.url, "error", err)
		return
	}
	defer response.Body.Close()
	if response.StatusCode >= 300 {
		d.logger.Sugar().Warnw("alert endpoint rejected delivery",
			"url", d.url, "status", response.StatusCode)
	}
}

// MultiDispatcher fans one alert out to several sinks.
type MultiDispatcher []Dispatcher

func (d MultiDispatcher) Dispatch(ctx context.Context, alert Alert) {
	for _, dispatcher := range d {
		dispatcher.Dispatch(ctx, alert)
	}
}
