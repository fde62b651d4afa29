package push

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const fcmSendURL = "https://fcm.googleapis.com/fcm/send"

// fcmRequest is the legacy FCM HTTP multicast request body.
type fcmRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Priority        string            `json:"priority"`
	Notification    fcmNotification   `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Success int         `json:"success"`
	Failure int         `json:"failure"`
	Results []fcmResult `json:"results"`
}

type fcmResult struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// FCMGateway sends multicast pushes through the Firebase Cloud Messaging
// HTTP endpoint.
type FCMGateway struct {
	client *resty.Client
	log    *zap.Logger
}

// NewFCMGateway creates an FCM gateway authorized by the server key.
// Transport retries stay off here; the dispatcher owns the retry schedule.
func NewFCMGateway(serverKey string, log *zap.Logger) *FCMGateway {
	client := resty.New().
		SetBaseURL(fcmSendURL).
		SetTimeout(20 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "key="+serverKey)

	return &FCMGateway{client: client, log: log}
}

func (g *FCMGateway) Name() string { return "fcm" }

// Send delivers one multicast pass and maps the provider's per-token error
// codes onto the transient/permanent failure classes.
func (g *FCMGateway) Send(ctx context.Context, tokens []string, msg Message) (Result, error) {
	req := fcmRequest{
		RegistrationIDs: tokens,
		Priority:        "high",
		Notification:    fcmNotification{Title: msg.Title, Body: msg.Body},
		Data:            msg.Data,
	}

	var body fcmResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&body).
		Post("")
	if err != nil {
		return Result{}, fmt.Errorf("fcm send failed: %w", err)
	}
	if resp.IsError() {
		return Result{}, fmt.Errorf("fcm send failed: status %d", resp.StatusCode())
	}
	if len(body.Results) != len(tokens) {
		return Result{}, fmt.Errorf("fcm returned %d results for %d tokens", len(body.Results), len(tokens))
	}

	result := Result{SuccessCount: body.Success}
	for i, r := range body.Results {
		if r.Error == "" {
			continue
		}
		result.Failures = append(result.Failures, TokenFailure{
			Token:  tokens[i],
			Class:  classifyFCMError(r.Error),
			Reason: r.Error,
		})
	}

	g.log.Debug("fcm multicast pass",
		zap.Int("tokens", len(tokens)),
		zap.Int("success", body.Success),
		zap.Int("failure", body.Failure))
	return result, nil
}

// classifyFCMError maps FCM's error taxonomy onto the retry classes. The
// table is provider-specific; a different push provider needs its own.
func classifyFCMError(code string) FailureClass {
	switch code {
	case "Unavailable", "InternalServerError":
		return FailureTransient
	case "NotRegistered", "InvalidRegistration", "MismatchSenderId", "MissingRegistration":
		return FailurePermanent
	}
	// Unknown codes are treated as permanent so they are never retried
	// indefinitely against a token that will keep failing.
	return FailurePermanent
}
