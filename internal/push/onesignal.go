package push

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const oneSignalURL = "https://onesignal.com/api/v1"

type oneSignalRequest struct {
	AppID            string            `json:"app_id"`
	IncludePlayerIDs []string          `json:"include_player_ids"`
	Headings         map[string]string `json:"headings"`
	Contents         map[string]string `json:"contents"`
	Data             map[string]string `json:"data,omitempty"`
}

type oneSignalResponse struct {
	ID         string `json:"id"`
	Recipients int    `json:"recipients"`
	Errors     struct {
		InvalidPlayerIDs []string `json:"invalid_player_ids"`
	} `json:"errors"`
}

// OneSignalGateway is the fallback transport used when the primary FCM pass
// fails wholesale.
type OneSignalGateway struct {
	client *resty.Client
	appID  string
	log    *zap.Logger
}

// NewOneSignalGateway creates a OneSignal gateway.
func NewOneSignalGateway(appID, apiKey string, log *zap.Logger) *OneSignalGateway {
	client := resty.New().
		SetBaseURL(oneSignalURL).
		SetTimeout(20 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Basic "+apiKey)

	return &OneSignalGateway{client: client, appID: appID, log: log}
}

func (g *OneSignalGateway) Name() string { return "onesignal" }

func (g *OneSignalGateway) Send(ctx context.Context, tokens []string, msg Message) (Result, error) {
	req := oneSignalRequest{
		AppID:            g.appID,
		IncludePlayerIDs: tokens,
		Headings:         map[string]string{"en": msg.Title},
		Contents:         map[string]string{"en": msg.Body},
		Data:             msg.Data,
	}

	var body oneSignalResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&body).
		Post("/notifications")
	if err != nil {
		return Result{}, fmt.Errorf("onesignal send failed: %w", err)
	}
	if resp.IsError() {
		return Result{}, fmt.Errorf("onesignal send failed: status %d", resp.StatusCode())
	}

	result := Result{}
	invalid := make(map[string]struct{}, len(body.Errors.InvalidPlayerIDs))
	for _, id := range body.Errors.InvalidPlayerIDs {
		invalid[id] = struct{}{}
	}
	for _, token := range tokens {
		if _, dead := invalid[token]; dead {
			result.Failures = append(result.Failures, TokenFailure{
				Token:  token,
				Class:  FailurePermanent,
				Reason: "invalid_player_id",
			})
			continue
		}
		result.SuccessCount++
	}

	g.log.Debug("onesignal pass",
		zap.Int("tokens", len(tokens)),
		zap.Int("success", result.SuccessCount))
	return result, nil
}
