package notify

import (
	"context"
	"fmt"
	"net/http"

	"custodial-wallet-go/internal/httpclient"
	"custodial-wallet-go/internal/models"

	"go.uber.org/zap"
)

const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

// DeviceSource is the slice of the store the pusher needs.
type DeviceSource interface {
	GetUserDevices(ctx context.Context, userId string) ([]models.Device, error)
	DeleteDevice(ctx context.Context, token string) error
}

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	Id      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoResponse struct {
	Data []expoTicket `json:"data"`
}

// ExpoPusher sends push notifications to a user's registered devices.
type ExpoPusher struct {
	client      *http.Client
	url         string
	accessToken string
	devices     DeviceSource
}

func NewExpoPusher(client *http.Client, url, accessToken string, devices DeviceSource) *ExpoPusher {
	if url == "" {
		url = DefaultExpoURL
	}
	return &ExpoPusher{client: client, url: url, accessToken: accessToken, devices: devices}
}

func (p *ExpoPusher) Notify(ctx context.Context, userID string, event Event) error {
	devices, err := p.devices.GetUserDevices(ctx, userID)
	if err != nil {
		return fmt.Errorf("unable to load devices: %w", err)
	}
	if len(devices) == 0 {
		return nil
	}

	messages := make([]expoMessage, len(devices))
	for i, device := range devices {
		messages[i] = expoMessage{
			To:    device.Token,
			Title: event.Title,
			Body:  event.Body,
			Sound: "default",
			Data:  withType(event),
		}
	}

	headers := map[string]string{}
	if p.accessToken != "" {
		headers["Authorization"] = "Bearer " + p.accessToken
	}

	var resp expoResponse
	err = httpclient.DoJSON(ctx, p.client, httpclient.Request{
		Provider: "expo",
		Method:   http.MethodPost,
		URL:      p.url,
		Headers:  headers,
		Body:     messages,
	}, &resp)
	if err != nil {
		return err
	}

	for i, ticket := range resp.Data {
		if ticket.Status != "error" || i >= len(devices) {
			continue
		}
		zap.L().Warn("Push ticket rejected",
			zap.String("user_id", userID),
			zap.String("error", ticket.Details.Error),
			zap.String("message", ticket.Message))
		if ticket.Details.Error == "DeviceNotRegistered" {
			if err := p.devices.DeleteDevice(ctx, devices[i].Token); err != nil {
				zap.L().Warn("Failed to prune device", zap.Error(err))
			}
		}
	}
	return nil
}

func withType(event Event) map[string]string {
	data := make(map[string]string, len(event.Data)+1)
	for k, v := range event.Data {
		data[k] = v
	}
	data["type"] = event.Type
	return data
}
