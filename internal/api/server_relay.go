package api

import (
	"context"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tv_relay/internal/relay"
)

func registerRelayHandlers(api huma.API, reg *relay.Registry, clk clock.Clock) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type sessionsOutput struct {
		Body struct {
			Count    int                 `json:"count"`
			Sessions []relay.SessionInfo `json:"sessions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List registered relay sessions", Tags: []string{"Relay"}},
		func(ctx context.Context, input *struct{}) (*sessionsOutput, error) {
			sessions := reg.List()
			out := &sessionsOutput{}
			out.Body.Count = len(sessions)
			out.Body.Sessions = sessions
			return out, nil
		})

	type ingestInput struct {
		Body struct {
			ClientID string `json:"clientId,omitempty" doc:"Target session id. Omit to broadcast to all streaming clients."`
			From     string `json:"from,omitempty" doc:"Sender label shown to recipients."`
			Message  string `json:"message" doc:"Message text to deliver."`
		}
	}
	type ingestOutput struct {
		Body struct {
			Status    string `json:"status"`
			Delivered int    `json:"delivered"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "ingest-message", Method: http.MethodPost, Path: "/api/v1/ingest", Summary: "Deposit a message for relay delivery", Tags: []string{"Relay"}},
		func(ctx context.Context, input *ingestInput) (*ingestOutput, error) {
			from := input.Body.From
			if from == "" {
				from = "ingest"
			}
			evt := relay.NotificationEvent(from, input.Body.Message, clk.Now())

			out := &ingestOutput{}
			if input.Body.ClientID != "" {
				if !reg.Deliver(input.Body.ClientID, evt) {
					return nil, huma.Error404NotFound("client not found: " + input.Body.ClientID)
				}
				out.Body.Status = "delivered"
				out.Body.Delivered = 1
				return out, nil
			}

			out.Body.Status = "broadcast"
			out.Body.Delivered = reg.BroadcastStreaming("", evt)
			return out, nil
		})
}
