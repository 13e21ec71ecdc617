package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gigview/offline-cache/queue"
)

// FavoritePayload is the payload carried by favorite and unfavorite actions.
type FavoritePayload struct {
	EventID string `json:"event_id"`
}

// CommentPayload is the payload carried by comment actions.
type CommentPayload struct {
	EventID string `json:"event_id"`
	Text    string `json:"text"`
}

// RegisterReplayHandlers binds the offline action kinds to their API
// endpoints on the given queue. Adding an offline-capable mutation means
// adding a payload type and a registration here.
func RegisterReplayHandlers(q *queue.Queue, client *Client) {
	q.Register(queue.KindFavorite, func(ctx context.Context, a queue.Action) error {
		var p FavoritePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return fmt.Errorf("decoding favorite payload: %w", err)
		}
		_, err := client.Post(ctx, "/favorites", p)
		return err
	})

	q.Register(queue.KindUnfavorite, func(ctx context.Context, a queue.Action) error {
		var p FavoritePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return fmt.Errorf("decoding unfavorite payload: %w", err)
		}
		_, err := client.Delete(ctx, "/favorites/"+p.EventID)
		return err
	})

	q.Register(queue.KindComment, func(ctx context.Context, a queue.Action) error {
		var p CommentPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return fmt.Errorf("decoding comment payload: %w", err)
		}
		_, err := client.Post(ctx, "/comments", p)
		return err
	})
}
