package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	shared "github.com/sitebridge/server/pkg"
)

// FCMAdapter delivers attention pushes, mainly the "extra step needed"
// prompt when a site refresh stalls on user interaction. Registration
// tokens live on the user document and dead ones are pruned after a send.
type FCMAdapter struct {
	client *messaging.Client
	fs     *firestore.Client
	logger *slog.Logger
}

func NewFCMAdapter(ctx context.Context, app *firebase.App, fs *firestore.Client, logger *slog.Logger) (*FCMAdapter, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating messaging client: %w", err)
	}
	return &FCMAdapter{client: client, fs: fs, logger: logger}, nil
}

func (a *FCMAdapter) SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error {
	if len(tokens) == 0 {
		a.logger.Debug("No registered devices, skipping push", "user_id", userID)
		return nil
	}

	a.logger.Info("Sending push notification", "user_id", userID, "token_count", len(tokens), "title", title)

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	response, err := a.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("sending multicast message: %w", err)
	}

	if response.FailureCount > 0 {
		a.logger.Warn("Some pushes failed to send",
			"user_id", userID,
			"failure_count", response.FailureCount,
			"success_count", response.SuccessCount,
		)
		a.pruneDeadTokens(ctx, userID, tokens, response.Responses)
	}

	return nil
}

// pruneDeadTokens drops tokens FCM reports as no longer registered so the
// next push does not keep retrying uninstalled devices.
func (a *FCMAdapter) pruneDeadTokens(ctx context.Context, userID string, tokens []string, responses []*messaging.SendResponse) {
	var dead []interface{}
	for i, resp := range responses {
		if resp.Error != nil && messaging.IsRegistrationTokenNotRegistered(resp.Error) {
			dead = append(dead, tokens[i])
		}
	}

	if len(dead) == 0 {
		return
	}

	a.logger.Info("Removing dead FCM tokens", "user_id", userID, "count", len(dead))
	_, err := a.fs.Collection(shared.CollectionUsers).Doc(userID).Update(ctx, []firestore.Update{
		{Path: "fcm_tokens", Value: firestore.ArrayRemove(dead...)},
	})
	if err != nil {
		a.logger.Error("Failed to remove dead FCM tokens", "user_id", userID, "error", err)
	}
}
