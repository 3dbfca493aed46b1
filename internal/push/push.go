// ABOUTME: Push fallback dispatcher over the FCM HTTP v1 gateway
// ABOUTME: Best-effort delivery; prunes device registrations only on explicit invalid-token responses

package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/reloapp/relo-server/internal/identity"
)

const (
	fcmScope       = "https://www.googleapis.com/auth/firebase.messaging"
	fcmEndpointFmt = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

	androidChannelID = "relo_channel"
)

// Notification is one formatted push, ready for every target device.
type Notification struct {
	Title string
	// Body is truncated for display before send.
	Body string
	// Data is the flat string-keyed payload clients use to build their own
	// local notification. Every value is already stringified.
	Data map[string]string
	// ImageURL is an optional preview image.
	ImageURL string
	// ConversationID groups notifications client-side.
	ConversationID string
}

// Dispatcher resolves device registrations and sends one gateway request per
// device. It is the one place this subsystem mutates identity-owned data: an
// explicit invalid-registration response removes that device token.
type Dispatcher struct {
	dir      identity.Directory
	client   *http.Client
	endpoint string
	logger   *slog.Logger
}

// NewFCM creates a dispatcher against the real FCM HTTP v1 gateway,
// authenticating with a service-account credentials file.
func NewFCM(ctx context.Context, dir identity.Directory, credentialsJSON []byte, projectID string, logger *slog.Logger) (*Dispatcher, error) {
	conf, err := google.JWTConfigFromJSON(credentialsJSON, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("parsing push credentials: %w", err)
	}

	client := conf.Client(ctx)
	client.Timeout = 10 * time.Second

	return NewWithClient(dir, client, fmt.Sprintf(fcmEndpointFmt, projectID), logger), nil
}

// NewWithClient creates a dispatcher with an explicit HTTP client and
// endpoint. Used by tests and by deployments that front the gateway.
func NewWithClient(dir identity.Directory, client *http.Client, endpoint string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		dir:      dir,
		client:   client,
		endpoint: endpoint,
		logger:   logger.With("component", "push"),
	}
}

// Dispatch sends the notification to every device of every listed user and
// returns the count of accepted sends. Per-device failures are logged and
// skipped; only resolving the recipients can fail the call as a whole.
func (d *Dispatcher) Dispatch(ctx context.Context, userIDs []string, note Notification) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	users, err := d.dir.GetUsers(ctx, userIDs)
	if err != nil {
		return 0, fmt.Errorf("resolving push recipients: %w", err)
	}

	accepted := 0
	for _, user := range users {
		for _, token := range user.DeviceTokens {
			if err := d.sendOne(ctx, user.ID, token, note); err != nil {
				d.logger.Debug("push send failed",
					"user_id", user.ID,
					"error", err)
				continue
			}
			accepted++
		}
	}

	return accepted, nil
}

// fcmRequest is the FCM HTTP v1 request envelope.
type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification *fcmNotification  `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *fcmAndroid       `json:"android,omitempty"`
	APNS         *fcmAPNS          `json:"apns,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type fcmAndroid struct {
	Priority     string              `json:"priority"`
	Notification fcmAndroidNotifData `json:"notification"`
}

type fcmAndroidNotifData struct {
	ChannelID string `json:"channel_id"`
	Sound     string `json:"sound"`
	Image     string `json:"image,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

type fcmAPNS struct {
	Payload fcmAPNSPayload `json:"payload"`
}

type fcmAPNSPayload struct {
	APS fcmAPS `json:"aps"`
}

type fcmAPS struct {
	Sound string `json:"sound"`
	Badge int    `json:"badge"`
}

func (d *Dispatcher) sendOne(ctx context.Context, userID, token string, note Notification) error {
	req := fcmRequest{
		Message: fcmMessage{
			Token: token,
			Data:  note.Data,
			Android: &fcmAndroid{
				Priority: "high",
				Notification: fcmAndroidNotifData{
					ChannelID: androidChannelID,
					Sound:     "default",
					Image:     note.ImageURL,
					Tag:       note.ConversationID,
				},
			},
			APNS: &fcmAPNS{
				Payload: fcmAPNSPayload{APS: fcmAPS{Sound: "default", Badge: 1}},
			},
		},
	}
	// Empty title+body means a data-only push: the client builds its own
	// local notification from the data payload.
	if note.Title != "" || note.Body != "" {
		req.Message.Notification = &fcmNotification{Title: note.Title, Body: note.Body}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if isInvalidRegistration(resp.StatusCode, respBody) {
		// The gateway said this registration is gone for good. Prune it;
		// transient or ambiguous failures must never reach this branch.
		if err := d.dir.RemoveDeviceToken(ctx, userID, token); err != nil {
			d.logger.Warn("failed to prune invalid device token",
				"user_id", userID,
				"error", err)
		} else {
			d.logger.Info("pruned invalid device token", "user_id", userID)
		}
	}

	return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, respBody)
}

// isInvalidRegistration reports whether the gateway explicitly declared the
// device token invalid. HTTP 404 whose body carries FCM's NOT_FOUND or
// UNREGISTERED signal is the definitive "this token no longer exists";
// everything else, a bare 404 from a misrouted endpoint included, is treated
// as transient and never prunes.
func isInvalidRegistration(status int, body []byte) bool {
	if status != http.StatusNotFound {
		return false
	}

	var parsed struct {
		Error struct {
			Status  string `json:"status"`
			Details []struct {
				ErrorCode string `json:"errorCode"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}

	if parsed.Error.Status == "NOT_FOUND" {
		return true
	}
	for _, detail := range parsed.Error.Details {
		if detail.ErrorCode == "UNREGISTERED" {
			return true
		}
	}
	return false
}
