package builder

import (
	"fmt"
	"net/url"

	"digest-notifier/pkg/digest"
)

// Default deep-link base when no client base URL is configured.
const matrixToBase = "https://matrix.to/#"

// roomLink generates a link to open a room in the web client.
func (b *Builder) roomLink(roomID string) string {
	if b.cfg.ClientBaseURL != "" {
		return fmt.Sprintf("%s/#/room/%s", b.cfg.ClientBaseURL, roomID)
	}
	return fmt.Sprintf("%s/%s", matrixToBase, roomID)
}

// notifLink generates a link to open a notification's event in the web
// client.
func (b *Builder) notifLink(notif *digest.PushAction) string {
	if b.cfg.ClientBaseURL != "" {
		return fmt.Sprintf("%s/#/room/%s/%s", b.cfg.ClientBaseURL, notif.RoomID, notif.EventID)
	}
	return fmt.Sprintf("%s/%s/%s", matrixToBase, notif.RoomID, notif.EventID)
}

// unsubscribeLink generates a link to stop email notifications for this
// pusher.
func (b *Builder) unsubscribeLink(userID, appID, email string) string {
	params := url.Values{}
	params.Set("access_token", b.tokens.UnsubscribeToken(userID, appID, email))
	params.Set("app_id", appID)
	params.Set("pushkey", email)
	return fmt.Sprintf("%s/unsubscribe?%s", b.cfg.BaseURL, params.Encode())
}
