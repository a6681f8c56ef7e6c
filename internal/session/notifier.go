package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"discussion-service/internal/chatproto"
)

// HTTPNotifier reports sent messages to the discussion service so the other party gets an
// unread flag.
type HTTPNotifier struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPNotifier posts to baseURL/discussions/new-message with the given bearer token.
func NewHTTPNotifier(baseURL, token string, httpClient *http.Client) *HTTPNotifier {
	if httpClient == nil {
		httpClient = chatproto.NewHTTPClient()
	}
	return &HTTPNotifier{baseURL: strings.TrimRight(baseURL, "/"), token: token, httpClient: httpClient}
}

func (n *HTTPNotifier) NotifyNewMessage(ctx context.Context, roomID, senderHandle string) error {
	payload, err := json.Marshal(map[string]string{"room_id": roomID, "sender": senderHandle})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/discussions/new-message", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	res, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("new-message notification returned status %d", res.StatusCode)
	}
	return nil
}
