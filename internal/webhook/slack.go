package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackTransport posts messages to a Slack incoming-webhook URL. The
// URL itself selects the channel; the target of a webhook action is
// ignored for this kind.
type SlackTransport struct {
	url        string
	httpClient *http.Client
}

func NewSlackTransport(url string) *SlackTransport {
	return &SlackTransport{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *SlackTransport) Kind() string { return "slack" }

func (t *SlackTransport) Send(_ string, message string) error {
	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	resp, err := t.httpClient.Post(t.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
