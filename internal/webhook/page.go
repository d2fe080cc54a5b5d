package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/skyops/rulescope/pkg/config"
)

// PageTransport sends pages through a JSON pager gateway. The target
// of a webhook action names a recipient, resolved to a gateway id via
// the configured recipient map (case-insensitive).
type PageTransport struct {
	url        string
	user       string
	password   string
	recipients map[string]string
	httpClient *http.Client
}

func NewPageTransport(cfg config.WebhookConfig) *PageTransport {
	recipients := make(map[string]string, len(cfg.PageRecipients))
	for name, id := range cfg.PageRecipients {
		recipients[strings.ToLower(name)] = id
	}
	return &PageTransport{
		url:        cfg.PageURL,
		user:       cfg.PageUser,
		password:   cfg.PagePassword,
		recipients: recipients,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *PageTransport) Kind() string { return "page" }

// pageRequest is the gateway's expected payload shape.
type pageRequest struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	SendPage pageContent `json:"sendpage"`
}

type pageContent struct {
	Recipients pageRecipients `json:"recipients"`
	Message    string         `json:"message"`
}

type pageRecipients struct {
	People []string `json:"people"`
}

func (t *PageTransport) Send(target, message string) error {
	id, ok := t.recipients[strings.ToLower(target)]
	if !ok {
		return fmt.Errorf("page recipient %q not configured", target)
	}

	body := pageRequest{
		Username: t.user,
		Password: t.password,
		SendPage: pageContent{
			Recipients: pageRecipients{People: []string{id}},
			Message:    message,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal page payload: %w", err)
	}

	resp, err := t.httpClient.Post(t.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post to pager gateway: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode pager response: %w", err)
	}
	if !strings.Contains(result.Status, "success") {
		return fmt.Errorf("pager gateway status %q", result.Status)
	}
	return nil
}
