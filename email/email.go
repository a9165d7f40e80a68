// Package email sends transactional email for the share confirmation flow.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Message is a templated email.
type Message struct {
	To       string
	Template string
	Data     map[string]string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

const postmarkURL = "https://api.postmarkapp.com/email/withTemplate"

// Postmark is a Mailer backed by the Postmark template API.
type Postmark struct {
	token      string
	sender     string
	senderName string
	url        string
	client     *http.Client
}

var _ Mailer = (*Postmark)(nil)

func NewPostmark(token, sender, senderName string) *Postmark {
	return &Postmark{
		token:      token,
		sender:     sender,
		senderName: senderName,
		url:        postmarkURL,
		client:     http.DefaultClient,
	}
}

type postmarkRequest struct {
	From          string            `json:"From"`
	To            string            `json:"To"`
	TemplateAlias string            `json:"TemplateAlias"`
	TemplateModel map[string]string `json:"TemplateModel"`
}

func (p *Postmark) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(postmarkRequest{
		From:          fmt.Sprintf("%s <%s>", p.senderName, p.sender),
		To:            msg.To,
		TemplateAlias: msg.Template,
		TemplateModel: msg.Data,
	})
	if err != nil {
		return fmt.Errorf("encoding email request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.token)

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("email send failed: status %d: %s", res.StatusCode, detail)
	}
	return nil
}
