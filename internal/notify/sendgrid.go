package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

var errNoRecipient = errors.New("notification has no email")

// SendGrid emails the notification to the student.
type SendGrid struct {
	key  string
	from *sgmail.Email
}

func NewSendGrid(apiKey, fromAddress string) *SendGrid {
	return &SendGrid{key: apiKey, from: sgmail.NewEmail("Attendance", fromAddress)}
}

func (s *SendGrid) Notify(ctx context.Context, n Notification) error {
	if n.Email == "" {
		return errNoRecipient
	}
	msg := sgmail.NewSingleEmail(s.from, n.Title, sgmail.NewEmail("", n.Email), n.Body, "<p>"+html.EscapeString(n.Body)+"</p>")

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(msg)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return err
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
