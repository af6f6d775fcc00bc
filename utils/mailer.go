package utils

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"reachflow/config"

	"gopkg.in/gomail.v2"
)

// reviewAlertTemplate is the operator notification sent when a lead is
// flagged for human review.
var reviewAlertTemplate = template.Must(template.New("review_alert").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { color: #2c3e50; border-bottom: 1px solid #eee; padding-bottom: 10px; }
        .content { margin: 20px 0; }
        .reason { font-size: 16px; font-weight: bold; color: #e74c3c; margin: 20px 0; }
        .footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; }
    </style>
</head>
<body>
    <div class="header">
        <h2>Lead flagged for review</h2>
    </div>

    <div class="content">
        <p>Lead #{{.LeadID}} needs manual attention before its sequence can continue.</p>

        <div class="reason">{{.Reason}}</div>

        <p>Channel: {{.Channel}}. Flagged at {{.FlaggedAt}}.</p>
        <p>Open the dashboard to reconcile and force-advance or cancel the lead.</p>
    </div>

    <div class="footer">
        <p>© {{.Year}} Reachflow. All rights reserved.</p>
    </div>
</body>
</html>`))

type reviewAlertData struct {
	Subject   string
	LeadID    uint
	Channel   string
	Reason    string
	FlaggedAt string
	Year      int
}

// SendReviewAlert emails a tenant operator that a lead needs human review.
func SendReviewAlert(to string, leadID uint, channel, reason string) error {
	if config.AppConfig.SMTPHost == "" || to == "" {
		return nil // alerting not configured
	}

	data := reviewAlertData{
		Subject:   fmt.Sprintf("Lead #%d needs review", leadID),
		LeadID:    leadID,
		Channel:   channel,
		Reason:    reason,
		FlaggedAt: time.Now().Format(time.RFC1123),
		Year:      time.Now().Year(),
	}

	var body bytes.Buffer
	if err := reviewAlertTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render review alert: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", config.AppConfig.FromEmail)
	m.SetHeader("To", to)
	m.SetHeader("Subject", data.Subject)
	m.SetBody("text/html", body.String())

	d := gomail.NewDialer(
		config.AppConfig.SMTPHost,
		config.AppConfig.SMTPPort,
		config.AppConfig.SMTPUsername,
		config.AppConfig.SMTPPassword,
	)

	return d.DialAndSend(m)
}
