package notify

import (
	"strings"
	"text/template"
	"time"

	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
)

const receivedLayout = "2006-01-02 15:04 MST"

var bodyTmpl = template.Must(template.New("notification").Parse(`Hi {{.TenantName}},

A new email has been processed by our AI system.

From: {{.Sender}}
Subject: {{.Subject}}
Received at: {{.ReceivedAt}}

Summary:
{{.Summary}}

Category: {{.Category}}
Intent: {{.Intent}}
Urgency: {{.Urgency}}

-- Your AI assistant`))

type messageData struct {
	TenantName string
	Sender     string
	Subject    string
	ReceivedAt string
	Summary    string
	Category   string
	Intent     string
	Urgency    string
}

// Render 生成通知的主题和正文
func Render(c *model.NotificationCandidate) (subject, body string) {
	var sb strings.Builder
	// 模板只引用字符串字段，执行不会失败
	_ = bodyTmpl.Execute(&sb, messageData{
		TenantName: c.TenantName,
		Sender:     c.Item.Sender,
		Subject:    c.Item.Subject,
		ReceivedAt: formatReceived(c.Item.ReceivedAt),
		Summary:    c.Result.Summary,
		Category:   c.Result.Category,
		Intent:     c.Result.Intent,
		Urgency:    c.Result.Urgency,
	})
	return "New email processed: " + c.Item.Subject, sb.String()
}

func formatReceived(t time.Time) string {
	return t.UTC().Format(receivedLayout)
}
