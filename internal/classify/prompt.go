package classify

import (
	"strings"
	"text/template"
)

var promptTmpl = template.Must(template.New("prompt").Parse(`You are an AI email parser. Classify the email and extract information.
Instructions:
- If it's spam, just return: {"category": "spam"}.
- Otherwise, return JSON with:
  - category (lead, support, billing, etc.)
  - intent (request, complaint, inquiry)
  - urgency (low, medium, high)
  - extracted_entities (list any names, emails, phone numbers, prices)
  - summary (one-line summary)
  - confidence (0-100)
Email subject: {{.Subject}}
Email snippet: {{.Preview}}
Return only JSON.`))

// BuildPrompt 只嵌入主题和摘要，不包含正文
func BuildPrompt(subject, preview string) string {
	var sb strings.Builder
	// 模板只引用两个字符串字段，执行不会失败
	_ = promptTmpl.Execute(&sb, struct{ Subject, Preview string }{subject, preview})
	return sb.String()
}
