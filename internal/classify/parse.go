package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// DefaultConfidence 模型没有给出置信度时使用
const DefaultConfidence = 90

var (
	// ErrNoJSON 输出中找不到 JSON 对象
	ErrNoJSON = errors.New("classifier output contains no JSON object")
	// ErrNoCategory JSON 中缺少 category
	ErrNoCategory = errors.New("classifier output has no category")
)

// Parsed 模型输出解析后的字段
type Parsed struct {
	Category          string
	Intent            string
	Urgency           string
	ExtractedEntities json.RawMessage
	Summary           string
	Confidence        int
}

// IsSpam category 为 spam（不区分大小写）
func (p *Parsed) IsSpam() bool {
	return strings.EqualFold(strings.TrimSpace(p.Category), "spam")
}

type rawOutput struct {
	Category          json.RawMessage `json:"category"`
	Intent            json.RawMessage `json:"intent"`
	Urgency           json.RawMessage `json:"urgency"`
	ExtractedEntities json.RawMessage `json:"extracted_entities"`
	Summary           json.RawMessage `json:"summary"`
	Confidence        json.RawMessage `json:"confidence"`
}

// Parse 先把整段输出当作 JSON 对象解析，失败时取文本中第一个完整的 JSON 对象
func Parse(raw string) (*Parsed, error) {
	obj, ok := extractObject(raw)
	if !ok {
		return nil, ErrNoJSON
	}

	var out rawOutput
	if err := json.Unmarshal(obj, &out); err != nil {
		return nil, ErrNoJSON
	}

	p := &Parsed{
		Category:          textField(out.Category),
		Intent:            textField(out.Intent),
		Urgency:           textField(out.Urgency),
		ExtractedEntities: entitiesField(out.ExtractedEntities),
		Summary:           textField(out.Summary),
		Confidence:        confidenceField(out.Confidence),
	}
	if strings.TrimSpace(p.Category) == "" {
		return nil, ErrNoCategory
	}
	return p, nil
}

func extractObject(raw string) ([]byte, bool) {
	data := []byte(strings.TrimSpace(raw))
	if isObject(data) {
		return data, true
	}

	// 逐个 '{' 尝试解码，第一个能完整解码为对象的即为结果
	for i := bytes.IndexByte(data, '{'); i >= 0; {
		dec := json.NewDecoder(bytes.NewReader(data[i:]))
		var obj json.RawMessage
		if err := dec.Decode(&obj); err == nil && isObject(obj) {
			return obj, true
		}
		next := bytes.IndexByte(data[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, false
}

func isObject(data []byte) bool {
	if len(data) == 0 || data[0] != '{' {
		return false
	}
	var m map[string]json.RawMessage
	return json.Unmarshal(data, &m) == nil
}

// textField 字符串原样返回，其他 JSON 值保留其文本形式，null 视为空
func textField(v json.RawMessage) string {
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

func entitiesField(v json.RawMessage) json.RawMessage {
	if len(v) == 0 || string(v) == "null" {
		return json.RawMessage("{}")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return json.RawMessage("{}")
	}
	return buf.Bytes()
}

// confidenceField 接受数字或数字字符串，四舍五入并限制在 0-100
func confidenceField(v json.RawMessage) int {
	if len(v) == 0 || string(v) == "null" {
		return DefaultConfidence
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return DefaultConfidence
		}
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
		if err != nil {
			return DefaultConfidence
		}
		f = parsed
	}
	if math.IsNaN(f) {
		return DefaultConfidence
	}
	// 先在浮点上截断，超出 int 范围的值转换结果未定义
	return int(math.Round(math.Min(math.Max(f, 0), 100)))
}
