package bridge

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"time"

	"dexmail/backend/internal/domain"
)

// InboundMail 服务商回调解析出的外部来件
type InboundMail struct {
	From     string
	To       string
	Subject  string
	TextBody string
	HTMLBody string
	Headers  map[string]string
}

// ParseInboundForm 解析服务商 multipart 回调。
// 结构化字段缺失时退回解析 email 原文字段。
func ParseInboundForm(form *multipart.Form) (*InboundMail, error) {
	get := func(key string) string {
		if vals, ok := form.Value[key]; ok && len(vals) > 0 {
			return vals[0]
		}
		return ""
	}

	in := &InboundMail{
		From:     extractAddress(get("from")),
		To:       extractAddress(get("to")),
		Subject:  get("subject"),
		TextBody: get("text"),
		HTMLBody: get("html"),
		Headers:  map[string]string{},
	}

	// 回调缺结构化字段时回退到原始报文
	if in.From == "" || (in.TextBody == "" && in.HTMLBody == "") {
		raw := get("email")
		if raw != "" {
			if parsed, err := parseRawMail(raw); err == nil {
				mergeInbound(in, parsed)
			}
		}
	}

	if in.From == "" {
		return nil, fmt.Errorf("inbound mail has no sender")
	}
	if in.To == "" {
		return nil, fmt.Errorf("inbound mail has no recipient")
	}
	return in, nil
}

// ToContentBlob 把外部来件转换成标准正文文档。
func (in *InboundMail) ToContentBlob(now time.Time) *domain.ContentBlob {
	return &domain.ContentBlob{
		From:      in.From,
		To:        []string{in.To},
		Subject:   in.Subject,
		Body:      in.TextBody,
		HTMLBody:  in.HTMLBody,
		Timestamp: now,
		Source:    "bridge",
		Headers:   in.Headers,
	}
}

// extractAddress 从 "Name <addr>" 形式里取出裸地址。
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(addr.Address)
	}
	// 宽松回退：截取尖括号内容
	if i := strings.LastIndex(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j > 0 {
			return strings.ToLower(strings.TrimSpace(s[i+1 : i+j]))
		}
	}
	return strings.ToLower(s)
}

// parseRawMail 解析 RFC 5322 原始报文。
func parseRawMail(raw string) (*InboundMail, error) {
	msg, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse raw mail: %w", err)
	}

	in := &InboundMail{
		From:    extractAddress(msg.Header.Get("From")),
		To:      extractAddress(msg.Header.Get("To")),
		Subject: msg.Header.Get("Subject"),
		Headers: map[string]string{},
	}
	for _, key := range []string{"Message-ID", "In-Reply-To", "References", "Date"} {
		if v := msg.Header.Get(key); v != "" {
			in.Headers[key] = v
		}
	}

	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		reader := multipart.NewReader(msg.Body, params["boundary"])
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				break
			}
			partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			data, _ := io.ReadAll(io.LimitReader(part, 1<<20))
			switch partType {
			case "text/plain":
				if in.TextBody == "" {
					in.TextBody = string(data)
				}
			case "text/html":
				if in.HTMLBody == "" {
					in.HTMLBody = string(data)
				}
			}
		}
	} else {
		data, _ := io.ReadAll(io.LimitReader(msg.Body, 1<<20))
		if mediaType == "text/html" {
			in.HTMLBody = string(data)
		} else {
			in.TextBody = string(data)
		}
	}
	return in, nil
}

// mergeInbound 用原始报文补齐缺失字段。
func mergeInbound(dst, src *InboundMail) {
	if dst.From == "" {
		dst.From = src.From
	}
	if dst.To == "" {
		dst.To = src.To
	}
	if dst.Subject == "" {
		dst.Subject = src.Subject
	}
	if dst.TextBody == "" {
		dst.TextBody = src.TextBody
	}
	if dst.HTMLBody == "" {
		dst.HTMLBody = src.HTMLBody
	}
	for k, v := range src.Headers {
		if _, ok := dst.Headers[k]; !ok {
			dst.Headers[k] = v
		}
	}
}
