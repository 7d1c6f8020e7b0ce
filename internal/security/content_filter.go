package security

import (
	"regexp"
	"strings"
)

// InboundFilter 入站邮件内容过滤器。
//
// 外部来件在固定到内容存储之前过一遍：携带活动脚本等
// 恶意载荷的直接拒收，垃圾邮件只打标记不拒收（收件人
// 自己的垃圾箱规则仍然适用）。
type InboundFilter struct {
	// 恶意内容模式
	maliciousPatterns []*regexp.Regexp

	// 垃圾邮件关键词
	spamKeywords []string
}

// Verdict 过滤结果
type Verdict struct {
	Reject bool   // 是否拒收
	Spam   bool   // 是否疑似垃圾邮件
	Reason string // 拒收/标记原因
}

// NewInboundFilter 创建入站过滤器
func NewInboundFilter() *InboundFilter {
	return &InboundFilter{
		maliciousPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`),
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)onload\s*=`),
			regexp.MustCompile(`(?i)onerror\s*=`),
			regexp.MustCompile(`(?i)eval\s*\(`),
			regexp.MustCompile(`(?i)document\.cookie`),
			regexp.MustCompile(`(?i)<iframe[^>]*>`),
			regexp.MustCompile(`(?i)<object[^>]*>`),
			regexp.MustCompile(`(?i)<embed[^>]*>`),
		},
		spamKeywords: []string{
			"viagra", "casino", "lottery", "winner", "congratulations",
			"free money", "click here", "limited time", "act now",
			"guaranteed", "no risk", "earn money", "work from home",
			"airdrop", "double your crypto", "seed phrase",
		},
	}
}

// Inspect 检查入站邮件正文并返回过滤结果。
func (f *InboundFilter) Inspect(textBody, htmlBody string) Verdict {
	content := textBody + "\n" + htmlBody

	for _, pattern := range f.maliciousPatterns {
		if pattern.MatchString(content) {
			return Verdict{
				Reject: true,
				Reason: "malicious content detected: " + pattern.String(),
			}
		}
	}

	contentLower := strings.ToLower(content)
	spamCount := 0
	for _, keyword := range f.spamKeywords {
		if strings.Contains(contentLower, keyword) {
			spamCount++
		}
	}
	if spamCount >= 3 {
		return Verdict{
			Spam:   true,
			Reason: "multiple spam keywords found",
		}
	}

	return Verdict{}
}
