// Package thread 从拼接的纯文本正文还原会话。
// 链上邮件没有服务端会话存储，回复时客户端把历史
// 引用拼在正文尾部，读取时按引用标记切回多段。
package thread

import (
	"regexp"
	"strings"
	"time"
)

// Segment 会话中的一封独立消息
type Segment struct {
	// SenderName 引用头里的显示名，提取失败为空。
	SenderName string
	// SenderEmail 引用头里的地址，提取失败为空。
	SenderEmail string
	// Date 引用头里解析出的时间，失败时为零值。
	Date time.Time
	// DateText 原始日期文本；解析失败时为 "unknown date"。
	DateText string
	// Body 去掉引用前缀后的正文。
	Body string
	// Valid 这段的头部解析是否可信。不可信时展示层应
	// 用占位发件人/日期整体展示 Body，而不是丢弃。
	Valid bool
}

// quoteHeader 匹配 "On ... wrote:" 引用头（单独占一行）。
// 嵌套引用时头部自身也带 "> " 前缀，前缀层数即引用深度。
var quoteHeader = regexp.MustCompile(`(?m)^((?:> ?)*)On (.+?) wrote:\s*$`)

// bracketAddr 尖括号地址
var bracketAddr = regexp.MustCompile(`<([^<>\s]+@[^<>\s]+)>`)

// bareAddr 裸地址
var bareAddr = regexp.MustCompile(`\b([^\s<>,]+@[^\s<>,]+\.[a-zA-Z]{2,})\b`)

// 引用头里常见的日期格式，宽松逐个尝试
var dateLayouts = []string{
	"Mon, Jan 2, 2006 at 3:04 PM",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, Jan 2, 2006, 3:04 PM",
	"Jan 2, 2006 at 3:04 PM",
	"Jan 2, 2006, 3:04 PM",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Mon Jan 2 15:04:05 2006",
}

// Reconstruct 把拼接正文切回会话消息列表，最旧的在前。
// 这是尽力而为的启发式解析：任何畸形输入都退化为
// 占位字段 + 原文展示，绝不失败。
func Reconstruct(body string) []Segment {
	locs := quoteHeader.FindAllStringSubmatchIndex(body, -1)
	if len(locs) == 0 {
		return []Segment{{
			Body:     strings.TrimSpace(body),
			DateText: "unknown date",
			Valid:    true,
		}}
	}

	// 存储顺序是最新在前：第一段是本封正文，后面逐层变旧
	newestFirst := make([]Segment, 0, len(locs)+1)
	newestFirst = append(newestFirst, Segment{
		Body:     strings.TrimSpace(body[:locs[0][0]]),
		DateText: "unknown date",
		Valid:    true,
	})

	for i, loc := range locs {
		prefix := body[loc[2]:loc[3]]     // 头部行自带的 "> " 前缀
		headerText := body[loc[4]:loc[5]] // On 和 wrote: 之间的自由文本
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		raw := body[loc[1]:end]

		seg := parseHeader(headerText)
		seg.Body = stripQuotePrefix(raw, strings.Count(prefix, ">")+1)
		newestFirst = append(newestFirst, seg)
	}

	// 反转为最旧在前，方便按时间线展示
	out := make([]Segment, len(newestFirst))
	for i, seg := range newestFirst {
		out[len(newestFirst)-1-i] = seg
	}
	return out
}

// parseHeader 从引用头自由文本里提取显示名、地址和日期。
// 约定格式是 "<date>, <name> <addr>"：尖括号地址之前、
// 最后一个逗号之后的部分当显示名，剩余前缀当日期。
func parseHeader(header string) Segment {
	seg := Segment{DateText: "unknown date"}

	addrLoc := bracketAddr.FindStringSubmatchIndex(header)
	var datePart string
	if addrLoc != nil {
		seg.SenderEmail = strings.ToLower(header[addrLoc[2]:addrLoc[3]])
		before := strings.TrimSpace(header[:addrLoc[0]])
		if comma := strings.LastIndex(before, ","); comma >= 0 {
			seg.SenderName = strings.TrimSpace(before[comma+1:])
			datePart = strings.TrimSpace(before[:comma])
		} else {
			seg.SenderName = before
		}
	} else if m := bareAddr.FindStringSubmatchIndex(header); m != nil {
		seg.SenderEmail = strings.ToLower(header[m[2]:m[3]])
		datePart = strings.TrimSuffix(strings.TrimSpace(header[:m[0]]), ",")
	} else {
		datePart = strings.TrimSpace(header)
	}

	if datePart != "" {
		if t, ok := parseDate(datePart); ok {
			seg.Date = t
			seg.DateText = datePart
		}
	}

	// 至少拿到地址才算解析可信
	seg.Valid = seg.SenderEmail != ""
	return seg
}

// parseDate 宽松解析日期文本。
func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// stripQuotePrefix 逐行去掉最多 depth 层 "> " 引用前缀。
// 层级不足的行按实际层数剥，保持内容不丢。
func stripQuotePrefix(raw string, depth int) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		stripped := line
		for i := 0; i < depth; i++ {
			if strings.HasPrefix(stripped, "> ") {
				stripped = stripped[2:]
			} else if strings.HasPrefix(stripped, ">") {
				stripped = stripped[1:]
			} else {
				break
			}
		}
		out = append(out, stripped)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// QuoteReply 把上一封正文折叠成引用段，用于拼接回复。
func QuoteReply(header, body string) string {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	var b strings.Builder
	b.WriteString("On ")
	b.WriteString(header)
	b.WriteString(" wrote:\n")
	for _, line := range lines {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
