package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// IsHexAddress 判断字符串是否是 0x 前缀的 20 字节十六进制地址。
func IsHexAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	body := s[2:]
	if len(body) != 40 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

// ChecksumAddress 把地址转换为 EIP-55 混合大小写校验格式。
func ChecksumAddress(addr string) (string, error) {
	if !IsHexAddress(addr) {
		return "", fmt.Errorf("invalid address: %s", addr)
	}
	lower := strings.ToLower(addr[2:])

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	hash := hex.EncodeToString(h.Sum(nil))

	var b strings.Builder
	b.WriteString("0x")
	for i, c := range lower {
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			b.WriteByte(byte(c) - ('a' - 'A'))
		} else {
			b.WriteByte(byte(c))
		}
	}
	return b.String(), nil
}

// NormalizeAddress 统一地址比较口径（小写）。
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}
