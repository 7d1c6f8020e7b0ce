// Package cidmap 维护定宽 CID 哈希到完整 CID 的映射。
// 合约字段是定宽 bytes32，存不下完整 CID，所以链上只记哈希，
// 完整 CID 另行登记，读取时先远端后本地逐层解析。
package cidmap

import (
	"context"
	"encoding/hex"
	"errors"
)

// HashWidth 定宽哈希总长度（0x + 64 个十六进制字符）
const HashWidth = 66

// ErrMappingNotFound 所有层都找不到映射
var ErrMappingNotFound = errors.New("cid mapping not found")

// Store CID 映射存储层
type Store interface {
	// Save 登记映射。重复登记同一哈希必须幂等。
	Save(ctx context.Context, cidHash, fullCID string) error

	// Lookup 按哈希取回完整 CID，找不到返回 ErrMappingNotFound。
	Lookup(ctx context.Context, cidHash string) (string, error)
}

// HashCID 把完整 CID 压缩为定宽哈希：
// 取 CID 字符串字节的十六进制前 64 位，不足右补 0，前缀 0x。
func HashCID(cid string) string {
	encoded := hex.EncodeToString([]byte(cid))
	if len(encoded) > 64 {
		encoded = encoded[:64]
	}
	for len(encoded) < 64 {
		encoded += "0"
	}
	return "0x" + encoded
}

// IsHash 判断字符串是否是定宽 CID 哈希。
func IsHash(s string) bool {
	if len(s) != HashWidth || s[0] != '0' || s[1] != 'x' {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
