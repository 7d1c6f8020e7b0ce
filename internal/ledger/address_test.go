package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHexAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"合法地址", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"混合大小写", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"缺前缀", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", false},
		{"长度不足", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea", false},
		{"非十六进制", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beazz", false},
		{"空串", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHexAddress(tt.input))
		})
	}
}

func TestChecksumAddress(t *testing.T) {
	t.Run("EIP55参考向量", func(t *testing.T) {
		// EIP-55 规范里的测试地址
		vectors := []string{
			"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
			"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
			"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
			"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
		}
		for _, want := range vectors {
			got, err := ChecksumAddress(want)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			// 全小写输入同样恢复出校验和格式
			got, err = ChecksumAddress(NormalizeAddress(want))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("非法地址报错", func(t *testing.T) {
		_, err := ChecksumAddress("not-an-address")
		assert.Error(t, err)
	})
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t,
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		NormalizeAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
}
