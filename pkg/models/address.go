package models

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Address 以太坊地址，输出时统一使用EIP-55校验和格式
type Address common.Address

// ZeroAddress 零地址
var ZeroAddress = Address{}

// ParseAddress 解析十六进制地址字符串
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("无效的以太坊地址: %s", s)
	}
	return Address(common.HexToAddress(s)), nil
}

// MustParseAddress 解析地址，失败时panic（仅用于常量和测试）
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// Common 转换为go-ethereum地址类型
func (a Address) Common() common.Address {
	return common.Address(a)
}

// Hex 返回校验和格式的地址
func (a Address) Hex() string {
	return common.Address(a).Hex()
}

// String 实现fmt.Stringer
func (a Address) String() string {
	return a.Hex()
}

// IsZero 是否为零地址
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Cmp 按字节序比较两个地址
func (a Address) Cmp(other Address) int {
	return bytes.Compare(a[:], other[:])
}

// MarshalText 序列化为校验和格式（go-ethereum默认输出小写）
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText 从十六进制文本解析
func (a *Address) UnmarshalText(input []byte) error {
	return (*common.Address)(a).UnmarshalText(input)
}
