package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// AddressList 地址列表, 以 JSON 数组存储
type AddressList []string

// Value 实现 driver.Valuer
func (l AddressList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (l *AddressList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported AddressList source %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// Contains 是否包含地址
func (l AddressList) Contains(addr string) bool {
	for _, a := range l {
		if a == addr {
			return true
		}
	}
	return false
}

// BigIntList 大整数列表, 以十进制字符串 JSON 数组存储
type BigIntList []string

// Value 实现 driver.Valuer
func (l BigIntList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (l *BigIntList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported BigIntList source %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// NewBigIntList 从大整数构造
func NewBigIntList(values []*big.Int) BigIntList {
	out := make(BigIntList, 0, len(values))
	for _, v := range values {
		if v == nil {
			out = append(out, "0")
			continue
		}
		out = append(out, v.String())
	}
	return out
}

// Ints 转换为大整数
func (l BigIntList) Ints() ([]*big.Int, error) {
	out := make([]*big.Int, 0, len(l))
	for _, s := range l {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid big integer %q", s)
		}
		out = append(out, v)
	}
	return out, nil
}

// NowMillis 当前毫秒时间戳
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
