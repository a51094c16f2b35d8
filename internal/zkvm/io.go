package zkvm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMissingInput 表示程序读取私有输入时输入流已经耗尽或格式损坏。
var ErrMissingInput = errors.New("zkvm: missing private input")

// Inputs 是按顺序读取的私有输入流。
type Inputs struct {
	values [][]byte
	next   int
}

// NewInputs 以给定顺序构造私有输入。
func NewInputs(values ...[]byte) *Inputs {
	cloned := make([][]byte, len(values))
	for i, v := range values {
		cloned[i] = append([]byte(nil), v...)
	}
	return &Inputs{values: cloned}
}

// Read 返回下一个私有输入。
func (in *Inputs) Read() ([]byte, error) {
	if in == nil || in.next >= len(in.values) {
		return nil, ErrMissingInput
	}
	v := in.values[in.next]
	in.next++
	return v, nil
}

// Remaining 返回尚未读取的输入数量。
func (in *Inputs) Remaining() int {
	if in == nil {
		return 0
	}
	return len(in.values) - in.next
}

// EncodeInputs 将输入编码为长度前缀格式：每项为 4 字节大端长度 + 内容。
func EncodeInputs(values ...[]byte) []byte {
	size := 0
	for _, v := range values {
		size += 4 + len(v)
	}
	out := make([]byte, 0, size)
	for _, v := range values {
		out = binary.BigEndian.AppendUint32(out, uint32(len(v)))
		out = append(out, v...)
	}
	return out
}

// DecodeInputs 解析 EncodeInputs 生成的字节流。
func DecodeInputs(raw []byte) (*Inputs, error) {
	var values [][]byte
	for offset := 0; offset < len(raw); {
		if len(raw)-offset < 4 {
			return nil, fmt.Errorf("%w: truncated length prefix at offset %d", ErrMissingInput, offset)
		}
		size := int(binary.BigEndian.Uint32(raw[offset:]))
		offset += 4
		if size > len(raw)-offset {
			return nil, fmt.Errorf("%w: value of %d bytes exceeds stream at offset %d", ErrMissingInput, size, offset)
		}
		values = append(values, append([]byte(nil), raw[offset:offset+size]...))
		offset += size
	}
	return &Inputs{values: values}, nil
}

// Outputs 收集程序按顺序提交的公开输出。
type Outputs struct {
	buf []byte
}

// Commit 追加一段公开输出。
func (out *Outputs) Commit(value []byte) {
	out.buf = append(out.buf, value...)
}

// Bytes 返回已提交的公开输出副本。
func (out *Outputs) Bytes() []byte {
	return append([]byte(nil), out.buf...)
}
