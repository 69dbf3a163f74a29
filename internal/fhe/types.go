package fhe

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "ConfidentialLedger/internal/errors"
)

// Type 描述密文承载的明文类型。
type Type uint8

const (
	TypeBool   Type = 1
	TypeUint8  Type = 2
	TypeUint16 Type = 3
	TypeUint32 Type = 4
)

// TypeForBits 返回能容纳 bits 位明文的最窄整数类型。
func TypeForBits(bits uint) (Type, bool) {
	switch {
	case bits == 0:
		return 0, false
	case bits <= 8:
		return TypeUint8, true
	case bits <= 16:
		return TypeUint16, true
	case bits <= 32:
		return TypeUint32, true
	default:
		return 0, false
	}
}

// String 返回类型的线上名称。
func (t Type) String() string {
	switch t {
	case TypeBool:
		return "ebool"
	case TypeUint8:
		return "euint8"
	case TypeUint16:
		return "euint16"
	case TypeUint32:
		return "euint32"
	default:
		return fmt.Sprintf("etype(%d)", uint8(t))
	}
}

// Bits 返回类型的明文位宽。
func (t Type) Bits() uint {
	switch t {
	case TypeBool:
		return 1
	case TypeUint8:
		return 8
	case TypeUint16:
		return 16
	case TypeUint32:
		return 32
	default:
		return 0
	}
}

// Max 返回类型可表示的最大明文。
func (t Type) Max() uint64 {
	bits := t.Bits()
	if bits == 0 {
		return 0
	}
	return (uint64(1) << bits) - 1
}

// Valid 判断类型是否受支持。
func (t Type) Valid() bool {
	return t.Bits() != 0
}

// Numeric 判断类型是否可参与加法。
func (t Type) Numeric() bool {
	return t == TypeUint8 || t == TypeUint16 || t == TypeUint32
}

// ParseType 解析线上类型名称。
func ParseType(raw string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ebool", "bool":
		return TypeBool, nil
	case "euint8", "uint8":
		return TypeUint8, nil
	case "euint16", "uint16":
		return TypeUint16, nil
	case "euint32", "uint32":
		return TypeUint32, nil
	default:
		return 0, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的密文类型: %q", raw))
	}
}

// MarshalText 实现 encoding.TextMarshaler。
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid ciphertext type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// HandleLength 是句柄的字节长度。
const HandleLength = 32

// Handle 是密文的不透明标识，能力表与 API 只通过它引用密文。
type Handle [HandleLength]byte

// Hex 返回带 0x 前缀的十六进制表示。
func (h Handle) Hex() string {
	return hexutil.Encode(h[:])
}

// String 实现 fmt.Stringer。
func (h Handle) String() string {
	return h.Hex()
}

// IsZero 判断句柄是否为空。
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// MarshalText 实现 encoding.TextMarshaler。
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHandle 解析十六进制句柄。
func ParseHandle(raw string) (Handle, error) {
	var h Handle
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return h, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "句柄不是合法的十六进制")
	}
	if len(decoded) != HandleLength {
		return h, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("句柄长度应为 %d 字节", HandleLength))
	}
	copy(h[:], decoded)
	return h, nil
}

// HandleFromBytes 将已知长度的字节切片转换为句柄。
func HandleFromBytes(b []byte) (Handle, error) {
	var h Handle
	if len(b) != HandleLength {
		return h, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("句柄长度应为 %d 字节", HandleLength))
	}
	copy(h[:], b)
	return h, nil
}

// Ciphertext 是代数运算的唯一操作对象。value 对核心逻辑不透明，
// public 仅在常量注入产生的平凡密文上设置。
type Ciphertext struct {
	typ    Type
	value  *big.Int
	handle Handle
	public *big.Int
}

// NewCiphertext 由类型与密文整数构造句柄化的密文。
func NewCiphertext(t Type, value *big.Int) (*Ciphertext, error) {
	if !t.Valid() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的密文类型 %d", uint8(t)))
	}
	if value == nil || value.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "密文数值非法")
	}
	v := new(big.Int).Set(value)
	return &Ciphertext{typ: t, value: v, handle: computeHandle(t, v)}, nil
}

// FromBytes 由线上字节恢复密文。
func FromBytes(t Type, data []byte) (*Ciphertext, error) {
	if len(data) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "密文不能为空")
	}
	return NewCiphertext(t, new(big.Int).SetBytes(data))
}

func computeHandle(t Type, value *big.Int) Handle {
	var h Handle
	copy(h[:], crypto.Keccak256([]byte{byte(t)}, value.Bytes()))
	return h
}

// Type 返回密文类型。
func (c *Ciphertext) Type() Type { return c.typ }

// Handle 返回密文句柄。
func (c *Ciphertext) Handle() Handle { return c.handle }

// Bytes 返回密文的大端字节表示。
func (c *Ciphertext) Bytes() []byte { return c.value.Bytes() }

// Value 返回密文整数的副本。
func (c *Ciphertext) Value() *big.Int { return new(big.Int).Set(c.value) }

// IsPublic 判断密文是否为已知明文的平凡加密。
func (c *Ciphertext) IsPublic() bool { return c.public != nil }

type wireCiphertext struct {
	Type   Type   `json:"type"`
	Handle Handle `json:"handle"`
	Data   string `json:"data"`
}

// MarshalJSON 输出类型、句柄与十六进制密文。
func (c *Ciphertext) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCiphertext{Type: c.typ, Handle: c.handle, Data: hexutil.Encode(c.Bytes())})
}

// UnmarshalJSON 解析线上密文并校验句柄一致性。
func (c *Ciphertext) UnmarshalJSON(data []byte) error {
	var wire wireCiphertext
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	raw, err := hexutil.Decode(wire.Data)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "密文不是合法的十六进制")
	}
	parsed, err := FromBytes(wire.Type, raw)
	if err != nil {
		return err
	}
	if !wire.Handle.IsZero() && wire.Handle != parsed.handle {
		return xerrors.New(xerrors.CodeInvalidArgument, "密文句柄与内容不一致")
	}
	*c = *parsed
	return nil
}
