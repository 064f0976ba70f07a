// schema.go — 端点描述: 编码、名称、有序参数与返回字段。
//
// 握手头解析器按 Parameters 的顺序和类型把位置参数转换为 JSON 对象。
package model

import "fmt"

// TypeKind 字段类型种类。
type TypeKind int

const (
	KindString TypeKind = iota
	KindInt
	KindBigInt
	KindBoolean
	KindUUID
	KindInet
	KindBytea
	KindDate
	KindSecond
	KindMilliSecond
	KindUnit
	KindOptional
	KindVec
	KindEnum
	KindTable
	KindDataTable
)

var kindNames = [...]string{
	KindString:      "String",
	KindInt:         "Int",
	KindBigInt:      "BigInt",
	KindBoolean:     "Boolean",
	KindUUID:        "UUID",
	KindInet:        "Inet",
	KindBytea:       "Bytea",
	KindDate:        "Date",
	KindSecond:      "Second",
	KindMilliSecond: "MilliSecond",
	KindUnit:        "Unit",
	KindOptional:    "Optional",
	KindVec:         "Vec",
	KindEnum:        "Enum",
	KindTable:       "Table",
	KindDataTable:   "DataTable",
}

func (k TypeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("TypeKind(%d)", int(k))
}

// EnumVariant 枚举成员。
type EnumVariant struct {
	Name  string `json:"name"`
	Value int32  `json:"value"`
}

// Type 字段类型。Elem 用于 Optional/Vec; Name+Fields 用于 Table/DataTable; Name+Variants 用于 Enum。
type Type struct {
	Kind     TypeKind      `json:"kind"`
	Elem     *Type         `json:"elem,omitempty"`
	Name     string        `json:"name,omitempty"`
	Fields   []Field       `json:"fields,omitempty"`
	Variants []EnumVariant `json:"variants,omitempty"`
}

// 标量类型。
var (
	String      = Type{Kind: KindString}
	Int         = Type{Kind: KindInt}
	BigInt      = Type{Kind: KindBigInt}
	Boolean     = Type{Kind: KindBoolean}
	UUID        = Type{Kind: KindUUID}
	Inet        = Type{Kind: KindInet}
	Bytea       = Type{Kind: KindBytea}
	Date        = Type{Kind: KindDate}
	Second      = Type{Kind: KindSecond}
	MilliSecond = Type{Kind: KindMilliSecond}
	Unit        = Type{Kind: KindUnit}
)

// Optional 可缺省类型。
func Optional(elem Type) Type { return Type{Kind: KindOptional, Elem: &elem} }

// Vec 数组类型。
func Vec(elem Type) Type { return Type{Kind: KindVec, Elem: &elem} }

// Enum 枚举类型。
func Enum(name string, variants ...EnumVariant) Type {
	return Type{Kind: KindEnum, Name: name, Variants: variants}
}

// Table 命名结构类型。
func Table(name string, fields ...Field) Type {
	return Type{Kind: KindTable, Name: name, Fields: fields}
}

// DataTable 列式表类型。
func DataTable(name string, fields ...Field) Type {
	return Type{Kind: KindDataTable, Name: name, Fields: fields}
}

func (t Type) String() string {
	switch t.Kind {
	case KindOptional, KindVec:
		if t.Elem != nil {
			return fmt.Sprintf("%s<%s>", t.Kind, t.Elem)
		}
	case KindEnum, KindTable, KindDataTable:
		return fmt.Sprintf("%s(%s)", t.Kind, t.Name)
	}
	return t.Kind.String()
}

// Field 命名字段。
type Field struct {
	Name string `json:"name"`
	Type Type   `json:"ty"`
}

// NewField 构造字段。
func NewField(name string, ty Type) Field { return Field{Name: name, Type: ty} }

// EndpointSchema 端点描述。
type EndpointSchema struct {
	Name       string  `json:"name"`
	Code       uint32  `json:"code"`
	Parameters []Field `json:"parameters"`
	Returns    []Field `json:"returns"`
}

// NewEndpointSchema 构造端点描述。
func NewEndpointSchema(name string, code uint32, params, returns []Field) EndpointSchema {
	return EndpointSchema{Name: name, Code: code, Parameters: params, Returns: returns}
}

// Service 一组端点所属的服务。
type Service struct {
	Name      string           `json:"name"`
	ID        uint32           `json:"id"`
	Endpoints []EndpointSchema `json:"endpoints"`
}
