package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResultShape：结果形态标签
type ResultShape int

const (
	ShapeBase ResultShape = iota
	ShapeExtended
	ShapeFullIPExtended
)

func (s ResultShape) String() string {
	switch s {
	case ShapeExtended:
		return "extended"
	case ShapeFullIPExtended:
		return "fullIpExtended"
	default:
		return "base"
	}
}

// DeriveShape：由 (extendedResult, ipResolution) 选出唯一的结果形态
// 约束：extended=false 时忽略 ip；ip 为空或未知取值按 city 处理。
func DeriveShape(extended bool, ip IPResolution) ResultShape {
	if !extended {
		return ShapeBase
	}
	if ip == IPResolutionFull {
		return ShapeFullIPExtended
	}
	return ShapeExtended
}

// DecodeResult：按形态校验并解析响应体
// 约束：缺少形态要求的字段时返回 KindMalformedResponse，不返回部分结果。
func DecodeResult(shape ResultShape, body []byte) (*Result, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, newError(KindMalformedResponse, err)
	}
	if doc == nil {
		return nil, newError(KindMalformedResponse, fmt.Errorf("empty document"))
	}
	if err := validate(shape, doc); err != nil {
		return nil, newError(KindMalformedResponse, err)
	}
	out := &Result{Shape: shape}
	var err error
	switch shape {
	case ShapeExtended:
		out.Extended = &ExtendedGetResult{}
		err = json.Unmarshal(body, out.Extended)
	case ShapeFullIPExtended:
		out.FullIP = &FullIPExtendedGetResult{}
		err = json.Unmarshal(body, out.FullIP)
	default:
		out.Base = &GetResult{}
		err = json.Unmarshal(body, out.Base)
	}
	if err != nil {
		return nil, newError(KindMalformedResponse, err)
	}
	return out, nil
}
