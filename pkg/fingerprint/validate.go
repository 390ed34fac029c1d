package fingerprint

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
)

type fieldType int

const (
	fieldString fieldType = iota
	fieldBool
	fieldObject
	fieldScore
	fieldIP
)

func (t fieldType) String() string {
	switch t {
	case fieldBool:
		return "bool"
	case fieldObject:
		return "object"
	case fieldScore:
		return "number in [0,1]"
	case fieldIP:
		return "ip address"
	default:
		return "string"
	}
}

type fieldRule struct {
	path string
	typ  fieldType
}

var baseRules = []fieldRule{
	{"requestId", fieldString},
	{"visitorId", fieldString},
	{"visitorFound", fieldBool},
	{"confidence", fieldObject},
	{"confidence.score", fieldScore},
}

var extendedRules = append(append([]fieldRule{}, baseRules...),
	fieldRule{"incognito", fieldBool},
	fieldRule{"browserName", fieldString},
	fieldRule{"browserVersion", fieldString},
	fieldRule{"device", fieldString},
	fieldRule{"ip", fieldIP},
	fieldRule{"ipLocation", fieldObject},
	fieldRule{"os", fieldString},
	fieldRule{"osVersion", fieldString},
)

var organizationRules = []fieldRule{
	{"ipLocation.organization.name", fieldString},
	{"ipLocation.organization.domain", fieldString},
	{"ipLocation.organization.isp", fieldString},
	{"ipLocation.organization.legalName", fieldString},
}

// validate：检查 doc 是否满足形态要求的字段
func validate(shape ResultShape, doc map[string]any) error {
	rules := baseRules
	if shape != ShapeBase {
		rules = extendedRules
	}
	if err := checkRules(doc, rules); err != nil {
		return err
	}
	if shape != ShapeFullIPExtended {
		return nil
	}
	// organization 可缺失（匿名代理），出现时四个字段必须齐全
	org, found := lookup(doc, "ipLocation.organization")
	if !found || org == nil {
		return nil
	}
	if _, ok := org.(map[string]any); !ok {
		return fmt.Errorf("field ipLocation.organization: want object")
	}
	return checkRules(doc, organizationRules)
}

func checkRules(doc map[string]any, rules []fieldRule) error {
	for _, r := range rules {
		v, ok := lookup(doc, r.path)
		if !ok {
			return fmt.Errorf("field %s: missing", r.path)
		}
		if !matches(v, r.typ) {
			return fmt.Errorf("field %s: want %s", r.path, r.typ)
		}
	}
	return nil
}

func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matches(v any, t fieldType) bool {
	switch t {
	case fieldBool:
		_, ok := v.(bool)
		return ok
	case fieldObject:
		_, ok := v.(map[string]any)
		return ok
	case fieldScore:
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		f, err := n.Float64()
		return err == nil && f >= 0 && f <= 1
	case fieldIP:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := netip.ParseAddr(s)
		return err == nil
	default:
		_, ok := v.(string)
		return ok
	}
}
