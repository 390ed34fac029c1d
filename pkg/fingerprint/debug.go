package fingerprint

import (
	"fmt"

	"go.uber.org/multierr"
)

// DebugEvent：Agent 内部调试事件，E 为事件编号
type DebugEvent struct {
	E int `json:"e"`
}

// DebugOutput：调试事件输出通道
type DebugOutput func(event DebugEvent) error

// 调试事件编号
const (
	EventLoadStart = iota + 1
	EventLoadDone
	EventLoadFail
	EventTLSStart
	EventTLSDone
	EventTLSFail
	EventGetStart
	EventRequestSent
	EventResponseReceived
	EventGetDone
	EventGetFail
)

var eventNames = map[int]string{
	EventLoadStart:        "load_start",
	EventLoadDone:         "load_done",
	EventLoadFail:         "load_fail",
	EventTLSStart:         "tls_start",
	EventTLSDone:          "tls_done",
	EventTLSFail:          "tls_fail",
	EventGetStart:         "get_start",
	EventRequestSent:      "request_sent",
	EventResponseReceived: "response_received",
	EventGetDone:          "get_done",
	EventGetFail:          "get_fail",
}

// EventName：事件编号的可读名称
func EventName(e int) string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("event_%d", e)
}

// 终结事件：一次加载或获取流程到此结束
func isTerminal(e int) bool {
	return e == EventGetDone || e == EventGetFail || e == EventLoadFail
}

// Multicast：把多个输出组合为一个，按输入顺序逐个调用
// 约束：nil 表示“无输出”并被跳过；单个输出返回错误或 panic 不影响后续输出，
// 全部调用完成后合并为一个错误返回。
func Multicast[T any](outputs ...func(T) error) func(T) error {
	outs := append([]func(T) error(nil), outputs...)
	idx := make([]int, 0, len(outs))
	for i, o := range outs {
		if o != nil {
			idx = append(idx, i)
		}
	}
	return func(v T) error {
		var errs error
		for _, i := range idx {
			errs = multierr.Append(errs, callSafe(i, outs[i], v))
		}
		return errs
	}
}

func callSafe[T any](i int, o func(T) error, v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("debug output %d panicked: %v", i, r)
		}
	}()
	return o(v)
}

// MakeMulticastDebugger：DebugOutput 版本的 Multicast
func MakeMulticastDebugger(outputs ...DebugOutput) DebugOutput {
	fns := make([]func(DebugEvent) error, len(outputs))
	for i, o := range outputs {
		if o != nil {
			fns[i] = o
		}
	}
	return Multicast(fns...)
}
