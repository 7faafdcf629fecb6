package xsched

import "fmt"

// Invoker is the capability interface through which method callbacks are
// resolved. Receivers passed to Method must implement it; resolution
// happens at invocation time, not at schedule time.
type Invoker interface {
	InvokeCallback(method string, args []any) error
}

// Callback is a tagged variant holding either a plain function or a
// (receiver, method name) pair resolved through Invoker.
type Callback struct {
	fn       func(args ...any) error
	receiver any
	method   string
}

// Func wraps a plain function as a Callback.
func Func(fn func(args ...any) error) Callback {
	return Callback{fn: fn}
}

// Method wraps a named method on a receiver as a Callback. The receiver
// must implement Invoker; a receiver that does not is reported as a
// handler fault when the callback fires.
func Method(receiver any, name string) Callback {
	return Callback{receiver: receiver, method: name}
}

// valid reports whether the callback carries something invocable.
func (c Callback) valid() bool {
	return c.fn != nil || (c.receiver != nil && c.method != "")
}

// Receiver returns the method receiver, or nil for function callbacks.
// Used as the default owner for CancelAll.
func (c Callback) Receiver() any { return c.receiver }

// invoke resolves and calls the callback. Panics are not handled here;
// callers go through protect.
func (c Callback) invoke(args []any) error {
	if c.fn != nil {
		return c.fn(args...)
	}
	inv, ok := c.receiver.(Invoker)
	if !ok {
		return fmt.Errorf("xsched: receiver %T does not implement Invoker for method %q", c.receiver, c.method)
	}
	return inv.InvokeCallback(c.method, args)
}

// protect invokes a callback and converts panics into errors so a
// misbehaving handler cannot abort dispatch or scheduling.
func protect(c Callback, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	return c.invoke(args)
}
