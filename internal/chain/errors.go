package chain

import (
	"errors"
	"fmt"
)

var (
	ErrConnectFailed = errors.New("connect failed")
	ErrNotConnected  = errors.New("not connected")
	ErrNotSignable   = errors.New("account cannot sign locally")
)

// DispatchError is a module-level dispatch failure decoded through the
// chain's error metadata. Section and Name are never empty on a decoded
// error; an undecodable pair is reported as a plain error instead.
type DispatchError struct {
	Section string
	Name    string
	Docs    string
}

func (e *DispatchError) Error() string {
	if e.Docs != "" {
		return fmt.Sprintf("dispatch error %s.%s: %s", e.Section, e.Name, e.Docs)
	}
	return fmt.Sprintf("dispatch error %s.%s", e.Section, e.Name)
}
