package portsink

import (
	sockjs "github.com/igm/sockjs-go/v3/sockjs"
)

// SockJSDriver adapts a sockjs-go Session to Driver, the same shape
// strest/sockjs's sockJSDriver wraps around the v1 sockjs-go package.
type SockJSDriver struct {
	Session sockjs.Session
}

func (d SockJSDriver) Send(s string) error { return d.Session.Send(s) }

func (d SockJSDriver) Recv() (string, error) { return d.Session.Recv() }

func (d SockJSDriver) Close(code int, reason string) error {
	return d.Session.Close(uint32(code), reason)
}
