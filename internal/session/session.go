// Package session tracks the identity context of every connected client
// session so that chat messages can be attributed to their origin.
package session

// Context is the identity a transport supplies when a session opens.
type Context struct {
	RemoteAddress string
	Agent         string
	Attributes    map[string]string // extra transport-specific values
}
