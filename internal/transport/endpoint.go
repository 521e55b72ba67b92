package transport

import "strings"

// SecurePort is the port value that switches an endpoint to the secure,
// default-port form: wss:// and https:// with no explicit port suffix.
const SecurePort = "80"

// DefaultHost is used when no websocket host is configured.
const DefaultHost = "localhost"

// Endpoint locates the chat websocket and the HTTP API served next to it.
type Endpoint struct {
	Host string
	Port string
	Path string
}

// Secure reports whether the endpoint uses the encrypted schemes.
func (e Endpoint) Secure() bool {
	return e.Port == SecurePort
}

// WebsocketURL returns the URL dialed for every submitted question.
func (e Endpoint) WebsocketURL() string {
	scheme := "ws://"
	if e.Secure() {
		scheme = "wss://"
	}
	return scheme + e.authority() + e.path()
}

// BaseHTTPURL returns the root of sibling HTTP calls such as feedback.
func (e Endpoint) BaseHTTPURL() string {
	scheme := "http://"
	if e.Secure() {
		scheme = "https://"
	}
	return scheme + e.authority()
}

func (e Endpoint) authority() string {
	host := e.Host
	if host == "" {
		host = DefaultHost
	}
	if e.Secure() || e.Port == "" {
		return host
	}
	return host + ":" + e.Port
}

func (e Endpoint) path() string {
	if e.Path == "" || strings.HasPrefix(e.Path, "/") {
		return e.Path
	}
	return "/" + e.Path
}
