package presence

import "PRelay/module/relay/model"

// Handle is one live connection as the core sees it. The transport owns it.
// Send must not block; a transport that cannot queue the frame returns an error.
type Handle interface {
	ID() string
	Send(env model.Envelope) error
}
