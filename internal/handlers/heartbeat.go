package handlers

import "github.com/veilchat/chatsync/internal/router"

// Heartbeat implements spec §4.6's heartbeat: a no-op beyond resetting the
// session's missed-heartbeat counter, which the read pump already does for
// every frame before dispatch. Registered so an idle client's keep-alive
// frame has a handler instead of tripping the router's unknown-type close.
func (d *Deps) Heartbeat(hc router.HandlerContext) error {
	return nil
}
