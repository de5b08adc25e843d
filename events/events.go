// Package events defines the side-channel notifications emitted by the
// transport, client, and cluster layers. Events are advisory: they are
// not part of the request/response contract and dropping them is always
// safe.
package events

// Type names one observable lifecycle transition.
type Type string

const (
	Connected       Type = "connected"
	Disconnected    Type = "disconnected"
	ConnectionError Type = "connectionError"

	ConnectionCreated Type = "connectionCreated"
	ConnectionRemoved Type = "connectionRemoved"

	ClusterConnected     Type = "clusterConnected"
	ClusterDisconnected  Type = "clusterDisconnected"
	NodeConnected        Type = "nodeConnected"
	NodeConnectionFailed Type = "nodeConnectionFailed"
	NodeFailure          Type = "nodeFailure"
	NodeRecovered        Type = "nodeRecovered"

	ProtocolNegotiated         Type = "protocolNegotiated"
	ProtocolNegotiationFailed  Type = "protocolNegotiationFailed"
)

// Event carries one notification. Addr identifies the affected
// connection target or cluster node where applicable.
type Event struct {
	Type Type
	Addr string
	Err  error
}

// Handler receives events. Handlers are invoked synchronously from the
// emitting goroutine and must not block.
type Handler func(Event)

// Emit invokes the handler if one is registered.
func Emit(h Handler, e Event) {
	if h != nil {
		h(e)
	}
}
