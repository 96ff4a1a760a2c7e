// Package transport carries collaboration frames between a client and the
// pub/sub server.
//
// A Dialer opens a Session; a Session subscribes to topics, publishes
// events and receives frames. The websocket implementation speaks JSON
// frames of the form {type, destination, payload} over golang.org/x/net/websocket.
// Inbound frames are buffered in an Inbox so a slow consumer never blocks
// the socket reader, and Receive honours context cancellation.
package transport
