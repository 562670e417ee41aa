// Package protocol defines the JSON event envelope spoken on the media
// stream socket. It handles parsing and validation of inbound start/media/stop
// events and construction of outbound media, transcript, and mark events.
package protocol
