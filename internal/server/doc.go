// Package server contains the gateway's two listeners: the media stream
// WebSocket server that carries call audio and events, and the HTTP API
// server for health, session monitoring, and Prometheus metrics.
package server
