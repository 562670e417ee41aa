// Package audio provides PCM-16 helpers for the gateway: WAV container
// framing for speech backends and frame energy measurement used to skip
// silent audio.
package audio
