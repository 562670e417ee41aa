// Package speech defines the speech-to-text and text-to-speech collaborator
// contracts and two engine families: deterministic local engines for
// development and tests, and OpenAI-backed engines for production use.
package speech
