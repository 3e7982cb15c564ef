// Package ws serves SCPI over WebSocket. Each text message is one program
// message and each non-empty result is sent back as one text message, so a
// browser or script can drive the instrument without a USB stack.
package ws
