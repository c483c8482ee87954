//go:build tinygo || wasm

package main

import (
	"encoding/json"
	"os"

	"github.com/fitpulse/fitvoice/packs/examples/internal/host"
)

type speakRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

//export run
func run() {
	host.Log("evening stretch hook invoked")

	sessionID := os.Getenv("FITVOICE_SESSION_ID")
	argument := os.Getenv("FITVOICE_ARGUMENT")

	text := "Your evening stretch is queued. Take a deep breath."
	if argument != "" {
		text = "Starting " + argument + " stretches. Take a deep breath."
	}
	msg := speakRequest{SessionID: sessionID, Text: text}
	if data, err := json.Marshal(msg); err == nil {
		if !host.Publish("feedback.say", data) {
			host.Log("feedback publish rejected")
		}
	}
}

func main() {}
