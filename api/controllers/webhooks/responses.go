package webhooks

import (
	"encoding/json"
	"net/http"
)

func writeAck(w http.ResponseWriter, status int, ack darajaAck) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ack)
}
