package eventhub

// Sent by client over the websocket
// SYNC-WEBSOCKET-CLIENT-MSG
type clientMessage struct {
	Type    string `json:"type"` // "subscribe", "unsubscribe", "auth"
	Channel string `json:"channel,omitempty"`
	ApiKey  string `json:"apiKey,omitempty"`
}

// Sent by server over the websocket
// SYNC-WEBSOCKET-SERVER-MSG
type serverMessage struct {
	Type    string `json:"type"` // "subscribed", "unsubscribed", "data", "error"
	Channel string `json:"channel,omitempty"`
	Status  string `json:"status,omitempty"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func ackMessage(typ, channel string) serverMessage {
	return serverMessage{Type: typ, Channel: channel, Status: "success"}
}

func dataMessage(channel string, data any) serverMessage {
	return serverMessage{Type: "data", Channel: channel, Data: data}
}

func errorMessage(message string) serverMessage {
	return serverMessage{Type: "error", Message: message}
}
