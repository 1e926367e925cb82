package models

// ChatFrame is an inbound frame on the order chat channel.
// Message is a pointer so a missing field can be told apart from "".
type ChatFrame struct {
	Message   *string `json:"message"`
	Sender    string  `json:"sender"`
	Timestamp string  `json:"timestamp"`
}

// OutboundChatFrame is written to the order chat channel on send.
type OutboundChatFrame struct {
	Message string `json:"message"`
}
