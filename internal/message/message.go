package message

// Message is a single chat message as stored in a room's log. Timestamp
// is in Unix milliseconds. Two messages may share a timestamp; their
// relative order is undefined.
type Message struct {
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
