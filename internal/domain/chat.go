package domain

// ChatRecord is one entry in the append-only chat log.
type ChatRecord struct {
	Author  string `json:"author"`
	Message string `json:"message"`
}
