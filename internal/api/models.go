package api

import (
	"encoding/json"

	"github.com/fsnebula/converter-api/internal/task"
)

// SubmitResponse is the reply to a conversion request. Ticket and Token
// are null when the submission was rejected.
type SubmitResponse struct {
	Ticket *int64  `json:"ticket"`
	Token  *string `json:"token"`
	Error  bool    `json:"error,omitempty"`
}

// RetrieveResponse is the reply to a result retrieval. Payload is the
// stored result document and stays null until the ticket is both known
// and finished.
type RetrieveResponse struct {
	Payload  json.RawMessage `json:"json"`
	Success  bool            `json:"success"`
	Finished bool            `json:"finished"`
	Found    bool            `json:"found"`
}

// StatusResponse is the reply to a status probe.
type StatusResponse struct {
	task.Status
}

// UploadResponse is the reply to a mirror drop.
type UploadResponse struct {
	Path      string `json:"path"`
	URL       string `json:"url,omitempty"`
	Duplicate bool   `json:"duplicate"`
}
