package embedder

// Message types written by the worker, one JSON object per stdout line.
const (
	msgReady  = "ready"
	msgResult = "result"
	msgError  = "error"
)

// workerRequest is one line written to the worker's stdin.
type workerRequest struct {
	ID      int64  `json:"id"`
	Text    string `json:"text"`
	IsQuery bool   `json:"is_query"`
}

// workerMessage is one line read from the worker's stdout. ID is nil when the
// worker could not decode the request it is answering.
type workerMessage struct {
	Type       string    `json:"type"`
	ID         *int64    `json:"id,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Dimensions int       `json:"dimensions,omitempty"`
	Model      string    `json:"model,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// workerReply resolves one pending request.
type workerReply struct {
	embedding []float32
	model     string
	err       error
}
