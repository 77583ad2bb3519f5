// Package embedder turns text into vectors through an external worker process.
//
// The worker is a long-lived child process that loads an embedding model once
// and then answers requests over stdio, one JSON object per line:
//
//	-> {"id":1,"text":"parse a config file","is_query":true}
//	<- {"type":"ready"}
//	<- {"type":"result","id":1,"embedding":[...],"dimensions":768,"model":"..."}
//	<- {"type":"result","id":2,"error":"..."}
//
// Replies may arrive in any order and are matched to callers by id. A worker
// that cannot load its model prints {"type":"error","error":"..."} and exits.
//
// # Lifecycle
//
// A Worker is owned by the host process:
//
//	w, err := embedder.NewWorker(embedder.WorkerConfig{
//	    Command: "python3",
//	    Args:    []string{"embed_server.py", model},
//	})
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	vec, err := w.Embed(ctx, "func ParseFile(path string) error", false)
//
// The first request starts the process and every concurrent caller waits on
// the same startup. If the process dies, outstanding requests fail with
// ErrWorkerExited and the next request starts a fresh process. A request
// with no reply within the request timeout fails with ErrRequestTimeout
// without affecting other requests; its late reply is discarded.
//
// # One-shot mode
//
// OneShot starts a new process for each text. The process reads
// {"text":"...","is_query":false} from stdin and prints one reply object.
// It loads the model on every call, so it suits occasional queries only.
// RunOnce is the launcher it shares with other single-request processes.
//
// # Errors
//
// IsRetryable separates transient failures (timeouts, crashes) from
// InferenceError replies, which mean the worker rejected the input.
package embedder
