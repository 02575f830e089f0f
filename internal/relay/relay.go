// Package relay streams upstream response bytes to HTTP clients without
// buffering whole bodies in memory.
package relay

import (
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// copyBufferSize keeps per-stream memory small; SSE chunks are tiny.
const copyBufferSize = 4 * 1024

// PipeSSE copies an upstream event stream to w chunk by chunk, flushing
// after every read so events reach the client as they arrive.
//
// A mid-flight upstream read error aborts the response via
// http.ErrAbortHandler: the client connection is closed without a terminal
// chunk, so the client can tell the stream is incomplete instead of
// mistaking truncation for completion.
func PipeSSE(w http.ResponseWriter, upstream io.Reader) int64 {
	flusher, canFlush := w.(http.Flusher)

	var written int64
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				// Client went away; nothing further to deliver.
				log.Debugf("stream relay: client write failed after %d bytes: %v", written, writeErr)
				return written
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return written
		}
		if readErr != nil {
			log.Warnf("stream relay: upstream error after %d bytes: %v", written, readErr)
			panic(http.ErrAbortHandler)
		}
	}
}
