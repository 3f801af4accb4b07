package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// BrotliConfig tunes response compression.
type BrotliConfig struct {
	Quality   int
	MinLength int
	Skipper   func(c *gin.Context) bool
}

// DefaultBrotliConfig compresses bodies of 1 KiB and up. Audit trails and
// replays are the large payloads here.
var DefaultBrotliConfig = BrotliConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
}

type brotliWriter struct {
	gin.ResponseWriter
	writer     *brotli.Writer
	buf        []byte
	minLength  int
	once       sync.Once
	compressed bool
}

func (bw *brotliWriter) Write(data []byte) (int, error) {
	if bw.compressed {
		return bw.writer.Write(data)
	}

	bw.buf = append(bw.buf, data...)
	if len(bw.buf) < bw.minLength {
		return len(data), nil
	}

	bw.once.Do(func() {
		bw.compressed = true
		bw.ResponseWriter.Header().Set("Content-Encoding", "br")
		bw.ResponseWriter.Header().Del("Content-Length")
	})
	if _, err := bw.writer.Write(bw.buf); err != nil {
		return 0, err
	}
	bw.buf = bw.buf[:0]
	return len(data), nil
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

// Flush drains anything still buffered uncompressed and forwards the flush.
func (bw *brotliWriter) Flush() {
	if bw.compressed {
		_ = bw.writer.Flush()
	} else if len(bw.buf) > 0 {
		_, _ = bw.ResponseWriter.Write(bw.buf)
		bw.buf = bw.buf[:0]
	}
	bw.ResponseWriter.Flush()
}

// finish writes out a short body as-is or closes the compressed stream.
func (bw *brotliWriter) finish() error {
	if bw.compressed {
		return bw.writer.Close()
	}
	if len(bw.buf) == 0 {
		return nil
	}
	_, err := bw.ResponseWriter.Write(bw.buf)
	bw.buf = bw.buf[:0]
	return err
}

// Brotli compresses responses with the default settings.
func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

// BrotliWithConfig compresses responses for clients that accept "br".
func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < 0 || cfg.Quality > 11 {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	return func(c *gin.Context) {
		if isStream(c) || (cfg.Skipper != nil && cfg.Skipper(c)) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			minLength:      cfg.MinLength,
			writer:         brotli.NewWriterLevel(c.Writer, cfg.Quality),
		}
		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()

		c.Writer = bw
		c.Next()
	}
}

// isStream reports requests for the monitor feed or the learner socket.
// Both must reach the client unbuffered.
func isStream(c *gin.Context) bool {
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc = strings.TrimSpace(strings.ToLower(enc))
		if i := strings.IndexByte(enc, ';'); i >= 0 {
			enc = strings.TrimSpace(enc[:i])
		}
		if enc == "br" {
			return true
		}
	}
	return false
}
