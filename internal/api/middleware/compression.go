// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// CompressionAlgorithm represents supported compression algorithms
type CompressionAlgorithm int

const (
	AlgorithmNone CompressionAlgorithm = iota
	AlgorithmGzip
	AlgorithmBrotli
	AlgorithmZstd
	AlgorithmDeflate
)

func (a CompressionAlgorithm) encoding() string {
	switch a {
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmBrotli:
		return "br"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmDeflate:
		return "deflate"
	default:
		return ""
	}
}

// compressionWriter holds the status and body back until minSize bytes are
// buffered, then decides whether to compress. Headers are only sent once
// that decision is made.
type compressionWriter struct {
	http.ResponseWriter
	algorithm CompressionAlgorithm
	minSize   int
	level     int

	status  int
	buf     bytes.Buffer
	decided bool
	writer  io.Writer
}

func (w *compressionWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *compressionWriter) Write(data []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if w.decided {
		return w.writer.Write(data)
	}

	n, _ := w.buf.Write(data)
	if w.buf.Len() >= w.minSize {
		if err := w.decide(true); err != nil {
			return n, err
		}
	}
	return n, nil
}

// decide sends headers and flushes the buffer through the chosen writer.
func (w *compressionWriter) decide(bigEnough bool) error {
	w.decided = true
	if w.status == 0 {
		w.status = http.StatusOK
	}

	w.writer = w.ResponseWriter
	if bigEnough && w.shouldCompress() {
		if enc, err := w.newEncoder(); err == nil {
			w.Header().Set("Content-Encoding", w.algorithm.encoding())
			w.Header().Del("Content-Length")
			w.writer = enc
		}
	}

	w.ResponseWriter.WriteHeader(w.status)
	if w.buf.Len() == 0 {
		return nil
	}
	_, err := w.writer.Write(w.buf.Bytes())
	w.buf.Reset()
	return err
}

func (w *compressionWriter) shouldCompress() bool {
	if w.status < 200 || w.status == http.StatusNoContent || w.status == http.StatusNotModified {
		return false
	}
	if w.Header().Get("Content-Encoding") != "" {
		return false
	}
	contentType := w.Header().Get("Content-Type")
	return strings.Contains(contentType, "text/") ||
		strings.Contains(contentType, "application/json") ||
		strings.Contains(contentType, "application/xml") ||
		strings.Contains(contentType, "application/javascript")
}

func (w *compressionWriter) newEncoder() (io.Writer, error) {
	switch w.algorithm {
	case AlgorithmZstd:
		return zstd.NewWriter(w.ResponseWriter, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(w.level)))
	case AlgorithmBrotli:
		return brotli.NewWriterLevel(w.ResponseWriter, w.level), nil
	case AlgorithmGzip:
		return gzip.NewWriterLevel(w.ResponseWriter, w.level)
	case AlgorithmDeflate:
		return flate.NewWriter(w.ResponseWriter, w.level)
	default:
		return w.ResponseWriter, nil
	}
}

func (w *compressionWriter) Flush() {
	if !w.decided {
		_ = w.decide(w.buf.Len() >= w.minSize)
	}
	if flusher, ok := w.writer.(interface{ Flush() error }); ok {
		_ = flusher.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// finish flushes anything still buffered and closes the encoder.
func (w *compressionWriter) finish() error {
	if !w.decided {
		if w.status == 0 && w.buf.Len() == 0 {
			return nil
		}
		if err := w.decide(false); err != nil {
			return err
		}
	}
	if closer, ok := w.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// negotiateAlgorithm picks the best algorithm the client accepts.
// Priority: zstd > brotli > gzip > deflate.
func negotiateAlgorithm(acceptEncoding string, preferZstd, preferBrotli bool) CompressionAlgorithm {
	encodings := parseAcceptEncoding(acceptEncoding)

	if preferZstd && encodings["zstd"] > 0 {
		return AlgorithmZstd
	}
	if preferBrotli && encodings["br"] > 0 {
		return AlgorithmBrotli
	}
	if encodings["gzip"] > 0 {
		return AlgorithmGzip
	}
	if encodings["deflate"] > 0 {
		return AlgorithmDeflate
	}

	return AlgorithmNone
}

// parseAcceptEncoding returns the quality value of each accepted encoding.
func parseAcceptEncoding(acceptEncoding string) map[string]float64 {
	encodings := make(map[string]float64)

	for _, part := range strings.Split(acceptEncoding, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		encoding, params, _ := strings.Cut(part, ";")
		encoding = strings.ToLower(strings.TrimSpace(encoding))
		qvalue := 1.0
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(q), 64); err == nil {
				qvalue = parsed
			}
		}

		if encoding == "*" {
			for _, name := range []string{"gzip", "br", "zstd", "deflate"} {
				if _, set := encodings[name]; !set {
					encodings[name] = qvalue
				}
			}
			continue
		}
		encodings[encoding] = qvalue
	}

	return encodings
}

// SelectiveCompress compresses text and JSON responses of at least minSize
// bytes with the best algorithm the client accepts.
func SelectiveCompress(minSize, level int, preferZstd, preferBrotli bool) func(http.Handler) http.Handler {
	level = min(max(level, 1), 9)
	if minSize < 0 {
		minSize = 1024
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			algorithm := negotiateAlgorithm(r.Header.Get("Accept-Encoding"), preferZstd, preferBrotli)
			if algorithm == AlgorithmNone {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Accept-Encoding")

			wrapped := &compressionWriter{
				ResponseWriter: w,
				algorithm:      algorithm,
				minSize:        minSize,
				level:          level,
			}
			defer wrapped.finish()

			next.ServeHTTP(wrapped, r)
		})
	}
}
