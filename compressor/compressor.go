// Package compressor provides lossless, symmetric byte compression for event
// state. Implementations register themselves under a topic so they can be
// selected by configuration.
package compressor

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"sync"
)

// Compressor is the symmetric compression contract, Decompress(Compress(b))
// must return b for all byte strings.
type Compressor interface {
	Compress(b []byte) ([]byte, error)
	Decompress(b []byte) ([]byte, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Compressor)
)

// Register makes a compressor selectable under the given topic
func Register(topic string, c Compressor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[topic] = c
}

// Lookup resolves a topic registered via Register
func Lookup(topic string) (Compressor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[topic]
	if !ok {
		return nil, fmt.Errorf("no compressor registered for topic %q", topic)
	}
	return c, nil
}

func init() {
	Register("compressor:gzip", Gzip{})
	Register("compressor:zlib", Zlib{})
}

// We use a pool of gzip.Writers to not stress the GC
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, err := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		if err != nil {
			panic("could not allocate writer in gzipWriterPool: " + err.Error())
		}
		return w
	},
}

// We use a pool of gzip.Readers to not stress the GC
var gzipReaderPool = sync.Pool{
	New: func() interface{} {
		return new(gzip.Reader)
	},
}

// Gzip compresses with compress/gzip at best speed
type Gzip struct{}

// Compress the given buffer with gzip
func (Gzip) Compress(b []byte) ([]byte, error) {
	buff := bytes.Buffer{}
	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(&buff)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

// Decompress the given gzip compressed buffer
func (Gzip) Decompress(b []byte) ([]byte, error) {
	r := gzipReaderPool.Get().(*gzip.Reader)
	defer gzipReaderPool.Put(r)
	if err := r.Reset(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	result, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Zlib compresses with compress/zlib
type Zlib struct{}

func (Zlib) Compress(b []byte) ([]byte, error) {
	buff := bytes.Buffer{}
	w := zlib.NewWriter(&buff)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

func (Zlib) Decompress(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
