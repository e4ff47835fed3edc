package audio

import (
	"fmt"
	"os"
	"sync"
	"time"
)

const wavHeaderSize = 44

// LoadPCMFile reads raw PCM16, or a canonical WAV whose header is skipped.
func LoadPCMFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	if len(data) > wavHeaderSize && string(data[0:4]) == "RIFF" {
		return data[wavHeaderSize:], nil
	}
	return data, nil
}

// FileSource plays a recording into the capture pipeline at real-time pace,
// standing in for a microphone.
type FileSource struct {
	data  []byte
	chunk time.Duration

	// OnEOF, if set, runs on the streaming goroutine after the last chunk.
	// It must not call Stop synchronously.
	OnEOF func()

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewFileSource streams pcm in chunk-sized slices, one per chunk of wall time.
func NewFileSource(pcm []byte, chunk time.Duration) *FileSource {
	if chunk <= 0 {
		chunk = 100 * time.Millisecond
	}
	return &FileSource{data: pcm, chunk: chunk}
}

func (f *FileSource) Start(onData func(pcm []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stop != nil {
		return fmt.Errorf("file source already started")
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	f.stop, f.done = stop, done

	go func() {
		defer close(done)
		size := BytesFor(f.chunk)
		ticker := time.NewTicker(f.chunk)
		defer ticker.Stop()

		for i := 0; i < len(f.data); i += size {
			end := min(i+size, len(f.data))
			onData(f.data[i:end])

			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
		if f.OnEOF != nil {
			f.OnEOF()
		}
	}()
	return nil
}

func (f *FileSource) Stop() error {
	f.mu.Lock()
	stop, done := f.stop, f.done
	f.stop, f.done = nil, nil
	f.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}
