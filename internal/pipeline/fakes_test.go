package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/storage"
)

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) (Source, error) {
	return Source{Data: f.data}, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, step domain.PipelineStep, res compress.Result) (domain.StepOutput, error) {
	return stepOutput(step, res, ""), nil
}

type memoryObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string]memoryObject
}

func (m *memoryObjects) ReadObject(_ context.Context, key string, maxBytes int64) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return storage.Object{}, fmt.Errorf("no such object %s", key)
	}
	if maxBytes > 0 && int64(len(obj.data)) > maxBytes {
		return storage.Object{}, storage.ErrObjectTooLarge
	}
	return storage.Object{Data: obj.data, ContentType: obj.contentType}, nil
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType, metadata: metadata}
	return nil
}
