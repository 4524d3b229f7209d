package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/storage"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

type ObjectReader interface {
	ReadObject(ctx context.Context, objectKey string, maxBytes int64) (storage.Object, error)
}

type ObjectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string, metadata map[string]string) error
}

type ObjectStoreFetcher struct {
	Storage  ObjectReader
	MaxBytes int64
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) (Source, error) {
	if f.Storage == nil {
		return Source{}, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return Source{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	obj, err := f.Storage.ReadObject(ctx, req.ObjectKey, f.MaxBytes)
	if err != nil {
		if errors.Is(err, storage.ErrObjectTooLarge) {
			return Source{}, fmt.Errorf("%w: %w", ErrSourceTooLarge, err)
		}
		return Source{}, err
	}
	return Source{Data: obj.Data, ContentType: obj.ContentType}, nil
}

type ObjectStoreEmitter struct {
	Storage      ObjectWriter
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, step domain.PipelineStep, res compress.Result) (domain.StepOutput, error) {
	if e.Storage == nil {
		return domain.StepOutput{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return domain.StepOutput{}, errors.New("pipeline step id is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		OutputName(step.ID, res),
	)

	if err := e.Storage.WriteObject(ctx, objectKey, res.Output, res.OutputFormat.MIMEType(), outputMetadata(res)); err != nil {
		return domain.StepOutput{}, err
	}

	return stepOutput(step, res, objectKey), nil
}

func outputMetadata(res compress.Result) map[string]string {
	return map[string]string{
		"strategy":       res.Strategy,
		"original-bytes": strconv.Itoa(res.OriginalSize),
		"ratio-percent":  strconv.FormatFloat(res.RatioPercent, 'f', 2, 64),
		"pass-through":   strconv.FormatBool(res.PassThrough),
	}
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "outputs"
	}
	return prefix
}

// NewObjectStoreProcessor reads sources from and writes outputs to the
// same object store.
func NewObjectStoreProcessor(client *storage.Client, outputPrefix string, maxSourceBytes int64, engine Compressor) (*Processor, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(
		ObjectStoreFetcher{Storage: client, MaxBytes: maxSourceBytes},
		ObjectStoreEmitter{Storage: client, OutputPrefix: outputPrefix},
		engine,
	)
}
