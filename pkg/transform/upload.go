package transform

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
)

// Uploader stores file content outside the payload and returns the key or
// location the submitter should reference.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, key, contentType string, data []byte) (string, error)

// Upload implements Uploader.
func (fn UploaderFunc) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	return fn(ctx, key, contentType, data)
}

// ErrEmptyUpload reports a file answer without content.
var ErrEmptyUpload = errors.New("transform: file has no content")

// NewUploadTransformer returns a file transformer that uploads the content
// and submits the resulting key. Keys are <flow>/<field>/<sha256>/<name>.
func NewUploadTransformer(up Uploader) Transformer {
	return TransformerFunc(func(ctx context.Context, value answer.Value, tc Context) (Answer, error) {
		v, ok := value.(answer.File)
		if !ok {
			return Answer{}, kindMismatch(field.KindFile, value)
		}
		if len(v.Data) == 0 {
			return Answer{}, ErrEmptyUpload
		}
		if up == nil {
			return Answer{}, errors.New("transform: uploader is not configured")
		}
		meta := fileMetadata(v)
		key := uploadKey(tc.FlowID, tc.Field.ID, meta[MetaSHA256], v.Name)
		location, err := up.Upload(ctx, key, v.ContentType, v.Data)
		if err != nil {
			return Answer{}, fmt.Errorf("upload %q: %w", key, err)
		}
		meta[MetaStorage] = "upload"
		return Answer{Value: location, Metadata: meta}, nil
	})
}

func uploadKey(flowID, fieldID, digest, name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	if flowID == "" {
		flowID = "flow"
	}
	if len(digest) > 16 {
		digest = digest[:16]
	}
	return path.Join(flowID, fieldID, digest, name)
}
