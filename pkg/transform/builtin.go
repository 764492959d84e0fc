package transform

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"html"
	"strconv"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/goliatone/go-formflow/pkg/answer"
	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// Metadata keys set by the builtin transformers.
const (
	MetaSanitized   = "sanitized"
	MetaLayout      = "layout"
	MetaLabel       = "label"
	MetaLabels      = "labels"
	MetaScale       = "scale"
	MetaName        = "name"
	MetaContentType = "content_type"
	MetaSize        = "size"
	MetaSHA256      = "sha256"
	MetaEncoding    = "encoding"
	MetaStorage     = "storage"
)

func builtinTransformers() map[field.Kind]Transformer {
	return map[field.Kind]Transformer{
		field.KindText:        TransformerFunc(transformText),
		field.KindNumber:      TransformerFunc(transformNumber),
		field.KindBoolean:     TransformerFunc(transformBoolean),
		field.KindDate:        TransformerFunc(transformDate),
		field.KindChoice:      TransformerFunc(transformChoice),
		field.KindMultiChoice: TransformerFunc(transformMultiChoice),
		field.KindRating:      TransformerFunc(transformRating),
		field.KindFile:        TransformerFunc(transformInlineFile),
	}
}

var (
	textPolicyOnce sync.Once
	textPolicy     *bluemonday.Policy
)

func textSanitizer() *bluemonday.Policy {
	textPolicyOnce.Do(func() {
		textPolicy = bluemonday.StrictPolicy()
	})
	return textPolicy
}

// SanitizeText strips markup from free text and returns plain text.
func SanitizeText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(textSanitizer().Sanitize(trimmed)))
}

func transformText(_ context.Context, value answer.Value, _ Context) (Answer, error) {
	v, ok := value.(answer.Text)
	if !ok {
		return Answer{}, kindMismatch(field.KindText, value)
	}
	cleaned := SanitizeText(v.Value)
	out := Answer{Value: cleaned}
	if cleaned != strings.TrimSpace(v.Value) {
		out.Metadata = map[string]string{MetaSanitized: "true"}
	}
	return out, nil
}

func transformNumber(_ context.Context, value answer.Value, _ Context) (Answer, error) {
	v, ok := value.(answer.Number)
	if !ok {
		return Answer{}, kindMismatch(field.KindNumber, value)
	}
	return Answer{Value: v.Value}, nil
}

func transformBoolean(_ context.Context, value answer.Value, _ Context) (Answer, error) {
	v, ok := value.(answer.Boolean)
	if !ok {
		return Answer{}, kindMismatch(field.KindBoolean, value)
	}
	return Answer{Value: v.Value}, nil
}

func transformDate(_ context.Context, value answer.Value, tc Context) (Answer, error) {
	v, ok := value.(answer.Date)
	if !ok {
		return Answer{}, kindMismatch(field.KindDate, value)
	}
	layout := tc.Field.DateLayout()
	return Answer{
		Value:    v.Value.Format(layout),
		Metadata: map[string]string{MetaLayout: layout},
	}, nil
}

func transformChoice(_ context.Context, value answer.Value, tc Context) (Answer, error) {
	v, ok := value.(answer.Choice)
	if !ok {
		return Answer{}, kindMismatch(field.KindChoice, value)
	}
	return Answer{
		Value:    v.Value,
		Metadata: map[string]string{MetaLabel: tc.Field.OptionLabel(v.Value)},
	}, nil
}

func transformMultiChoice(_ context.Context, value answer.Value, tc Context) (Answer, error) {
	v, ok := value.(answer.MultiChoice)
	if !ok {
		return Answer{}, kindMismatch(field.KindMultiChoice, value)
	}
	seen := make(map[string]struct{}, len(v.Values))
	values := make([]string, 0, len(v.Values))
	labels := make([]string, 0, len(v.Values))
	for _, item := range v.Values {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		values = append(values, item)
		labels = append(labels, tc.Field.OptionLabel(item))
	}
	return Answer{
		Value:    values,
		Metadata: map[string]string{MetaLabels: strings.Join(labels, ", ")},
	}, nil
}

func transformRating(_ context.Context, value answer.Value, tc Context) (Answer, error) {
	v, ok := value.(answer.Rating)
	if !ok {
		return Answer{}, kindMismatch(field.KindRating, value)
	}
	lo, hi := float64(schema.DefaultRatingMin), float64(schema.DefaultRatingMax)
	if m := tc.Field.Constraints.Min; m != nil {
		lo = *m
	}
	if m := tc.Field.Constraints.Max; m != nil {
		hi = *m
	}
	scale := strconv.FormatFloat(lo, 'f', -1, 64) + "-" + strconv.FormatFloat(hi, 'f', -1, 64)
	return Answer{
		Value:    v.Value,
		Metadata: map[string]string{MetaScale: scale},
	}, nil
}

func transformInlineFile(_ context.Context, value answer.Value, _ Context) (Answer, error) {
	v, ok := value.(answer.File)
	if !ok {
		return Answer{}, kindMismatch(field.KindFile, value)
	}
	meta := fileMetadata(v)
	meta[MetaEncoding] = "base64"
	return Answer{
		Value:    base64.StdEncoding.EncodeToString(v.Data),
		Metadata: meta,
	}, nil
}

func fileMetadata(v answer.File) map[string]string {
	sum := sha256.Sum256(v.Data)
	return map[string]string{
		MetaName:        v.Name,
		MetaContentType: v.ContentType,
		MetaSize:        strconv.FormatInt(v.Size(), 10),
		MetaSHA256:      hex.EncodeToString(sum[:]),
	}
}
