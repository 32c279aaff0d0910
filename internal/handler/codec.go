package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
)

const maxBodySize = 1 << 20

// decoder is implemented by request types. decodeField handles one object
// key and reports false for keys the type does not know.
type decoder interface {
	decodeField(d *jx.Decoder, key string) (bool, error)
}

// decodeBody reads a JSON object into dst, rejects unknown fields and runs
// struct validation.
func (h *Handler) decodeBody(r *http.Request, dst decoder) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return apperr.Validation("failed to read request body")
	}
	if len(data) > maxBodySize {
		return apperr.Validation("request body too large")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return apperr.Validation("request body required")
	}

	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return apperr.Validation("request body must be a JSON object")
	}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		known, err := dst.decodeField(d, string(key))
		if err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) {
				return ae
			}
			return apperr.Validation("invalid value for field " + strconv.Quote(string(key)))
		}
		if !known {
			return apperr.Validation("unknown field " + strconv.Quote(string(key)))
		}
		return nil
	}); err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return ae
		}
		return apperr.Validation("malformed JSON body")
	}
	if d.Next() != jx.Invalid {
		return apperr.Validation("unexpected data after JSON body")
	}
	return h.check(dst)
}

// check runs validator tags on v and converts the first failure into a
// validation error naming the JSON field.
func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.Wrap(err, "validate")
	}
	return apperr.Validation(fieldMessage(verrs[0]))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "url":
		return field + " must be a valid URL"
	case "min", "gte":
		return field + " must be at least " + fe.Param()
	case "max", "lte":
		return field + " must be at most " + fe.Param()
	case "gt":
		return field + " must be greater than " + fe.Param()
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "alphanum":
		return field + " must contain only letters and digits"
	default:
		return field + " is invalid"
	}
}

// Field decoders. Nullable fields accept JSON null as the zero value.

func decodeStr(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		*dst = ""
		return d.Null()
	}
	v, err := d.Str()
	*dst = v
	return err
}

func decodeInt(d *jx.Decoder, dst *int) error {
	v, err := d.Int()
	*dst = v
	return err
}

func decodeInt64(d *jx.Decoder, dst *int64) error {
	v, err := d.Int64()
	*dst = v
	return err
}

func decodeStrings(d *jx.Decoder, dst *[]string) error {
	if d.Next() == jx.Null {
		*dst = nil
		return d.Null()
	}
	*dst = []string{}
	return d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		*dst = append(*dst, s)
		return err
	})
}

func decodeArr[T any, PT interface {
	*T
	decoder
}](d *jx.Decoder, dst *[]T) error {
	*dst = []T{}
	return d.Arr(func(d *jx.Decoder) error {
		var v T
		if err := decodeObject(d, PT(&v)); err != nil {
			return err
		}
		*dst = append(*dst, v)
		return nil
	})
}

func decodeObject(d *jx.Decoder, dst decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		known, err := dst.decodeField(d, key)
		if err != nil {
			return err
		}
		if !known {
			return apperr.Validation("unknown field " + strconv.Quote(key))
		}
		return nil
	})
}

// Response helpers.

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encodeTime(e *jx.Encoder, field string, t time.Time) {
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeStrings(e *jx.Encoder, field string, values []string) {
	e.FieldStart(field)
	e.ArrStart()
	for _, v := range values {
		e.Str(v)
	}
	e.ArrEnd()
}

func encodePage(e *jx.Encoder, total, page, pageSize int) {
	e.FieldStart("total")
	e.Int(total)
	e.FieldStart("page")
	e.Int(page)
	e.FieldStart("pageSize")
	e.Int(pageSize)
}

// pageParams reads page and pageSize from the query string. Missing values
// are zero and left to the service defaults.
func pageParams(r *http.Request) (page, pageSize int, err error) {
	q := r.URL.Query()
	if page, err = queryInt(q.Get("page")); err != nil || page < 0 {
		return 0, 0, apperr.Validation("page must be a non-negative integer")
	}
	if pageSize, err = queryInt(q.Get("pageSize")); err != nil || pageSize < 0 {
		return 0, 0, apperr.Validation("pageSize must be a non-negative integer")
	}
	return page, pageSize, nil
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
