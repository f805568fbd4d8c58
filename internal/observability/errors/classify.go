// Package errors turns job failures into low-cardinality class names for metric tags and alerts.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/target/mmk-jobqueue/internal/errors"
)

const unknownClass = "unknown"

// Classify names the kind of err. Context errors and coded store errors map to fixed names;
// anything else is named after the innermost error's Go type, e.g. "errors_errorstring".
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case goerrors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	}
	if code := apperrors.CodeOf(err); code != "" {
		return string(code)
	}
	return typeName(innermost(err))
}

func innermost(err error) error {
	for {
		next := goerrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return unknownClass
	}
	name := t.String()
	if name == "" {
		return unknownClass
	}
	return strings.ReplaceAll(strings.ToLower(name), ".", "_")
}
