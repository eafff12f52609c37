package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	vOnce sync.Once
	v     *validator.Validate
)

func validate() *validator.Validate {
	vOnce.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		// report config key names rather than Go field names
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("toml")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
	})
	return v
}

// Validate checks a definition's field constraints.
func Validate(d Definition) error {
	err := validate().Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	name := d.Name
	if name == "" {
		name = "<unnamed>"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		path := strings.TrimPrefix(fe.Namespace(), "Definition.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", path))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", path, fe.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be >= %s", path, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", path, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid schema %s: %s", name, strings.Join(msgs, "; "))
}
