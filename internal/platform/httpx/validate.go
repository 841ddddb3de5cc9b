package httpx

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that reports fields by their json names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// FieldsFromValidator converts validator errors into FieldErrors keyed by the json
// field name, with messages in German. Other errors are returned unchanged.
func FieldsFromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = fieldMessage(fe)
	}
	return fields
}

// fieldPath drops the root struct name from the namespace, e.g. items[0].quantity.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Dieses Feld ist erforderlich."
	case "email":
		return "Ungültige E-Mail-Adresse."
	case "min":
		return fmt.Sprintf("Mindestens %s Zeichen erforderlich.", fe.Param())
	case "max":
		return fmt.Sprintf("Höchstens %s Zeichen erlaubt.", fe.Param())
	case "gte":
		return fmt.Sprintf("Wert muss mindestens %s sein.", fe.Param())
	}
	return "Ungültiger Wert."
}
