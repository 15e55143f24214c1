package ir

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("lat", func(fl validator.FieldLevel) bool {
			val := fl.Field().Float()
			return !math.IsNaN(val) && val >= -90 && val <= 90
		})
		_ = v.RegisterValidation("lng", func(fl validator.FieldLevel) bool {
			val := fl.Field().Float()
			return !math.IsNaN(val) && val >= -180 && val <= 180
		})
		validate = v
	})
	return validate
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid fields: %s", strings.Join(e.Fields, ", "))
}

// Validate checks a draft, patch, message or location against its tags.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ve := &ValidationError{}
	for _, fe := range verrs {
		ve.Fields = append(ve.Fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
	}
	return ve
}
