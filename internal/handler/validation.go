package handler

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/service"
	"github.com/NoraXie/echoid/internal/util"
)

var javaPackagePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)+$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("nomarkup", func(fl validator.FieldLevel) bool {
		return !util.ContainsSuspicious(fl.Field().String())
	})
	_ = v.RegisterValidation("javapackage", func(fl validator.FieldLevel) bool {
		return javaPackagePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("e164ish", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return !strings.Contains(value, "@") && models.IsPhoneNumber(value)
	})
	return v
}

// normalizePhone drops the separators people type into phone fields.
func normalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(phone))
}

// validationError wraps ErrInvalidInput with the failing fields.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" failed "+fe.Tag())
	}
	return fmt.Errorf("%w: %s", service.ErrInvalidInput, strings.Join(fields, ", "))
}
