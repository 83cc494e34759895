package models

import (
	"math"

	"github.com/go-playground/validator/v10"
)

var defaultValidator = initValidator()

func initValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("finite", validateFinite); err != nil {
		panic(err)
	}
	return v
}

// validateFinite rejects NaN and infinite coordinates.
func validateFinite(fl validator.FieldLevel) bool {
	f := fl.Field().Float()
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func validateStruct(s any) error {
	return defaultValidator.Struct(s)
}

// ValidateUser checks the identity fields of a joining user.
func ValidateUser(u User) error {
	return validateStruct(u)
}

func ValidateLayer(l Layer) error {
	return validateStruct(l)
}

func ValidateComment(c Comment) error {
	return validateStruct(c)
}
