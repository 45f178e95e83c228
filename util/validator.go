package util

import (
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("latitude", validateLatitude)
	validate.RegisterValidation("longitude", validateLongitude)
	validate.RegisterValidation("category", validateCategory)
	validate.RegisterValidation("visibility", validateVisibility)
}

func validateLatitude(fl validator.FieldLevel) bool {
	lat := fl.Field().Float()
	return lat >= -90 && lat <= 90
}

func validateLongitude(fl validator.FieldLevel) bool {
	lon := fl.Field().Float()
	return lon >= -180 && lon <= 180
}

func validateCategory(fl validator.FieldLevel) bool {
	return model.Category(fl.Field().String()).Valid()
}

func validateVisibility(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return v == "" || model.Visibility(v).Valid()
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}
