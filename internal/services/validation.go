package services

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/healthdash/backend/internal/models"
	"github.com/nyaruka/phonenumbers"
)

type SignupInput struct {
	FullName      string `json:"full_name" validate:"required,max=200"`
	Email         string `json:"email" validate:"required,email,max=254"`
	Password      string `json:"password" validate:"required,min=8,max=72"`
	Role          string `json:"role" validate:"required,oneof=doctor patient"`
	WalletAddress string `json:"wallet_address,omitempty" validate:"omitempty,max=128"`

	// doctor
	Specialization string   `json:"specialization,omitempty" validate:"omitempty,max=200"`
	RegistrationID string   `json:"registration_id,omitempty" validate:"omitempty,max=100"`
	DocumentURLs   []string `json:"document_urls,omitempty" validate:"omitempty,dive,url"`

	// patient
	Age      int    `json:"age,omitempty" validate:"omitempty,min=1,max=130"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,phone"`
	Gender   string `json:"gender,omitempty" validate:"omitempty,max=32"`
	DeviceID string `json:"device_id,omitempty" validate:"omitempty,max=128"`
}

type SigninInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type Validator struct {
	v *validator.Validate
}

// NewValidator panics if a custom tag cannot be registered.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		_, ok := NormalizePhone(fl.Field().String())
		return ok
	})
	if err != nil {
		panic("services: register phone validation: " + err.Error())
	}
	return &Validator{v: v}
}

// ValidateSignup checks the common fields and the fields required by the role.
func (val *Validator) ValidateSignup(in SignupInput) error {
	fields := val.details(val.v.Struct(in))

	switch in.Role {
	case models.RoleDoctor:
		val.require(fields, "specialization", in.Specialization)
		val.require(fields, "registration_id", in.RegistrationID)
	case models.RolePatient:
		val.require(fields, "age", in.Age)
		val.require(fields, "phone", in.Phone)
		val.require(fields, "gender", in.Gender)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (val *Validator) ValidateSignin(in SigninInput) error {
	if fields := val.details(val.v.Struct(in)); len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (val *Validator) require(fields map[string]string, name string, value any) {
	if _, done := fields[name]; done {
		return
	}
	if err := val.v.Var(value, "required"); err != nil {
		fields[name] = "is required"
	}
}

func (val *Validator) details(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["payload"] = "invalid payload"
		return out
	}
	for _, fe := range verrs {
		field := fe.Field()
		if ns := fe.Namespace(); strings.Contains(ns, "[") {
			// document_urls[1] -> document_urls
			field = strings.SplitN(field, "[", 2)[0]
		}
		out[field] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "url":
		return "must be a valid URL"
	case "phone":
		return "must be a valid phone number in international format"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}

// NormalizePhone parses an international number and returns it in E.164.
func NormalizePhone(raw string) (string, bool) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), "")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}
