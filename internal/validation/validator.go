// Package validation checks account and video records before they are
// persisted and decides which discovered videos fall outside the backfill
// window.
//
// Structural checks use a singleton go-playground validator driven by the
// `validate` tags on the models. Failures are returned as a Result and never
// panic or abort a batch; callers decide whether to skip the record.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/reelpulse/reelpulse/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Result is the outcome of a structural check.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Error joins the messages of an invalid result.
func (r Result) Error() string {
	if r.Valid {
		return ""
	}
	return strings.Join(r.Errors, "; ")
}

// GetValidator returns the singleton validator. Field names in messages use
// the json tag so they match the API payloads.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateStruct runs the tag rules on s and translates failures to messages.
func ValidateStruct(s interface{}) Result {
	err := GetValidator().Struct(s)
	if err == nil {
		return Result{Valid: true}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Result{Errors: []string{err.Error()}}
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, translateError(fe))
	}
	return Result{Errors: messages}
}

// ValidateAccount checks a tracked account record.
func ValidateAccount(account *models.TrackedAccount) Result {
	if account == nil {
		return Result{Errors: []string{"account is required"}}
	}
	result := ValidateStruct(account)
	if strings.ContainsAny(account.Username, " \t\n") {
		result.Valid = false
		result.Errors = append(result.Errors, "username must not contain whitespace")
	}
	return result
}

// ValidateVideo checks a normalized video record.
func ValidateVideo(video *models.Video) Result {
	if video == nil {
		return Result{Errors: []string{"video is required"}}
	}
	result := ValidateStruct(video)
	if video.ID != "" && video.ID != video.DocID() {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("id %q does not match composite key %q", video.ID, video.DocID()))
	}
	return result
}

var errorMessageTemplates = map[string]string{
	"required": "%s is required",
	"url":      "%s must be a valid URL",
}

var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
}

func translateError(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}

	isString := fe.Kind() == reflect.String
	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
