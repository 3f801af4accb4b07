package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// TagEventType validates a model.EventType field.
const TagEventType = "event_type"

var (
	// trans is the singleton English translator for validation errors.
	trans ut.Translator
	once  sync.Once
)

// Setup registers the validator with English translations on Gin's binding engine.
// Safe to call more than once.
func Setup() {
	once.Do(setup)
}

func setup() {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}

	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(TagEventType, func(fl govalidator.FieldLevel) bool {
		return model.EventType(fl.Field().String()).Valid()
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	_ = v.RegisterTranslation(TagEventType, trans,
		func(ut ut.Translator) error {
			return ut.Add(TagEventType, "{0} is not a known security event type", true)
		},
		func(ut ut.Translator, fe govalidator.FieldError) string {
			msg, _ := ut.T(TagEventType, fe.Field())
			return msg
		},
	)
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name to human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if trans != nil {
				fields[fe.Field()] = fe.Translate(trans)
			} else {
				fields[fe.Field()] = fe.Error()
			}
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// FailedOn reports whether err is a validation error raised by tag.
func FailedOn(err error, tag string) bool {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return false
	}
	for _, fe := range ve {
		if fe.Tag() == tag {
			return true
		}
	}
	return false
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// Struct validates a value decoded outside Gin's binding, such as a
// WebSocket message payload.
func Struct(v interface{}) error {
	return binding.Validator.ValidateStruct(v)
}
