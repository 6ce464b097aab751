package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"quiz-room-service/internal/domain"
)

type inboundMessage struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

type createRoomPayload struct {
	RoomID            string `json:"roomId" validate:"omitempty,max=32,alphanum"`
	QuizID            string `json:"quizId" validate:"required,max=128"`
	Name              string `json:"name" validate:"required,max=64"`
	Mode              string `json:"mode" validate:"omitempty,oneof=teacher student"`
	AllowAnswerChange *bool  `json:"allowAnswerChange"`
	Credential        string `json:"credential"`
}

type joinRoomPayload struct {
	RoomID     string `json:"roomId" validate:"required,max=32"`
	Name       string `json:"name" validate:"required,max=64"`
	Credential string `json:"credential"`
}

type submitAnswerPayload struct {
	QuestionID string             `json:"questionId" validate:"required"`
	Value      domain.AnswerValue `json:"value"`
}

// payloadValidator checks inbound payloads and renders failures with JSON field names.
type payloadValidator struct {
	v     *govalidator.Validate
	trans ut.Translator
}

func newPayloadValidator() *payloadValidator {
	v := govalidator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)
	return &payloadValidator{v: v, trans: trans}
}

// decode unmarshals raw into dst and validates it. Every failure wraps domain.ErrInvalidPayload.
func (p *payloadValidator) decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := p.v.Struct(dst); err != nil {
		var ve govalidator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fe.Translate(p.trans))
			}
			sort.Strings(msgs)
			return fmt.Errorf("%w: %s", domain.ErrInvalidPayload, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}
