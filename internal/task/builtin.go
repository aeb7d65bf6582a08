package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Built-in task kinds
const (
	KindReverseString        = "reverse_string"
	KindGenerateRandomNumber = "generate_random_number"
)

// MaxTextLength bounds the text accepted by reverse_string, in characters.
const MaxTextLength = 1000

const (
	defaultMinValue = 1
	defaultMaxValue = 100
)

var paramValidator = newParamValidator()

func newParamValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

type reverseParams struct {
	Text string `json:"text" validate:"required,max=1000"`
}

type randomParams struct {
	MinValue int `json:"min_value" validate:"gte=-1000000000,lte=1000000000"`
	MaxValue int `json:"max_value" validate:"gte=-1000000000,lte=1000000000,gtefield=MinValue"`
}

// ReverseStringKind reverses the "text" parameter.
func ReverseStringKind() Kind {
	return Kind{
		Name:        KindReverseString,
		Aliases:     []string{"reverse"},
		Description: "Reverses the given text",
		Params:      []string{"text"},
		Validate: func(params map[string]any) (map[string]any, error) {
			raw, ok := params["text"]
			if !ok || raw == nil {
				return nil, &ParameterError{Name: "text", Missing: true}
			}
			text, ok := raw.(string)
			if !ok {
				return nil, &ParameterError{Name: "text", Detail: "text must be a string"}
			}
			if text == "" {
				return nil, &ParameterError{Name: "text", Missing: true}
			}
			if err := validateParams(reverseParams{Text: text}); err != nil {
				return nil, err
			}
			return map[string]any{"text": text}, nil
		},
		Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			text, _ := params["text"].(string)
			return map[string]any{"reversed_text": reverseRunes(text)}, nil
		},
	}
}

// GenerateRandomNumberKind draws an integer in [min_value, max_value].
func GenerateRandomNumberKind() Kind {
	return Kind{
		Name:        KindGenerateRandomNumber,
		Description: "Generates a random integer between min_value and max_value inclusive",
		Params:      []string{"min_value", "max_value"},
		Validate: func(params map[string]any) (map[string]any, error) {
			p := randomParams{MinValue: defaultMinValue, MaxValue: defaultMaxValue}
			var err error
			if raw, ok := params["min_value"]; ok && raw != nil {
				if p.MinValue, err = toInt("min_value", raw); err != nil {
					return nil, err
				}
			}
			if raw, ok := params["max_value"]; ok && raw != nil {
				if p.MaxValue, err = toInt("max_value", raw); err != nil {
					return nil, err
				}
			}
			if err := validateParams(p); err != nil {
				return nil, err
			}
			return map[string]any{"min_value": p.MinValue, "max_value": p.MaxValue}, nil
		},
		Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			lo, _ := params["min_value"].(int)
			hi, _ := params["max_value"].(int)
			if hi < lo {
				return nil, fmt.Errorf("max_value %d is less than min_value %d", hi, lo)
			}
			return map[string]any{"number": lo + rand.IntN(hi-lo+1)}, nil
		},
	}
}

func reverseRunes(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

// toInt accepts JSON numbers with no fractional part and decimal strings.
func toInt(name string, raw any) (int, error) {
	invalid := &ParameterError{Name: name, Detail: name + " must be an integer"}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, invalid
		}
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
			return 0, invalid
		}
		return int(v), nil
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, invalid
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, invalid
		}
		return n, nil
	default:
		return 0, invalid
	}
}

func validateParams(p any) error {
	err := paramValidator.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ParameterError{Detail: err.Error()}
	}

	fe := verrs[0]
	var detail string
	switch fe.Tag() {
	case "required":
		return &ParameterError{Name: fe.Field(), Missing: true}
	case "max":
		detail = fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "lte":
		detail = fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gte":
		detail = fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "gtefield":
		detail = fmt.Sprintf("%s must not be less than %s", fe.Field(), fieldJSONName(fe.Param()))
	default:
		detail = fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
	return &ParameterError{Name: fe.Field(), Detail: detail}
}

func fieldJSONName(goName string) string {
	switch goName {
	case "MinValue":
		return "min_value"
	case "MaxValue":
		return "max_value"
	default:
		return goName
	}
}
