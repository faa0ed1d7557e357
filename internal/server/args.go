package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownTool is returned by ValidateArgs for names no tool answers to.
var ErrUnknownTool = errors.New("unknown tool")

// ToolArgs is implemented by the typed argument struct of every tool.
type ToolArgs interface {
	ToolName() string
}

// ParseImageArgs are the arguments of Parse_Image_Into_Rules_Of_Thirds.
type ParseImageArgs struct {
	Prompt    string `json:"prompt" jsonschema_description:"Prompt from the user" validate:"required,notblank"`
	ImagePath string `json:"imagePath" jsonschema_description:"Path to the image file on the local machine" validate:"required,notblank"`
}

func (*ParseImageArgs) ToolName() string { return ToolParseImage }

// DetectObjectsArgs are the arguments of CamPro_DetectObj.
type DetectObjectsArgs struct {
	FilePath string `json:"filePath" jsonschema_description:"Path to the image file on the local machine" validate:"required,notblank"`
}

func (*DetectObjectsArgs) ToolName() string { return ToolDetectObjects }

// ChatArgs are the arguments of CamPro_Chat.
type ChatArgs struct {
	Message string `json:"message" jsonschema_description:"Question or message for the assistant" validate:"required,notblank"`
}

func (*ChatArgs) ToolName() string { return ToolChat }

var argFactories = map[string]func() ToolArgs{
	ToolParseImage:    func() ToolArgs { return new(ParseImageArgs) },
	ToolDetectObjects: func() ToolArgs { return new(DetectObjectsArgs) },
	ToolChat:          func() ToolArgs { return new(ChatArgs) },
}

// ArgumentError describes arguments that failed decoding or validation.
type ArgumentError struct {
	Tool     string
	Problems []string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidateArgs decodes raw into the typed arguments of the named tool and
// checks them. It returns ErrUnknownTool for unknown names and an
// *ArgumentError for malformed arguments.
func ValidateArgs(name string, raw json.RawMessage) (ToolArgs, error) {
	factory, ok := argFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	args := factory()
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	if err := json.Unmarshal(raw, args); err != nil {
		return nil, &ArgumentError{Tool: name, Problems: []string{decodeProblem(err)}}
	}

	if err := validate.Struct(args); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, &ArgumentError{Tool: name, Problems: []string{err.Error()}}
		}
		problems := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			problems = append(problems, fieldProblem(fe))
		}
		return nil, &ArgumentError{Tool: name, Problems: problems}
	}

	return args, nil
}

func decodeProblem(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field == "" {
			return fmt.Sprintf("arguments must be an object, got %s", typeErr.Value)
		}
		return fmt.Sprintf("%s must be a %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
	}
	return err.Error()
}

func fieldProblem(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "notblank":
		return fe.Field() + " must not be blank"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
