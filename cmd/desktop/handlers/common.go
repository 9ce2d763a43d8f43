// Package handlers provides the local control API served by the desktop
// process.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/logging"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// SuccessResponse wraps successful payloads.
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{Data: data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Message: message, Code: string(apperrors.ErrValidation)})
}

// fail writes err with the status matching its code.
func fail(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err, map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		})
	}
	c.JSON(status, ErrorResponse{Message: err.Error(), Code: string(code)})
}

// StatusFor maps an error code onto an HTTP status.
func StatusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrValidation:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrAuthentication:
		return http.StatusUnauthorized
	case apperrors.ErrNetwork, apperrors.ErrServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FormatBindingError renders a bind failure for API clients.
func FormatBindingError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, io.EOF) {
		return "Request body is empty"
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("Invalid JSON at byte offset %d", syntaxErr.Offset)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("Field '%s' should be of type %s", typeErr.Field, typeErr.Type.String())
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		out := make([]string, 0, len(ve))
		for _, fe := range ve {
			switch fe.Tag() {
			case "required":
				out = append(out, fmt.Sprintf("Field '%s' is required", fe.Field()))
			case "oneof":
				out = append(out, fmt.Sprintf("Field '%s' must be one of [%s]", fe.Field(), fe.Param()))
			default:
				out = append(out, fmt.Sprintf("Field '%s' failed validation for '%s'", fe.Field(), fe.Tag()))
			}
		}
		return strings.Join(out, ", ")
	}

	return err.Error()
}
