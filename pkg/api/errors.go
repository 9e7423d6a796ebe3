package api

import (
	"errors"
	"net/http"
	"runtime"

	"github.com/emicklei/go-restful/v3"
	"github.com/golang/glog"

	"purchases/internal/types"
	"purchases/pkg/utils"
)

type ErrorType = string

const (
	ErrorInternalServerError ErrorType = "internal_server_error"
	ErrorInvalidGrant        ErrorType = "invalid_grant"
	ErrorBadRequest          ErrorType = "bad_request"
	ErrorUnknown             ErrorType = "unknown_error"
)

const (
	OK                  = 200
	InternalServerError = 500

	Success = "success"
)

func HandleInternalError(response *restful.Response, err error) {
	Handle(http.StatusInternalServerError, response, err)
}

func HandleUnauthorized(response *restful.Response, err error) {
	Handle(http.StatusUnauthorized, response, err)
}

func HandleBadRequest(response *restful.Response, err error) {
	Handle(http.StatusBadRequest, response, err)
}

// HandleError maps an engine error to an HTTP status via its taxonomy code.
func HandleError(response *restful.Response, err error) {
	Handle(statusForCode(types.CodeOf(err)), response, err)
}

func statusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidCredentials, types.ErrInsufficientPermissions:
		return http.StatusUnauthorized
	case types.ErrInvalidAppUserID, types.ErrConfiguration, types.ErrInvalidSubscriberAttributes:
		return http.StatusBadRequest
	case types.ErrProductNotAvailableForPurchase:
		return http.StatusNotFound
	case types.ErrOperationAlreadyInProgress:
		return http.StatusConflict
	case types.ErrNetwork, types.ErrUnknownBackend, types.ErrUnexpectedBackendResponse:
		return http.StatusBadGateway
	case types.ErrProductRequestTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

func Handle(statusCode int, resp *restful.Response, err error) {
	_, fn, line, _ := runtime.Caller(2)
	glog.Errorf("%s:%d %v", fn, line, err)

	var t Error
	if errors.As(err, &t) {
		_ = resp.WriteHeaderAndEntity(statusCode, t)
		return
	}

	var errType ErrorType
	switch statusCode {
	case http.StatusBadRequest:
		errType = ErrorBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = ErrorInvalidGrant
	case http.StatusInternalServerError:
		errType = ErrorInternalServerError
	default:
		errType = ErrorUnknown
	}

	entity := Error{
		Code:             statusCode,
		Msg:              err.Error(),
		ErrorType:        errType,
		ErrorDescription: err.Error(),
	}
	if pe, ok := err.(*types.PurchasesError); ok {
		entity.ErrorType = string(pe.Code)
		entity.UserCancelled = pe.UserCancelled
	}
	_ = resp.WriteHeaderAndEntity(statusCode, entity)
}

type Error struct {
	Code             int    `json:"code"`
	Msg              string `json:"message"`
	ErrorType        string `json:"error_type,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	UserCancelled    bool   `json:"user_cancelled,omitempty"`
}

func (e Error) Error() string {
	return utils.PrettyJSON(e)
}

func NewError(t string, errs ...string) Error {
	var desc string
	if len(errs) > 0 {
		desc = errs[0]
	}
	return Error{ErrorType: t, ErrorDescription: desc}
}

type ErrorMessage struct {
	Message string `json:"message"`
}

func (e ErrorMessage) Error() string {
	return e.Message
}

var ErrorNone = ErrorMessage{Message: "success"}
