package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes the standard envelope.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return DataResponse(c, http.StatusOK, &ListDataResponse{Rows: rows, Total: total})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// AppErrorResponse writes an *AppError; any other error, and internal
// errors, become an opaque 500.
func AppErrorResponse(c echo.Context, err error) error {
	var ae *AppError
	if !errors.As(err, &ae) || ae.Status == http.StatusInternalServerError {
		return DataResponse(c, http.StatusInternalServerError, "Something went wrong")
	}
	return DataResponse(c, ae.Status, []*AppError{ae})
}
