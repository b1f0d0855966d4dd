package middleware

import (
	"net/http"

	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/httputil"
)

func writeError(w http.ResponseWriter, err *apperrors.AppError) {
	httputil.WriteErrorWithStatus(w, httputil.StatusFromCode(err.Code), err)
}
