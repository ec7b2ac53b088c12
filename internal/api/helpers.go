package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// respond writes body as JSON and records status for the access log.
func respond(c *echo.Context, status int, body any) error {
	if st := stateFrom(c.Request().Context()); st != nil {
		st.status = status
	}
	return c.JSON(status, body)
}

// decodeJSON reads at most limit bytes from r into a T.
func decodeJSON[T any](r io.Reader, limit int64) (T, error) {
	var out T
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return out, newInvalidRequest(fmt.Sprintf("read body: %v", err))
	}
	if int64(len(data)) > limit {
		return out, errBodyTooLarge
	}
	if len(data) == 0 {
		return out, newInvalidRequest("request body is empty")
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, newInvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return out, nil
}

var errBodyTooLarge = errors.New("request body too large")

func statusFromError(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
