package v1

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

// streamEvents writes events as server-sent events until the stream ends.
// Each frame is "event: <NAME>\ndata: <json>\n\n".
func streamEvents(c echo.Context, events <-chan domain.Event) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	broken := false
	for ev := range events {
		// Keep draining after a write failure so the run can finish.
		if broken {
			continue
		}
		name, data, err := domain.EncodeEvent(ev)
		if err != nil {
			c.Logger().Errorf("failed to encode event: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", name, data); err != nil {
			broken = true
			continue
		}
		res.Flush()
	}
	return nil
}
