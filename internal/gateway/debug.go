package gateway

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxBodyLogSize = 1024

func (c *Client) logRequest(req Request, httpReq *http.Request, payload []byte) {
	if ce := c.log.Check(zap.DebugLevel, "request"); ce != nil {
		fields := []zap.Field{
			zap.String("operation", req.Name),
			zap.String("method", httpReq.Method),
			zap.String("url", httpReq.URL.String()),
		}
		if len(payload) > 0 {
			fields = append(fields, zap.String("body", truncateBody(payload)))
		}
		ce.Write(fields...)
	}
}

func (c *Client) logResponse(req Request, resp *http.Response, body []byte, duration time.Duration) {
	if ce := c.log.Check(zap.DebugLevel, "response"); ce != nil {
		fields := []zap.Field{
			zap.String("operation", req.Name),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", duration.Round(time.Millisecond)),
		}
		if len(body) > 0 {
			fields = append(fields, zap.String("body", truncateBody(body)))
		}
		ce.Write(fields...)
	}
}

func (c *Client) logError(req Request, err error, duration time.Duration) {
	c.log.Debug("request failed",
		zap.String("operation", req.Name),
		zap.Duration("duration", duration.Round(time.Millisecond)),
		zap.Error(err),
	)
}

func truncateBody(body []byte) string {
	if len(body) <= maxBodyLogSize {
		return string(body)
	}
	return string(body[:maxBodyLogSize]) + fmt.Sprintf("... (truncated, %d bytes total)", len(body))
}
