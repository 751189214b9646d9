package api

import (
	"encoding/json"
	"errors"
	"runtime/debug"
	"strings"

	"github.com/gofiber/fiber/v2"

	"faultline/internal/domain"
	"faultline/internal/ingest"
	"faultline/internal/sanitize"
)

// maxCapturedBody bounds the request body copied into a capture.
const maxCapturedBody = 64 << 10

var headerSanitizer = sanitize.New()

// CaptureErrors records handler errors that end in a 5xx and panics.
// Panics are captured and then re-raised for the recover middleware.
// Must be registered after requestid so the request id is available.
func CaptureErrors(capturer ingest.Capturer, component string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				capturer.Capture(domain.FailureFromPanic(r, debug.Stack()), requestContext(c, component))
				panic(r)
			}
		}()

		err := c.Next()
		if err == nil {
			return nil
		}

		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		if status >= fiber.StatusInternalServerError {
			capturer.Capture(domain.FailureFromError(err), requestContext(c, component))
		}
		return err
	}
}

// requestContext snapshots the request. The app runs with Immutable set, so
// strings taken from the request stay valid after the handler returns.
func requestContext(c *fiber.Ctx, component string) *domain.ErrorContext {
	ec := &domain.ErrorContext{
		RequestID: c.GetRespHeader(fiber.HeaderXRequestID),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		IP:        c.IP(),
		Path:      c.Path(),
		Method:    c.Method(),
		Component: component,
	}

	if headers := c.GetReqHeaders(); len(headers) > 0 {
		raw := make(map[string]any, len(headers))
		for k, v := range headers {
			raw[k] = v
		}
		ec.Headers = headerSanitizer.Headers(raw)
	}

	if params := c.AllParams(); len(params) > 0 {
		ec.Params = params
	}

	if body := c.Body(); len(body) > 0 && len(body) <= maxCapturedBody {
		var decoded any
		if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) && json.Unmarshal(body, &decoded) == nil {
			ec.Body = decoded
		} else {
			ec.Body = string(body)
		}
	}

	return ec
}
