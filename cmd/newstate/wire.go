package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/caffeineduck/newstate/codec"
	"github.com/caffeineduck/newstate/executor"
	"github.com/caffeineduck/newstate/sandbox"
	"github.com/caffeineduck/newstate/transfer"
	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const mimeCBOR = "application/cbor"

// request is a decoded request body. Every field is optional; handlers
// check what they need.
type request struct {
	Code    string
	Args    []transfer.Value
	Timeout time.Duration
	Option  string
	Params  []int
	KV      bool
}

type jsonRequest struct {
	Code    string `json:"code"`
	Args    []any  `json:"args"`
	Timeout string `json:"timeout"`
	Option  string `json:"option"`
	Params  []int  `json:"params"`
	KV      bool   `json:"kv"`
}

type cborRequest struct {
	Code    string          `cbor:"code"`
	Args    cbor.RawMessage `cbor:"args"`
	Timeout string          `cbor:"timeout"`
	Option  string          `cbor:"option"`
	Params  []int           `cbor:"params"`
	KV      bool            `cbor:"kv"`
}

// response is written as JSON, or as CBOR when the client asks for it.
type response struct {
	SessionID string
	Values    []transfer.Value
	Value     *int
	Status    sandbox.Status
	Error     string
	Duration  time.Duration
}

type jsonResponse struct {
	SessionID  string `json:"session_id,omitempty"`
	Values     []any  `json:"values,omitempty"`
	Value      *int   `json:"value,omitempty"`
	Status     int    `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type cborResponse struct {
	SessionID  string          `cbor:"session_id,omitempty"`
	Values     cbor.RawMessage `cbor:"values,omitempty"`
	Value      *int            `cbor:"value,omitempty"`
	Status     int             `cbor:"status"`
	Error      string          `cbor:"error,omitempty"`
	DurationMs int64           `cbor:"duration_ms"`
}

// decodeRequest reads at most limit bytes of body. An empty body decodes
// to the zero request.
func decodeRequest(c *gin.Context, limit int64) (request, error) {
	var req request
	if c.Request.Body == nil {
		return req, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		return req, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return req, nil
	}

	var timeout string
	if c.ContentType() == mimeCBOR {
		var cr cborRequest
		if err := codec.UnmarshalEnvelope(body, &cr); err != nil {
			return req, fmt.Errorf("invalid cbor: %w", err)
		}
		if len(cr.Args) > 0 {
			if req.Args, err = codec.UnmarshalValues(cr.Args); err != nil {
				return req, fmt.Errorf("args: %w", err)
			}
		}
		req.Code, req.Option, req.Params, req.KV = cr.Code, cr.Option, cr.Params, cr.KV
		timeout = cr.Timeout
	} else {
		var jr jsonRequest
		if err := binding.JSON.BindBody(body, &jr); err != nil {
			return req, fmt.Errorf("invalid json: %w", err)
		}
		for i, a := range jr.Args {
			v, err := codec.FromJSON(a)
			if err != nil {
				return req, fmt.Errorf("args[%d]: %w", i, err)
			}
			req.Args = append(req.Args, v)
		}
		req.Code, req.Option, req.Params, req.KV = jr.Code, jr.Option, jr.Params, jr.KV
		timeout = jr.Timeout
	}

	if timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil || d < 0 {
			return req, fmt.Errorf("invalid timeout %q", timeout)
		}
		req.Timeout = d
	}
	return req, nil
}

// wantsCBOR follows Accept, falling back to the request's own content type.
func wantsCBOR(c *gin.Context) bool {
	accept := c.GetHeader("Accept")
	if strings.Contains(accept, mimeCBOR) {
		return true
	}
	if accept == "" || strings.Contains(accept, "*/*") {
		return c.ContentType() == mimeCBOR
	}
	return false
}

func render(c *gin.Context, code int, resp response) {
	if wantsCBOR(c) {
		out := cborResponse{
			SessionID:  resp.SessionID,
			Value:      resp.Value,
			Status:     int(resp.Status),
			Error:      resp.Error,
			DurationMs: resp.Duration.Milliseconds(),
		}
		if len(resp.Values) > 0 {
			vals, err := codec.MarshalValues(resp.Values)
			if err != nil {
				renderEncodeError(c, err)
				return
			}
			out.Values = vals
		}
		data, err := cbor.Marshal(out)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Data(code, mimeCBOR, data)
		return
	}

	out := jsonResponse{
		SessionID:  resp.SessionID,
		Value:      resp.Value,
		Status:     int(resp.Status),
		Error:      resp.Error,
		DurationMs: resp.Duration.Milliseconds(),
	}
	if len(resp.Values) > 0 {
		vals, err := codec.ValuesToJSON(resp.Values)
		if err != nil {
			renderEncodeError(c, err)
			return
		}
		out.Values = vals
	}
	c.JSON(code, out)
}

// renderEncodeError reports results that have no representation in the
// negotiated response format.
func renderEncodeError(c *gin.Context, err error) {
	render(c, http.StatusOK, response{Status: sandbox.StatusErrTransfer, Error: err.Error()})
}

// renderError writes a request level failure.
func renderError(c *gin.Context, code int, err error) {
	render(c, code, response{Status: sandbox.StatusErrArg, Error: err.Error()})
}

func renderResult(c *gin.Context, res executor.Result) {
	code, resp := fromResult(res)
	render(c, code, resp)
}

// fromResult maps a call outcome to a response and HTTP status. Script
// failures are reported in the body with 200; only failures of the
// session itself change the HTTP status.
func fromResult(res executor.Result) (int, response) {
	resp := response{
		Values:   res.Values,
		Duration: res.Duration,
		Status:   sandbox.StatusOf(res.Error),
	}
	if res.Error == nil {
		return http.StatusOK, resp
	}
	resp.Error = res.Error.Error()
	return httpStatus(res.Error), resp
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, executor.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, executor.ErrSessionClosed):
		return http.StatusNotFound
	case errors.Is(err, executor.ErrExecutorClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
