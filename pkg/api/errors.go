package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/models"
	"github.com/runningman84/zfs-monitor/pkg/store"
)

type fieldError struct {
	Record string `json:"record"`
	Key    string `json:"key,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields,omitempty"`
}

// fieldErrors flattens every validation error in err
func fieldErrors(err error) []fieldError {
	var fields []fieldError
	for _, e := range multierr.Errors(err) {
		var ve *models.ValidationError
		if !errors.As(e, &ve) {
			continue
		}
		for _, f := range ve.Fields() {
			fields = append(fields, fieldError{Record: ve.Record, Key: ve.Key, Field: f.Field, Reason: f.Reason})
		}
	}
	return fields
}

// statusOf maps an error to its HTTP status
func statusOf(err error) int {
	switch {
	case models.IsValidationError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrUnknownHost),
		errors.Is(err, store.ErrUnknownPool),
		errors.Is(err, store.ErrUnknownDataset),
		errors.Is(err, store.ErrUnknownParent):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error response
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	resp := errorResponse{Error: err.Error()}
	switch status {
	case http.StatusUnprocessableEntity:
		resp.Fields = fieldErrors(err)
	case http.StatusInternalServerError:
		klog.Errorf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		_ = c.Error(err)
		resp.Error = "internal error"
	}
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func notFound(c *gin.Context, what, key string) {
	c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: what + " " + key + " not found"})
}
