package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/runningman84/zfs-monitor/pkg/metrics"
	"github.com/runningman84/zfs-monitor/pkg/models"
	"github.com/runningman84/zfs-monitor/pkg/parser"
	"github.com/runningman84/zfs-monitor/pkg/report"
)

// zpoolRequest carries raw `zpool get -j` and `zpool status -j` output
type zpoolRequest struct {
	Properties json.RawMessage `json:"properties,omitempty"`
	Status     json.RawMessage `json:"status,omitempty"`
}

// bind decodes the JSON body into v. An empty body is accepted when
// allowEmpty is set.
func bind(c *gin.Context, v interface{}, allowEmpty bool) bool {
	err := c.ShouldBindJSON(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	badRequest(c, fmt.Errorf("invalid request body: %w", err))
	return false
}

// hostnameMismatch rejects a body naming another host than the path
func hostnameMismatch(c *gin.Context, body string) bool {
	if body == "" || body == c.Param("hostname") {
		return false
	}
	fail(c, &models.ValidationError{
		Record: "host",
		Key:    body,
		Err:    &models.FieldError{Field: "hostname", Reason: fmt.Sprintf("does not match %s in the path", c.Param("hostname"))},
	})
	return true
}

func (s *Server) observe(err error, created bool) {
	switch {
	case err == nil && created:
		s.metrics.ObserveReport(metrics.ResultCreated)
	case err == nil:
		s.metrics.ObserveReport(metrics.ResultUpdated)
	case models.IsValidationError(err):
		s.metrics.ObserveReport(metrics.ResultInvalid)
	default:
		s.metrics.ObserveReport(metrics.ResultError)
	}
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// ingest stores a full or partial host report
func (s *Server) ingest(c *gin.Context, r *report.HostReport) {
	r.Hostname = c.Param("hostname")
	res, err := s.ingester.Ingest(c.Request.Context(), r)
	s.observe(err, err == nil && res.Created)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(createdStatus(res.Created), res)
}

// postReport stores the full state of a host
func (s *Server) postReport(c *gin.Context) {
	var r report.HostReport
	if !bind(c, &r, false) || hostnameMismatch(c, r.Hostname) {
		return
	}
	s.ingest(c, &r)
}

// postHost creates or updates the host record alone
func (s *Server) postHost(c *gin.Context) {
	var r report.HostReport
	if !bind(c, &r, true) || hostnameMismatch(c, r.Hostname) {
		return
	}
	s.ingest(c, &report.HostReport{
		HostDescription: r.HostDescription,
		UserDescription: r.UserDescription,
		SSHUser:         r.SSHUser,
		SSHKey:          r.SSHKey,
	})
}

// postZpoolStatus stores the pools of raw zpool output
func (s *Server) postZpoolStatus(c *gin.Context) {
	var req zpoolRequest
	if !bind(c, &req, false) {
		return
	}
	if len(req.Properties) == 0 && len(req.Status) == 0 {
		badRequest(c, errors.New("properties or status output is required"))
		return
	}

	var properties map[string]map[string]string
	var status map[string]*parser.PoolStatus
	var err error
	if len(req.Properties) > 0 {
		if properties, err = parser.ParsePoolPropertiesJSON(req.Properties); err != nil {
			badRequest(c, err)
			return
		}
	}
	if len(req.Status) > 0 {
		if status, err = parser.ParsePoolStatusJSON(req.Status); err != nil {
			badRequest(c, err)
			return
		}
	}
	s.ingest(c, &report.HostReport{Pools: parser.PoolReports(properties, status)})
}

// postZFSList stores the datasets and snapshots of raw `zfs list -j` output
func (s *Server) postZFSList(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		badRequest(c, fmt.Errorf("failed to read request body: %w", err))
		return
	}
	datasets, err := parser.ParseDatasetsJSON(data)
	if err != nil {
		badRequest(c, err)
		return
	}
	s.ingest(c, &report.HostReport{Datasets: datasets})
}

// postPool stores one pool of an existing host
func (s *Server) postPool(c *gin.Context) {
	var pr report.PoolReport
	if !bind(c, &pr, false) {
		return
	}
	pr.Name = c.Param("name")

	pool, created, err := s.ingester.IngestPool(c.Request.Context(), c.Param("hostname"), pr)
	s.observe(err, created)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(createdStatus(created), pool)
}

// postDataset stores one dataset of an existing host. The dataset name
// may contain slashes.
func (s *Server) postDataset(c *gin.Context) {
	var dr report.DatasetReport
	if !bind(c, &dr, false) {
		return
	}
	dr.Name = strings.TrimPrefix(c.Param("name"), "/")

	d, created, err := s.ingester.IngestDataset(c.Request.Context(), c.Param("hostname"), dr)
	s.observe(err, created)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(createdStatus(created), d)
}

func (s *Server) deleteHost(c *gin.Context) {
	hostname := c.Param("hostname")
	deleted, err := s.store.DeleteHost(c.Request.Context(), hostname)
	if err != nil {
		fail(c, err)
		return
	}
	if !deleted {
		notFound(c, "host", hostname)
		return
	}
	c.Status(http.StatusNoContent)
}
