// Package api serves the ingestion and reporting HTTP API
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/ingest"
	"github.com/runningman84/zfs-monitor/pkg/metrics"
	"github.com/runningman84/zfs-monitor/pkg/store"
)

// DefaultMaxBodyBytes limits the size of a report body
const DefaultMaxBodyBytes = 16 << 20

// Options configures a Server
type Options struct {
	// Metrics counts received reports; nil disables counting
	Metrics *metrics.Collector
	// Gatherer is served on /metrics; nil disables the route
	Gatherer     prometheus.Gatherer
	MaxBodyBytes int64
}

// Server holds the dependencies of the HTTP handlers
type Server struct {
	store        *store.Store
	ingester     *ingest.Ingester
	metrics      *metrics.Collector
	gatherer     prometheus.Gatherer
	maxBodyBytes int64
	now          func() time.Time
}

// NewServer creates a Server over s
func NewServer(s *store.Store, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{
		store:        s,
		ingester:     ingest.New(s),
		metrics:      opts.Metrics,
		gatherer:     opts.Gatherer,
		maxBodyBytes: opts.MaxBodyBytes,
		now:          time.Now,
	}
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery(), s.limitBody())

	router.GET("/healthz", s.healthz)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")

	hosts := api.Group("/hosts")
	{
		hosts.GET("", s.listHosts)
		hosts.GET("/:hostname", s.getHost)
		hosts.POST("/:hostname", s.postHost)
		hosts.DELETE("/:hostname", s.deleteHost)
		hosts.POST("/:hostname/report", s.postReport)
		hosts.POST("/:hostname/zpool-status", s.postZpoolStatus)
		hosts.POST("/:hostname/zfs-list", s.postZFSList)
		hosts.GET("/:hostname/pools", s.listPools)
		hosts.POST("/:hostname/pools/:name", s.postPool)
		hosts.POST("/:hostname/datasets/*name", s.postDataset)
	}

	api.GET("/pools/:dsuniqueid", s.getPool)
	api.GET("/datasets/:dsuniqueid", s.getDataset)
	api.GET("/datasets/:dsuniqueid/snapshots", s.listSnapshots)

	return router
}

// requestLogger logs every request through klog. Server errors are
// always logged, everything else at verbosity 1.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= http.StatusInternalServerError {
			klog.Errorf("%s %s %d %s %s", c.Request.Method, c.Request.URL.Path, status, latency, c.Errors.String())
			return
		}
		klog.V(1).Infof("%s %s %d %s", c.Request.Method, c.Request.URL.Path, status, latency)
	}
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes)
		}
		c.Next()
	}
}

func (s *Server) healthz(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		klog.Errorf("Health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
