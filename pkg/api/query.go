package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/runningman84/zfs-monitor/pkg/models"
)

type poolResponse struct {
	*models.Pool
	Vdevs []*models.VdevNode `json:"vdevs"`
}

type datasetResponse struct {
	*models.Dataset
	LastSnapshotTime time.Time `json:"last_snapshot_time"`
}

// listHosts returns every host, or the subset named by ?filter
func (s *Server) listHosts(c *gin.Context) {
	ctx := c.Request.Context()
	var hosts []models.Host
	var err error
	switch filter := c.Query("filter"); filter {
	case "":
		hosts, err = s.store.Hosts(ctx)
	case "active":
		hosts, err = s.store.ActiveHosts(ctx, s.now())
	case "stale":
		hosts, err = s.store.StaleHosts(ctx, s.now())
	case "errored":
		hosts, err = s.store.ErroredHosts(ctx)
	default:
		badRequest(c, fmt.Errorf("unknown filter %q, want active, stale or errored", filter))
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	if hosts == nil {
		hosts = []models.Host{}
	}
	c.JSON(http.StatusOK, hosts)
}

func (s *Server) getHost(c *gin.Context) {
	hostname := c.Param("hostname")
	host, found, err := s.store.GetHost(c.Request.Context(), hostname)
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		notFound(c, "host", hostname)
		return
	}
	c.JSON(http.StatusOK, host)
}

// listPools returns the host's pools, or the subset named by ?filter
func (s *Server) listPools(c *gin.Context) {
	ctx := c.Request.Context()
	hostname := c.Param("hostname")
	host, found, err := s.store.GetHost(ctx, hostname)
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		notFound(c, "host", hostname)
		return
	}

	var pools []models.Pool
	switch filter := c.Query("filter"); filter {
	case "":
		pools, err = s.store.Pools(ctx, host.ID)
	case "unhealthy":
		pools, err = s.store.UnhealthyPools(ctx, host.ID)
	case "degraded":
		pools, err = s.store.DegradedPools(ctx, host.ID)
	case "faulted":
		pools, err = s.store.FaultedPools(ctx, host.ID)
	default:
		badRequest(c, fmt.Errorf("unknown filter %q, want unhealthy, degraded or faulted", filter))
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	if pools == nil {
		pools = []models.Pool{}
	}
	c.JSON(http.StatusOK, pools)
}

// getPool returns the pool with its vdev tree
func (s *Server) getPool(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("dsuniqueid")
	pool, found, err := s.store.GetPool(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		notFound(c, "pool", id)
		return
	}
	tree, err := s.store.VdevTree(ctx, pool.ID)
	if err != nil {
		fail(c, err)
		return
	}
	if tree == nil {
		tree = []*models.VdevNode{}
	}
	c.JSON(http.StatusOK, poolResponse{Pool: pool, Vdevs: tree})
}

// getDataset returns the dataset with its snapshots, most recent first
func (s *Server) getDataset(c *gin.Context) {
	id := c.Param("dsuniqueid")
	d, found, err := s.store.GetDataset(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		notFound(c, "dataset", id)
		return
	}
	c.JSON(http.StatusOK, datasetResponse{Dataset: d, LastSnapshotTime: d.LastSnapshotTime()})
}

func (s *Server) listSnapshots(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("dsuniqueid")
	d, found, err := s.store.GetDataset(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		notFound(c, "dataset", id)
		return
	}
	snaps, err := s.store.Snapshots(ctx, d.ID)
	if err != nil {
		fail(c, err)
		return
	}
	if snaps == nil {
		snaps = []models.Snapshot{}
	}
	c.JSON(http.StatusOK, snaps)
}
