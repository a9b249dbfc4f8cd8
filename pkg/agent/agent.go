// Package agent collects the ZFS state of the local host and posts it to
// the zfsmon server
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/config"
	"github.com/runningman84/zfs-monitor/pkg/parser"
	"github.com/runningman84/zfs-monitor/pkg/report"
	"github.com/runningman84/zfs-monitor/pkg/zfs"
)

// Agent sends one host report per run
type Agent struct {
	config  *config.AgentConfig
	manager *zfs.Manager
	client  *http.Client
}

// NewAgent creates a new agent
func NewAgent(cfg *config.AgentConfig) *Agent {
	return &Agent{
		config:  cfg,
		manager: zfs.NewManager(cfg),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Summary is what the server stored for a report
type Summary struct {
	Created bool `json:"created"`
	Host    struct {
		Hostname string `json:"hostname"`
		Status   string `json:"status"`
	} `json:"host"`
	report.Counts
}

// RejectedError is returned when the server refuses a report. Fields
// lists every invalid property the server found.
type RejectedError struct {
	StatusCode int
	Message    string
	Fields     []FieldError
}

// FieldError is one invalid property of a rejected report
type FieldError struct {
	Record string `json:"record"`
	Key    string `json:"key,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("server rejected report (%d): %s", e.StatusCode, e.Message)
	if len(e.Fields) == 0 {
		return msg
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s %s %s: %s", f.Record, f.Key, f.Field, f.Reason))
	}
	return msg + " [" + strings.Join(parts, "; ") + "]"
}

// Run collects the host report and posts it
func (a *Agent) Run(ctx context.Context) (*Summary, error) {
	// Acquire lock to prevent concurrent runs (if enabled)
	if a.config.EnableLocking {
		if err := a.acquireLock(); err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		defer a.releaseLock()
	}

	a.logConfig()

	r, err := a.manager.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect host report: %w", err)
	}
	a.logReport(r)

	summary, err := a.post(ctx, r)
	if err != nil {
		return nil, err
	}

	verb := "Updated"
	if summary.Created {
		verb = "Created"
	}
	klog.Infof("%s host %s (status %s) with %d pool(s), %d vdev(s), %d dataset(s) and %d snapshot(s)",
		verb, summary.Host.Hostname, summary.Host.Status, summary.Pools, summary.Vdevs, summary.Datasets, summary.Snapshots)
	return summary, nil
}

func (a *Agent) post(ctx context.Context, r *report.HostReport) (*Summary, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}

	url := a.config.ReportURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	klog.V(1).Infof("Posting %s report to %s", humanize.Bytes(uint64(len(body))), url)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to post report: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		rejected := &RejectedError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errBody struct {
			Error  string       `json:"error"`
			Fields []FieldError `json:"fields"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			rejected.Message = errBody.Error
			rejected.Fields = errBody.Fields
		}
		return nil, rejected
	}

	summary := &Summary{}
	if err := json.Unmarshal(data, summary); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return summary, nil
}

// acquireLock creates a lock file to prevent concurrent runs
func (a *Agent) acquireLock() error {
	lockPath := a.config.LockFilePath

	// O_EXCL fails when another run holds the lock
	file, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("lock file exists at %s - another instance may be running", lockPath)
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer file.Close()

	// Write PID to lock file
	pid := os.Getpid()
	if _, err := fmt.Fprintf(file, "%d\n", pid); err != nil {
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}

	klog.V(1).Infof("Acquired lock (PID %d) at %s", pid, lockPath)
	return nil
}

// releaseLock removes the lock file
func (a *Agent) releaseLock() {
	lockPath := a.config.LockFilePath
	if err := os.Remove(lockPath); err != nil {
		klog.Warningf("Failed to remove lock file %s: %v", lockPath, err)
	} else {
		klog.V(1).Infof("Released lock at %s", lockPath)
	}
}

func (a *Agent) logConfig() {
	klog.V(1).Info("Current config")
	klog.V(1).Infof("Mode: %s", a.config.Mode)
	klog.V(1).Infof("Server: %s", a.config.ServerURL)
	klog.V(1).Infof("Hostname: %s", a.config.Hostname)
	klog.V(1).Infof("Timeout: %s", a.config.Timeout)
}

// logReport logs pool sizes and warns about devices with error counters;
// pool health is reported once by the collector
func (a *Agent) logReport(r *report.HostReport) {
	for _, pool := range r.Pools {
		if size, err := parser.ParseSize(pool.Properties["size"]); err == nil {
			klog.Infof("Pool %s: %s, %s used", pool.Name, humanize.IBytes(uint64(size)), pool.Properties["capacity"])
		}
		logVdevs(pool.Name, pool.Vdevs)
	}
}

func logVdevs(pool string, vdevs []report.VdevReport) {
	for _, v := range vdevs {
		if v.ReadErrors > 0 {
			klog.Warningf(" Pool %s device %s has %d read error(s)", pool, v.Name, v.ReadErrors)
		}
		if v.WriteErrors > 0 {
			klog.Warningf(" Pool %s device %s has %d write error(s)", pool, v.Name, v.WriteErrors)
		}
		if v.ChecksumErrors > 0 {
			klog.Warningf(" Pool %s device %s has %d checksum error(s)", pool, v.Name, v.ChecksumErrors)
		}
		logVdevs(pool, v.Children)
	}
}
