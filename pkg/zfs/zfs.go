// Package zfs runs the zfs and zpool commands on a monitored host and
// turns their JSON output into a host report
package zfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"os/exec"

	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/config"
	"github.com/runningman84/zfs-monitor/pkg/parser"
	"github.com/runningman84/zfs-monitor/pkg/report"
)

// Manager handles ZFS operations
type Manager struct {
	config *config.AgentConfig
}

// NewManager creates a new ZFS manager
func NewManager(cfg *config.AgentConfig) *Manager {
	return &Manager{
		config: cfg,
	}
}

// logCommand logs the command being executed if debug mode is enabled
func (m *Manager) logCommand(cmdArgs []string) {
	if m.config.IsDebug() {
		klog.V(1).Infof(" Executing command: %v", cmdArgs)
	}
}

// logCommandResult logs the command result if debug mode is enabled
func (m *Manager) logCommandResult(exitCode int, stdout, stderr []byte) {
	if m.config.IsDebug() {
		klog.V(1).Infof(" Exit code: %d", exitCode)
		if len(stdout) > 0 {
			klog.V(1).Infof(" stdout: %s", string(stdout))
		}
		if len(stderr) > 0 {
			klog.V(1).Infof(" stderr: %s", string(stderr))
		}
	}
}

// run executes a command and returns its standard output
func (m *Manager) run(ctx context.Context, cmdArgs []string) ([]byte, error) {
	if len(cmdArgs) == 0 {
		return nil, errors.New("no command configured")
	}
	m.logCommand(cmdArgs)
	cmd := exec.CommandContext(ctx, cmdArgs[0], cmdArgs[1:]...)
	output, err := cmd.Output()
	if err != nil {
		exitCode := -1
		var stderr []byte
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
			stderr = exitError.Stderr
		}
		m.logCommandResult(exitCode, output, stderr)
		return nil, fmt.Errorf("command %v failed: %w", cmdArgs, err)
	}
	m.logCommandResult(0, output, nil)
	return output, nil
}

// VersionInfo holds ZFS version information
type VersionInfo struct {
	Userland string `json:"userland"`
	Kernel   string `json:"kernel"`
}

// VersionOutput is the complete version JSON output
type VersionOutput struct {
	ZFSVersion VersionInfo `json:"zfs_version"`
}

// GetVersion retrieves ZFS userland and kernel versions
func (m *Manager) GetVersion(ctx context.Context) (string, string, error) {
	output, err := m.run(ctx, m.config.ZFSVersionCmd)
	if err != nil {
		return "", "", fmt.Errorf("zfs version command failed: %w", err)
	}

	var versionOutput VersionOutput
	if err := json.Unmarshal(output, &versionOutput); err != nil {
		return "", "", fmt.Errorf("failed to parse version JSON: %w", err)
	}

	return versionOutput.ZFSVersion.Userland, versionOutput.ZFSVersion.Kernel, nil
}

// GetPoolProperties retrieves every property of every pool
func (m *Manager) GetPoolProperties(ctx context.Context) (map[string]map[string]string, error) {
	output, err := m.run(ctx, m.config.ZPoolGetCmd)
	if err != nil {
		return nil, err
	}

	properties, err := parser.ParsePoolPropertiesJSON(output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool properties JSON: %w", err)
	}
	return properties, nil
}

// GetPoolStatus retrieves the status of all ZFS pools
func (m *Manager) GetPoolStatus(ctx context.Context) (map[string]*parser.PoolStatus, error) {
	output, err := m.run(ctx, m.config.ZPoolStatusCmd)
	if err != nil {
		return nil, err
	}

	status, err := parser.ParsePoolStatusJSON(output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool status JSON: %w", err)
	}

	return status, nil
}

// GetDatasets retrieves every filesystem and volume with its snapshots
func (m *Manager) GetDatasets(ctx context.Context) ([]report.DatasetReport, error) {
	output, err := m.run(ctx, m.config.ZFSListCmd)
	if err != nil {
		return nil, err
	}

	datasets, err := parser.ParseDatasetsJSON(output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse datasets JSON: %w", err)
	}
	return datasets, nil
}

// IsPoolHealthy checks if a pool is online without data errors
func IsPoolHealthy(poolName string, poolStatus map[string]*parser.PoolStatus) bool {
	status, exists := poolStatus[poolName]
	if !exists {
		klog.Infof("Warning: No status found for pool %s", poolName)
		return false
	}

	if status.State != "ONLINE" {
		klog.Infof("Pool %s is not ONLINE (state: %s)", poolName, status.State)
		return false
	}

	// Check error count (should be "0" for healthy pools)
	if status.ErrorCount != "0" && status.ErrorCount != "" {
		klog.Infof("Pool %s has %s errors", poolName, status.ErrorCount)
		return false
	}

	return true
}

// UnhealthyPools returns the sorted names of pools that are not online or
// report data errors, logging the reason for each
func UnhealthyPools(poolStatus map[string]*parser.PoolStatus) []string {
	var names []string
	for name := range poolStatus {
		if !IsPoolHealthy(name, poolStatus) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Collect runs every command and assembles the host report
func (m *Manager) Collect(ctx context.Context) (*report.HostReport, error) {
	userland, kernel, err := m.GetVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ZFS version: %w", err)
	}
	klog.Infof("ZFS Version - Userland: %s, Kernel: %s", userland, kernel)

	properties, err := m.GetPoolProperties(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool properties: %w", err)
	}
	status, err := m.GetPoolStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool status: %w", err)
	}
	pools := parser.PoolReports(properties, status)
	unhealthy := UnhealthyPools(status)

	datasets, err := m.GetDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get datasets: %w", err)
	}

	klog.Infof("Collected %d pool(s), %d unhealthy, and %d dataset(s)", len(pools), len(unhealthy), len(datasets))

	return &report.HostReport{
		Hostname:        m.config.Hostname,
		HostDescription: fmt.Sprintf("OpenZFS %s (%s)", userland, kernel),
		UserDescription: m.config.UserDescription,
		SSHUser:         m.config.SSHUser,
		Pools:           pools,
		Datasets:        datasets,
	}, nil
}
