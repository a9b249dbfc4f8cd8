package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/runningman84/zfs-monitor/pkg/models"
)

// byStatus orders hosts by status rank descending, faulted first, and
// hostnames ascending within each status
func byStatus(db *gorm.DB) *gorm.DB {
	var sql strings.Builder
	vars := make([]interface{}, 0, len(models.HostStatusValues))
	sql.WriteString("CASE status")
	for _, status := range models.HostStatusValues {
		fmt.Fprintf(&sql, " WHEN ? THEN %d", status.Rank())
		vars = append(vars, string(status))
	}
	sql.WriteString(" ELSE -1 END DESC, hostname ASC")
	return db.Clauses(clause.OrderBy{Expression: clause.Expr{
		SQL:                sql.String(),
		Vars:               vars,
		WithoutParentheses: true,
	}})
}

// staleCutoff is the newest lastupdate a stale host can have
func (s *Store) staleCutoff(now time.Time) time.Time {
	return now.UTC().Add(-s.staleAfter)
}

// ActiveHosts returns hosts that reported within the stale threshold
// before now, by hostname
func (s *Store) ActiveHosts(ctx context.Context, now time.Time) ([]models.Host, error) {
	var hosts []models.Host
	err := s.db.WithContext(ctx).
		Where("lastupdate > ?", s.staleCutoff(now)).
		Order("hostname").
		Find(&hosts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active hosts: %w", err)
	}
	return hosts, nil
}

// StaleHosts returns hosts that have not reported within the stale
// threshold before now, worst status first
func (s *Store) StaleHosts(ctx context.Context, now time.Time) ([]models.Host, error) {
	var hosts []models.Host
	err := s.db.WithContext(ctx).
		Where("lastupdate <= ?", s.staleCutoff(now)).
		Scopes(byStatus).
		Find(&hosts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale hosts: %w", err)
	}
	return hosts, nil
}

// ErroredHosts returns hosts that are not healthy, worst status first
func (s *Store) ErroredHosts(ctx context.Context) ([]models.Host, error) {
	var hosts []models.Host
	err := s.db.WithContext(ctx).
		Where("status <> ?", string(models.StatusHealthy)).
		Scopes(byStatus).
		Find(&hosts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list errored hosts: %w", err)
	}
	return hosts, nil
}

// StaleHostCount counts the hosts StaleHosts would return
func (s *Store) StaleHostCount(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Host{}).
		Where("lastupdate <= ?", s.staleCutoff(now)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count stale hosts: %w", err)
	}
	return n, nil
}

type groupCount struct {
	Value string
	Count int64
}

// HostStatusCounts returns the number of hosts per status. Statuses
// without hosts are present with a zero count.
func (s *Store) HostStatusCounts(ctx context.Context) (map[models.HostStatus]int64, error) {
	rows, err := s.countBy(ctx, &models.Host{}, "status")
	if err != nil {
		return nil, err
	}
	counts := make(map[models.HostStatus]int64, len(models.HostStatusValues))
	for _, status := range models.HostStatusValues {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[models.HostStatus(row.Value)] = row.Count
	}
	return counts, nil
}

// PoolHealthCounts returns the number of pools per health state. States
// without pools are present with a zero count.
func (s *Store) PoolHealthCounts(ctx context.Context) (map[models.Health]int64, error) {
	rows, err := s.countBy(ctx, &models.Pool{}, "health")
	if err != nil {
		return nil, err
	}
	counts := make(map[models.Health]int64, len(models.HealthValues))
	for _, health := range models.HealthValues {
		counts[health] = 0
	}
	for _, row := range rows {
		counts[models.Health(row.Value)] = row.Count
	}
	return counts, nil
}

func (s *Store) countBy(ctx context.Context, model interface{}, column string) ([]groupCount, error) {
	var rows []groupCount
	err := s.db.WithContext(ctx).
		Model(model).
		Select(column + " AS value, count(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count by %s: %w", column, err)
	}
	return rows, nil
}
