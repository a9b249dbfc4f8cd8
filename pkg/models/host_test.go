package models

import (
	"testing"
)

func pools(healths ...Health) []Pool {
	out := make([]Pool, 0, len(healths))
	for i, h := range healths {
		out = append(out, Pool{ID: uint(i + 1), Name: string(h), Health: h})
	}
	return out
}

func TestRollupHealth(t *testing.T) {
	tests := []struct {
		name  string
		pools []Pool
		want  HostStatus
	}{
		{"no pools", nil, StatusHealthy},
		{"all online", pools(HealthOnline, HealthOnline), StatusHealthy},
		{"single degraded", pools(HealthDegraded), StatusErrored},
		{"single faulted", pools(HealthFaulted), StatusFaulted},
		{"single unavail", pools(HealthUnavail), StatusFaulted},
		{"online then degraded", pools(HealthOnline, HealthDegraded), StatusErrored},
		{"online then unavail", pools(HealthOnline, HealthUnavail), StatusFaulted},
		// The first non-online pool wins even when a worse one follows
		{"degraded before faulted", pools(HealthDegraded, HealthFaulted), StatusErrored},
		{"faulted before degraded", pools(HealthFaulted, HealthDegraded), StatusFaulted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RollupHealth(tt.pools); got != tt.want {
				t.Errorf("RollupHealth() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckHealthPoolOrder(t *testing.T) {
	rpool := Pool{Name: "rpool", Health: HealthOnline}
	tank := Pool{Name: "tank", Health: HealthDegraded}

	orders := map[string][]Pool{
		"rpool first": {rpool, tank},
		"tank first":  {tank, rpool},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			h := &Host{Hostname: "h1", Status: StatusFaulted, Pools: order}
			h.CheckHealth()
			if h.Status != StatusErrored {
				t.Errorf("Status = %v, want %v", h.Status, StatusErrored)
			}
		})
	}
}

func TestHostStatusRank(t *testing.T) {
	if !(StatusFaulted.Rank() > StatusErrored.Rank() && StatusErrored.Rank() > StatusHealthy.Rank()) {
		t.Errorf("unexpected ranks: healthy=%d errored=%d faulted=%d",
			StatusHealthy.Rank(), StatusErrored.Rank(), StatusFaulted.Rank())
	}
	if HostStatus("bogus").Rank() != -1 {
		t.Errorf("Rank() of unknown status = %d, want -1", HostStatus("bogus").Rank())
	}
}

func TestHostValidate(t *testing.T) {
	h := &Host{Hostname: "h1", Status: StatusHealthy}
	if err := h.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	h = &Host{Status: StatusHealthy}
	err := h.Validate()
	if !IsValidationError(err) {
		t.Fatalf("Validate() error = %v, want ValidationError", err)
	}
}

func TestUniqueID(t *testing.T) {
	// sha1("h1tank")
	want := "331ddaaf6113e19d0eea9b899cc60d759d4d0bfa"
	if got := UniqueID("h1", "tank"); got != want {
		t.Errorf("UniqueID() = %v, want %v", got, want)
	}
	if UniqueID("h1", "tank") == UniqueID("h2", "tank") {
		t.Error("UniqueID() collides across hosts")
	}
}
