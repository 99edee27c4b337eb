package app

import (
	"context"
	"errors"
	"testing"

	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
)

func TestStartPreparation_GivenActiveBusinesses_WhenJobFinishes_ThenCycleReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addBusiness("Bageriet", "+46701", "+46702")
	env.addBusiness("Kaffebaren", "+46703")
	env.addBusiness("Quiet Shop")

	cycle, err := env.cycles.CreateCycle(ctx, testWeek, "admin-1")
	if err != nil {
		t.Fatalf("CreateCycle() error = %v", err)
	}
	accepted, err := env.preparation.StartPreparation(ctx, cycle.ID)
	if err != nil {
		t.Fatalf("StartPreparation() error = %v", err)
	}
	if accepted.Status != verification.JobStatusPending {
		t.Errorf("accepted job status = %s, want pending", accepted.Status)
	}
	env.preparation.Wait()

	job, err := env.preparation.GetPreparationStatus(ctx, cycle.ID)
	if err != nil {
		t.Fatalf("GetPreparationStatus() error = %v", err)
	}
	if job.ID != accepted.ID || job.Status != verification.JobStatusCompleted {
		t.Fatalf("job = %+v, want %s completed", job, accepted.ID)
	}
	if job.TotalBusinesses != 3 || job.ProcessedBusinesses != 3 || job.CompletedAt == nil {
		t.Errorf("job progress = %d/%d completed_at %v, want 3/3 with completion time", job.ProcessedBusinesses, job.TotalBusinesses, job.CompletedAt)
	}

	got, _ := env.cycles.GetCycle(ctx, cycle.ID)
	if got.Status != verification.CycleStatusReady || got.TotalDatabases != 2 {
		t.Errorf("cycle = %s with %d databases, want ready with 2", got.Status, got.TotalDatabases)
	}
	dbs, _ := env.store.ListDatabasesByCycle(ctx, cycle.ID)
	for _, db := range dbs {
		if db.Status != verification.DatabaseStatusReady {
			t.Errorf("database %s status = %s, want ready", db.ID, db.Status)
		}
	}
}

func TestStartPreparation_GivenJobInFlight_WhenStarting_ThenPreparationInFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cycle, err := env.cycles.CreateCycle(ctx, testWeek, "admin-1")
	if err != nil {
		t.Fatalf("CreateCycle() error = %v", err)
	}
	running := &verification.PreparationJob{
		ID:        uuid.New(),
		CycleID:   cycle.ID,
		Status:    verification.JobStatusProcessing,
		StartedAt: env.now(),
	}
	if err := env.store.CreateJob(ctx, running); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	_, err = env.preparation.StartPreparation(ctx, cycle.ID)
	if !errors.Is(err, ErrPreparationInFlight) {
		t.Fatalf("error = %v, want ErrPreparationInFlight", err)
	}
}

func TestStartPreparation_GivenCycleNotPreparing_WhenStarting_ThenConflict(t *testing.T) {
	env := newTestEnv(t)
	env.addBusiness("Bageriet", "+46701")
	cycle := env.distributedCycle(t)

	_, err := env.preparation.StartPreparation(context.Background(), cycle.ID)
	expectCode(t, err, CodeConflict)
}

func TestGetPreparationStatus_GivenNoJob_WhenQueried_ThenJobNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cycle, err := env.cycles.CreateCycle(ctx, testWeek, "admin-1")
	if err != nil {
		t.Fatalf("CreateCycle() error = %v", err)
	}
	if _, err := env.preparation.GetPreparationStatus(ctx, cycle.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("error = %v, want ErrJobNotFound", err)
	}
	if _, err := env.preparation.GetPreparationStatus(ctx, uuid.New()); !errors.Is(err, ErrCycleNotFound) {
		t.Fatalf("unknown cycle error = %v, want ErrCycleNotFound", err)
	}
}
