//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/shopforge/fulfillment/internal/domain"
	pconfig "github.com/shopforge/fulfillment/internal/platform/config"
	pfirestore "github.com/shopforge/fulfillment/internal/platform/firestore"
	"github.com/shopforge/fulfillment/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestJobRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "jobs-test",
		EmulatorHost: endpoint,
	}
	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewJobRepository(provider)
	if err != nil {
		t.Fatalf("new job repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC()
	job := domain.Job{
		ID:      "job_ship_ord_1",
		Type:    domain.JobTypeShippingCreate,
		OrderID: "ord_1",
		Status:  domain.JobStatusPending,
	}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	// A duplicate enqueue must collapse into a conflict.
	if err := repo.Create(ctx, job); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	due, err := repo.ListDue(ctx, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != job.ID {
		t.Fatalf("expected the job to be due, got %#v", due)
	}

	// Jobs whose retry gates land on the same instant must drain oldest
	// first.
	sharedGate := now.Add(-time.Minute)
	newer := domain.Job{
		ID:        "job_ship_ord_3",
		Type:      domain.JobTypeShippingCreate,
		OrderID:   "ord_3",
		Status:    domain.JobStatusPending,
		NextRunAt: &sharedGate,
		CreatedAt: now.Add(-time.Minute),
	}
	older := domain.Job{
		ID:        "job_ship_ord_2",
		Type:      domain.JobTypeShippingCreate,
		OrderID:   "ord_2",
		Status:    domain.JobStatusPending,
		NextRunAt: &sharedGate,
		CreatedAt: now.Add(-2 * time.Minute),
	}
	if err := repo.Create(ctx, newer); err != nil {
		t.Fatalf("create newer job: %v", err)
	}
	if err := repo.Create(ctx, older); err != nil {
		t.Fatalf("create older job: %v", err)
	}
	due, err = repo.ListDue(ctx, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("list due after backlog: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("expected three due jobs, got %d", len(due))
	}
	if due[0].ID != older.ID || due[1].ID != newer.ID {
		t.Fatalf("expected oldest-first ordering for a shared gate, got %s then %s", due[0].ID, due[1].ID)
	}
	for _, backlog := range []string{older.ID, newer.ID} {
		if _, err := repo.Claim(ctx, backlog, time.Now().UTC()); err != nil {
			t.Fatalf("claim backlog job %s: %v", backlog, err)
		}
		if err := repo.MarkSucceeded(ctx, backlog, time.Now().UTC()); err != nil {
			t.Fatalf("finish backlog job %s: %v", backlog, err)
		}
	}

	// Only one of the concurrent claimers may win.
	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := repo.Claim(ctx, job.ID, time.Now().UTC()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", wins)
	}

	retryAt := now.Add(time.Hour)
	if err := repo.Reschedule(ctx, job.ID, 1, retryAt, "courier timeout", time.Now().UTC()); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	due, err = repo.ListDue(ctx, now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list due after reschedule: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due jobs before the retry gate, got %d", len(due))
	}

	due, err = repo.ListDue(ctx, retryAt.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("list due past gate: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected the rescheduled job to be due, got %d", len(due))
	}
	if due[0].Attempts != 1 || due[0].LastError != "courier timeout" {
		t.Fatalf("unexpected job state after reschedule: %#v", due[0])
	}

	if _, err := repo.Claim(ctx, job.ID, time.Now().UTC()); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := repo.MarkSucceeded(ctx, job.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	final, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("find job: %v", err)
	}
	if final.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", final.Status)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}
