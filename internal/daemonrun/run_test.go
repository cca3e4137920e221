package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"cosflow/internal/daemonrun"
	"cosflow/internal/lifecycle"
	"cosflow/internal/logging"
	"cosflow/internal/store"
	"cosflow/internal/testsupport"
)

func TestBuildWiresUploadAndMerge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	components, err := daemonrun.Build(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = components.Close() })
	testsupport.SeedUsers(t, components.Store)

	pdf := testsupport.PDF(t, 1)
	var uploads []lifecycle.Upload
	for _, docType := range []string{"MO", "COS", "WGS", "PFM"} {
		uploads = append(uploads, lifecycle.Upload{DocType: docType, FileName: strings.ToLower(docType) + ".pdf", Content: pdf})
	}
	result, err := components.Lifecycle.UploadDocuments(context.Background(), "COS-001", testsupport.IssuerID, uploads)
	if err != nil {
		t.Fatalf("UploadDocuments: %v", err)
	}
	if result.Group.Status != store.GroupReady {
		t.Fatalf("expected ready group, got %s", result.Group.Status)
	}
	if result.Merge == nil || result.Merge.Pages != 4 {
		t.Fatalf("unexpected merge result %+v", result.Merge)
	}
	if _, err := components.Store.GetMergedArtifact(context.Background(), "COS-001"); err != nil {
		t.Fatalf("expected stored artifact: %v", err)
	}
}

func TestBuildRejectsUnknownPageSize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Merge.PageSize = "B5"
	if _, err := daemonrun.Build(cfg, nil); err == nil {
		t.Fatal("expected page size error")
	}
}

func TestRunRequiresSecret(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Auth.JWTSecret = ""
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err == nil {
		t.Fatal("expected missing secret error")
	}
}

func TestRunWritesAndRemovesPIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.Level = "error"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- daemonrun.Run(ctx, cfg, daemonrun.Options{}) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(cfg.PIDPath())
		if err == nil {
			if pid, _ := strconv.Atoi(strings.TrimSpace(string(data))); pid != os.Getpid() {
				t.Fatalf("unexpected pid %q", data)
			}
			break
		}
		select {
		case err := <-done:
			t.Fatalf("Run exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("pid file never written")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if _, err := os.Stat(cfg.PIDPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected pid file removed, got %v", err)
	}
}
