package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"printkiosk/internal/api"
	"printkiosk/internal/jobs"
)

func dialJobs(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", url, err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) api.JobSnapshot {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var snap api.JobSnapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	return snap
}

func TestJobSocketStreamsSnapshots(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.server)
	t.Cleanup(srv.Close)

	conn := dialJobs(t, srv, "")
	initial := readSnapshot(t, conn)
	if initial.Status != api.StatusSuccess || len(initial.Jobs) != 0 {
		t.Fatalf("unexpected initial snapshot: %+v", initial)
	}

	job, err := h.store.Create(context.Background(), &jobs.Job{FileName: "a.pdf"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	next := readSnapshot(t, conn)
	if len(next.Jobs) != 1 || next.Jobs[0].ID != job.ID {
		t.Fatalf("expected snapshot with the new job, got %+v", next.Jobs)
	}
	if next.Sequence <= initial.Sequence {
		t.Fatalf("expected sequence to advance, got %d then %d", initial.Sequence, next.Sequence)
	}

	if _, err := h.store.Update(context.Background(), job.ID, jobs.Patch{Status: jobs.Ptr(jobs.StatusCompleted)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	done := readSnapshot(t, conn)
	if len(done.Jobs) != 1 || done.Jobs[0].Status != string(jobs.StatusCompleted) || done.Jobs[0].Progress != 100 {
		t.Fatalf("expected completed job to stay visible until reaped, got %+v", done.Jobs)
	}

	if _, err := h.store.Delete(context.Background(), job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	reaped := readSnapshot(t, conn)
	if len(reaped.Jobs) != 0 {
		t.Fatalf("expected deleted job to leave the snapshot, got %+v", reaped.Jobs)
	}
}

func TestJobSocketShowsCancelledJobs(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.server)
	t.Cleanup(srv.Close)

	job, err := h.store.Create(context.Background(), &jobs.Job{FileName: "b.pdf"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	conn := dialJobs(t, srv, "")
	_ = readSnapshot(t, conn)

	if _, err := h.store.Update(context.Background(), job.ID, jobs.Patch{
		Status:        jobs.Ptr(jobs.StatusError),
		StatusMessage: jobs.Ptr(api.CancelledMessage),
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	snap := readSnapshot(t, conn)
	if len(snap.Jobs) != 1 || snap.Jobs[0].Status != string(jobs.StatusError) || snap.Jobs[0].StatusMessage != api.CancelledMessage {
		t.Fatalf("expected cancelled job in snapshot, got %+v", snap.Jobs)
	}
}

func TestJobSocketRequiresToken(t *testing.T) {
	h := newHarness(t, func(d *api.Deps) { d.Token = "secret" })
	srv := httptest.NewServer(h.server)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	conn := dialJobs(t, srv, "?access_token=secret")
	if snap := readSnapshot(t, conn); snap.Status != api.StatusSuccess {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
