package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wesm/inboxsweep/internal/config"
	"github.com/wesm/inboxsweep/internal/session"
	"github.com/wesm/inboxsweep/internal/testutil/email"
)

func batchIDs(v session.View) []string {
	ids := make([]string, len(v.CurrentBatch))
	for i, m := range v.CurrentBatch {
		ids[i] = m.ID
	}
	return ids
}

func TestHandleGetSession(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 12)

	w := env.do(t, http.MethodGet, "/api/v1/sessions/delete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	v := decode[session.View](t, w)
	want := []string{"m01", "m02", "m03", "m04", "m05", "m06", "m07", "m08", "m09", "m10"}
	if diff := cmp.Diff(want, batchIDs(v)); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, v.SelectedIDs); diff != "" {
		t.Errorf("first batch should be selected (-want +got):\n%s", diff)
	}
	if v.Mode != "delete" || v.Buffered != 12 {
		t.Errorf("view = mode %s buffered %d", v.Mode, v.Buffered)
	}

	// A second GET reuses the session without listing again.
	calls := env.api.ListMessagesCalls
	if w := env.do(t, http.MethodGet, "/api/v1/sessions/delete", ""); w.Code != http.StatusOK {
		t.Errorf("second GET status = %d", w.Code)
	}
	if env.api.ListMessagesCalls != calls {
		t.Errorf("ListMessages called again: %d -> %d", calls, env.api.ListMessagesCalls)
	}
}

func TestHandleGetSession_UnknownMode(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 0)

	w := env.do(t, http.MethodGet, "/api/v1/sessions/shred", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Error != "unknown_mode" {
		t.Errorf("error = %q, want unknown_mode", resp.Error)
	}
}

func TestHandleGetSession_ListingFailure(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 3)
	env.api.ListMessagesError = errors.New("quota exceeded")

	w := env.do(t, http.MethodGet, "/api/v1/sessions/archive", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Error != "provider_error" {
		t.Errorf("error = %q, want provider_error", resp.Error)
	}
}

func TestSessionActionsRequireOpenSession(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 3)

	for _, action := range []string{"select-all", "deselect-all", "skip", "process", "start-over"} {
		w := env.do(t, http.MethodPost, "/api/v1/sessions/delete/"+action, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("POST %s status = %d, want 404", action, w.Code)
			continue
		}
		if resp := decode[ErrorResponse](t, w); resp.Error != "no_session" {
			t.Errorf("POST %s error = %q, want no_session", action, resp.Error)
		}
	}
}

func TestHandleToggleAndSelection(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 3)
	env.do(t, http.MethodGet, "/api/v1/sessions/delete", "")

	w := env.do(t, http.MethodPost, "/api/v1/sessions/delete/toggle", `{"id":"m02","selected":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", w.Code)
	}
	if diff := cmp.Diff([]string{"m01", "m03"}, decode[session.View](t, w).SelectedIDs); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}

	w = env.do(t, http.MethodPost, "/api/v1/sessions/delete/toggle", `{"id":"zz","selected":true}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("toggle of unknown id status = %d, want 404", w.Code)
	}

	for _, body := range []string{"", "not json", `{"selected":true}`} {
		if w := env.do(t, http.MethodPost, "/api/v1/sessions/delete/toggle", body); w.Code != http.StatusBadRequest {
			t.Errorf("toggle body %q status = %d, want 400", body, w.Code)
		}
	}

	w = env.do(t, http.MethodPost, "/api/v1/sessions/delete/deselect-all", "")
	if v := decode[session.View](t, w); len(v.SelectedIDs) != 0 {
		t.Errorf("SelectedIDs after deselect-all = %v", v.SelectedIDs)
	}
	w = env.do(t, http.MethodPost, "/api/v1/sessions/delete/select-all", "")
	if v := decode[session.View](t, w); len(v.SelectedIDs) != 3 {
		t.Errorf("SelectedIDs after select-all = %v", v.SelectedIDs)
	}
}

func TestHandleProcess(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 3)
	env.do(t, http.MethodGet, "/api/v1/sessions/delete", "")
	env.do(t, http.MethodPost, "/api/v1/sessions/delete/toggle", `{"id":"m03","selected":false}`)

	w := env.do(t, http.MethodPost, "/api/v1/sessions/delete/process", "")
	if w.Code != http.StatusOK {
		t.Fatalf("process status = %d, body %s", w.Code, w.Body.String())
	}
	v := decode[session.View](t, w)
	if v.Stats.Deleted != 2 {
		t.Errorf("Stats = %+v", v.Stats)
	}
	if !v.IsComplete {
		t.Errorf("session should be complete: %+v", v)
	}
	if len(env.api.BatchDeleteCalls) != 1 {
		t.Fatalf("BatchDeleteCalls = %v", env.api.BatchDeleteCalls)
	}
	if diff := cmp.Diff([]string{"m01", "m02"}, env.api.BatchDeleteCalls[0]); diff != "" {
		t.Errorf("deleted ids mismatch (-want +got):\n%s", diff)
	}

	// The commit lands in the journal.
	w = env.do(t, http.MethodGet, "/api/v1/journal", "")
	commits := decode[JournalResponse](t, w).Commits
	if len(commits) != 1 || commits[0].Succeeded != 2 || commits[0].Account != "me@example.com" {
		t.Fatalf("commits = %+v", commits)
	}

	w = env.do(t, http.MethodGet, "/api/v1/journal/"+commits[0].ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("commit detail status = %d", w.Code)
	}
	detail := decode[CommitDetail](t, w)
	if diff := cmp.Diff(CommitDetail{ID: commits[0].ID, Succeeded: []string{"m01", "m02"}, Failed: []string{}}, detail); diff != "" {
		t.Errorf("detail mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleProcess_ProviderFailureRollsBack(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 3)
	env.do(t, http.MethodGet, "/api/v1/sessions/delete", "")
	env.api.BatchDeleteError = errors.New("backend unavailable")

	w := env.do(t, http.MethodPost, "/api/v1/sessions/delete/process", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/sessions/delete", "")
	v := decode[session.View](t, w)
	if diff := cmp.Diff([]string{"m01", "m02", "m03"}, batchIDs(v)); diff != "" {
		t.Errorf("batch should be restored (-want +got):\n%s", diff)
	}
	if v.Stats.Deleted != 0 {
		t.Errorf("Stats = %+v", v.Stats)
	}
}

func TestHandleSkipAndStartOver(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 12)
	env.do(t, http.MethodGet, "/api/v1/sessions/delete", "")

	w := env.do(t, http.MethodPost, "/api/v1/sessions/delete/skip", "")
	if w.Code != http.StatusOK {
		t.Fatalf("skip status = %d", w.Code)
	}
	if diff := cmp.Diff([]string{"m11", "m12"}, batchIDs(decode[session.View](t, w))); diff != "" {
		t.Errorf("batch after skip (-want +got):\n%s", diff)
	}

	w = env.do(t, http.MethodPost, "/api/v1/sessions/delete/start-over", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start-over status = %d", w.Code)
	}
	if v := decode[session.View](t, w); len(v.CurrentBatch) != 10 {
		t.Errorf("batch after start-over = %v", batchIDs(v))
	}
	if len(env.api.BatchDeleteCalls) != 0 {
		t.Errorf("skip must not mutate the mailbox: %v", env.api.BatchDeleteCalls)
	}
}

func TestHandleDisposeSession(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 3)

	if w := env.do(t, http.MethodDelete, "/api/v1/sessions/archive", ""); w.Code != http.StatusNotFound {
		t.Errorf("dispose without session status = %d, want 404", w.Code)
	}

	env.do(t, http.MethodGet, "/api/v1/sessions/archive", "")
	if w := env.do(t, http.MethodDelete, "/api/v1/sessions/archive", ""); w.Code != http.StatusNoContent {
		t.Errorf("dispose status = %d, want 204", w.Code)
	}
	if _, ok := env.registry.Lookup("archive"); ok {
		t.Error("session still registered after dispose")
	}
	if w := env.do(t, http.MethodPost, "/api/v1/sessions/archive/skip", ""); w.Code != http.StatusNotFound {
		t.Errorf("skip after dispose status = %d, want 404", w.Code)
	}
}

func TestHandleMessageBody(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 0)
	env.api.Raw["m1"] = email.NewMessage().
		From("Shop <deals@shop.example>").
		To("me@example.com").
		Subject("Sale").
		Text("Everything must go").
		Bytes()

	w := env.do(t, http.MethodGet, "/api/v1/messages/m1/body", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode[map[string]any](t, w)
	if body["subject"] != "Sale" || body["isHtml"] != false {
		t.Errorf("body = %v", body)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/messages/missing/body", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing message status = %d, want 404", w.Code)
	}

	env.api.GetMessageError["m1"] = errors.New("connection reset")
	if w := env.do(t, http.MethodGet, "/api/v1/messages/m1/body", ""); w.Code != http.StatusBadGateway {
		t.Errorf("provider failure status = %d, want 502", w.Code)
	}
}

func TestHandleListJournal_Filters(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 0)
	journal, err := env.store.Journal(context.Background(), "imap", "other@example.com")
	if err != nil {
		t.Fatal(err)
	}
	gw := newJournalGateway(env.api, journal)
	if err := gw.CommitArchive(context.Background(), []string{"a1", "a2"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 1},
		{"?account=other@example.com", 1},
		{"?account=me@example.com", 0},
		{"?mode=archive", 1},
		{"?mode=delete", 0},
		{"?since=2024-05-01T00:00:00Z", 1},
		{"?since=2024-07-01T00:00:00Z", 0},
		{"?limit=1", 1},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodGet, "/api/v1/journal"+tt.query, "")
		if w.Code != http.StatusOK {
			t.Errorf("GET journal%s status = %d", tt.query, w.Code)
			continue
		}
		if got := decode[JournalResponse](t, w).Commits; len(got) != tt.want {
			t.Errorf("GET journal%s = %d commits, want %d", tt.query, len(got), tt.want)
		}
	}
}

func TestHandleListJournal_BadParams(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 0)

	for _, q := range []string{"?mode=shred", "?since=yesterday", "?limit=0", "?limit=abc"} {
		if w := env.do(t, http.MethodGet, "/api/v1/journal"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("GET journal%s status = %d, want 400", q, w.Code)
		}
	}
	if w := env.do(t, http.MethodGet, "/api/v1/journal/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown commit status = %d, want 404", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 2)
	env.do(t, http.MethodGet, "/api/v1/sessions/delete", "")
	env.do(t, http.MethodPost, "/api/v1/sessions/delete/process", "")

	w := env.do(t, http.MethodGet, "/api/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	stats := decode[StatsResponse](t, w)
	if stats.Accounts != 1 || stats.Commits != 1 || stats.Deleted != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestErrorResponseShape(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, 0)

	w := env.do(t, http.MethodGet, "/api/v1/sessions/nope", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decode[map[string]string](t, w)
	if resp["error"] == "" || resp["message"] == "" {
		t.Errorf("error response = %v", resp)
	}
}
