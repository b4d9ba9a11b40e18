package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tahseelapp/tahseel/internal/collection"
)

func testClient(t *testing.T, handler http.HandlerFunc) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTClient(srv.URL, "anon-key", 5*time.Second, nil)
}

func TestSelectBuildsFilterQuery(t *testing.T) {
	var gotQuery url.Values
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/rest/v1/fees") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("apikey header = %q", r.Header.Get("apikey"))
		}
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`[{"id":"F1","paid":50}]`))
	})

	rows, err := c.Select(context.Background(), "fees",
		collection.Filters{"school_id": "S1", "grade": []any{3, 4}})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID() != "F1" {
		t.Errorf("rows = %v", rows)
	}
	if got := gotQuery.Get("school_id"); got != "eq.S1" {
		t.Errorf("school_id = %q, want eq.S1", got)
	}
	if got := gotQuery.Get("grade"); got != "in.(3,4)" {
		t.Errorf("grade = %q, want in.(3,4)", got)
	}
}

func TestUpsertSetsConflictKeyAndPrefer(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("on_conflict"); got != "id" {
			t.Errorf("on_conflict = %q", got)
		}
		if prefer := r.Header.Get("Prefer"); !strings.Contains(prefer, "merge-duplicates") {
			t.Errorf("Prefer = %q", prefer)
		}
		_, _ = w.Write([]byte(`[{"id":"F1","paid":50,"version":1}]`))
	})

	row, err := c.Upsert(context.Background(), "fees", collection.Record{"id": "F1", "paid": 50}, "id")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := row.Version(); v != 1 {
		t.Errorf("returned version = %d, want server representation", v)
	}
}

func TestUpdateTargetsID(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("id"); got != "eq.F1" {
			t.Errorf("id = %q, want eq.F1", got)
		}
		_, _ = w.Write([]byte(`[{"id":"F1","paid":75}]`))
	})

	row, err := c.Update(context.Background(), "fees", "F1", collection.Record{"paid": 75})
	if err != nil {
		t.Fatal(err)
	}
	if row["paid"] != float64(75) {
		t.Errorf("paid = %v", row["paid"])
	}
}

func TestDeleteErrorClassified(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23503","message":"violates foreign key"}`))
	})

	err := c.Delete(context.Background(), "schools", "S1")
	if KindOf(err) != KindForeignKey {
		t.Errorf("kind = %s, want foreign_key", KindOf(err))
	}
}

func TestSelectConnectivityError(t *testing.T) {
	// Point at a closed server.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	c := NewRESTClient(srv.URL, "k", time.Second, nil)

	_, err := c.Select(context.Background(), "fees", nil)
	if KindOf(err) != KindConnectivity {
		t.Errorf("kind = %s, want connectivity", KindOf(err))
	}
}

func TestPingFallsBackToRESTRoot(t *testing.T) {
	var restProbed bool
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/auth/v1/health") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		restProbed = true
		_, _ = w.Write([]byte(`{}`))
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if !restProbed {
		t.Error("expected fallback probe against /rest/v1/")
	}
}

func TestSessionGatesAuthorizationHeader(t *testing.T) {
	var auth string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	})

	if _, err := c.Select(context.Background(), "fees", nil); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer anon-key" {
		t.Errorf("anonymous Authorization = %q", auth)
	}

	c.SetSession(&Session{UserID: "u1", AccessToken: "jwt-token"})
	if _, err := c.Select(context.Background(), "fees", nil); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer jwt-token" {
		t.Errorf("authenticated Authorization = %q", auth)
	}

	sess, err := c.CurrentSession(context.Background())
	if err != nil || sess == nil || sess.UserID != "u1" {
		t.Errorf("CurrentSession = %+v, %v", sess, err)
	}
}
