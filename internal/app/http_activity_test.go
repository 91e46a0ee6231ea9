package app

import (
	"fmt"
	"net/http"
	"testing"
)

func activityURL(base string, query string) string {
	url := base + "/api/activity"
	if query != "" {
		url += "?" + query
	}
	return url
}

func TestActivityLogOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	chairToken := login(t, server, "Maria", "chairperson")

	for _, action := range []string{"initiate", "close"} {
		if resp, _ := doJSON(t, http.MethodPost, planURL(server, "budget", 2025, action), chairToken, nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", action, resp.StatusCode)
		}
	}
	if resp, _ := doJSON(t, http.MethodPost, planURL(server, "youth-development-plan", 2025, "initiate"), chairToken, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("youth initiate status = %d", resp.StatusCode)
	}

	resp, payload := doJSON(t, http.MethodGet, activityURL(server.URL, ""), chairToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activity status = %d (%v)", resp.StatusCode, payload)
	}
	events, _ := payload["events"].([]any)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	// newest first
	first := events[0].(map[string]any)
	if first["module"] != "youth-development-plan" {
		t.Fatalf("first event module = %v, want the newest", first["module"])
	}

	resp, payload = doJSON(t, http.MethodGet, activityURL(server.URL, "module=budget"), chairToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("filtered activity status = %d", resp.StatusCode)
	}
	events, _ = payload["events"].([]any)
	if len(events) != 2 {
		t.Fatalf("budget events = %d, want 2", len(events))
	}
}

func TestActivityPaginationOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	chairToken := login(t, server, "Maria", "chairperson")

	years := []int{2023, 2024, 2025}
	for _, year := range years {
		if resp, _ := doJSON(t, http.MethodPost, planURL(server, "budget", year, "initiate"), chairToken, nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("initiate %d status = %d", year, resp.StatusCode)
		}
	}

	resp, payload := doJSON(t, http.MethodGet, activityURL(server.URL, "limit=2"), chairToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("page one status = %d", resp.StatusCode)
	}
	if payload["hasMore"] != true {
		t.Fatalf("hasMore = %v, want true", payload["hasMore"])
	}
	cursor, _ := payload["nextCursor"].(string)
	if cursor == "" {
		t.Fatal("page one must return a cursor")
	}
	firstPage, _ := payload["events"].([]any)

	resp, payload = doJSON(t, http.MethodGet, activityURL(server.URL, "limit=2&cursor="+cursor), chairToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("page two status = %d", resp.StatusCode)
	}
	secondPage, _ := payload["events"].([]any)
	if len(firstPage)+len(secondPage) != 3 {
		t.Fatalf("pages carry %d + %d events, want all 3", len(firstPage), len(secondPage))
	}
	seen := map[any]bool{}
	for _, raw := range append(firstPage, secondPage...) {
		id := raw.(map[string]any)["id"]
		if seen[id] {
			t.Fatalf("event %v appeared on both pages", id)
		}
		seen[id] = true
	}

	// the cursor was issued for the unfiltered view
	resp, payload = doJSON(t, http.MethodGet, activityURL(server.URL, "module=budget&cursor="+cursor), chairToken, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("cursor after filter change status = %d (%v), want 422", resp.StatusCode, payload)
	}
	if payload["code"] != "INVALID_CURSOR" {
		t.Fatalf("code = %v, want INVALID_CURSOR", payload["code"])
	}
}

func TestActivityForbiddenForMember(t *testing.T) {
	server, _ := newTestServer(t)
	memberToken := login(t, server, "Ivo", "member")

	resp, _ := doJSON(t, http.MethodGet, activityURL(server.URL, ""), memberToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member activity status = %d, want 403", resp.StatusCode)
	}
}

func TestActivityDateFilterOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	chairToken := login(t, server, "Maria", "chairperson")

	if resp, _ := doJSON(t, http.MethodPost, planURL(server, "budget", 2025, "initiate"), chairToken, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("initiate status = %d", resp.StatusCode)
	}

	resp, payload := doJSON(t, http.MethodGet, activityURL(server.URL, "from=2000-01-01&to=2999-12-31"), chairToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("date filter status = %d", resp.StatusCode)
	}
	events, _ := payload["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	resp, payload = doJSON(t, http.MethodGet, activityURL(server.URL, fmt.Sprintf("from=%s&to=%s", "1990-01-01", "1990-12-31")), chairToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty range status = %d", resp.StatusCode)
	}
	events, _ = payload["events"].([]any)
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0", len(events))
	}
}
