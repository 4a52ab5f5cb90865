package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"booking_server/core/port/out"
	"booking_server/pkg/apperr"

	"github.com/rs/zerolog"
)

func newTestOutlookAdapter(serverURL string) *OutlookCalendarAdapter {
	a := NewOutlookCalendarAdapter(OutlookConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}, zerolog.Nop())
	a.client = http.DefaultClient
	a.baseURL = serverURL
	a.tokenURL = serverURL + "/token"
	return a
}

func testWindow() (time.Time, time.Time) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func TestOutlookFetchBusyEventsFollowsPagesAndFilters(t *testing.T) {
	var server *httptest.Server
	requests := 0
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization = %q, want Bearer token-1", got)
		}
		if got := r.Header.Get("Prefer"); got != `outlook.timezone="UTC"` {
			t.Errorf("Prefer = %q, want UTC timezone preference", got)
		}

		w.Header().Set("Content-Type", "application/json")
		switch requests {
		case 1:
			q := r.URL.Query()
			if q.Get("$top") != "250" {
				t.Errorf("$top = %q, want 250", q.Get("$top"))
			}
			if q.Get("$select") != "subject,start,end,showAs" {
				t.Errorf("$select = %q", q.Get("$select"))
			}
			if q.Get("startDateTime") == "" || q.Get("endDateTime") == "" {
				t.Error("window query parameters missing")
			}
			// Graph timestamps arrive without a zone suffix under the
			// UTC preference; the busy one must parse, the free one
			// must be dropped.
			fmt.Fprintf(w, `{
				"value": [
					{"subject": "Standup", "showAs": "busy",
					 "start": {"dateTime": "2026-03-02T10:00:00.0000000", "timeZone": "UTC"},
					 "end": {"dateTime": "2026-03-02T10:30:00.0000000", "timeZone": "UTC"}},
					{"subject": "Focus block", "showAs": "free",
					 "start": {"dateTime": "2026-03-02T11:00:00.0000000", "timeZone": "UTC"},
					 "end": {"dateTime": "2026-03-02T12:00:00.0000000", "timeZone": "UTC"}}
				],
				"@odata.nextLink": %q
			}`, server.URL+"/me/calendarView?page=2")
		case 2:
			fmt.Fprint(w, `{
				"value": [
					{"subject": "1:1", "showAs": "tentative",
					 "start": {"dateTime": "2026-03-02T14:00:00.0000000", "timeZone": "UTC"},
					 "end": {"dateTime": "2026-03-02T14:30:00.0000000", "timeZone": "UTC"}}
				]
			}`)
		default:
			t.Errorf("unexpected request %d to %s", requests, r.URL)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	adapter := newTestOutlookAdapter(server.URL)
	start, end := testWindow()
	events, err := adapter.FetchBusyEvents(context.Background(), out.Credentials{AccessToken: "token-1"}, start, end)
	if err != nil {
		t.Fatalf("FetchBusyEvents returned error: %v", err)
	}
	if requests != 2 {
		t.Fatalf("expected both pages to be fetched, got %d requests", requests)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 busy events across pages, got %d", len(events))
	}
	if events[0].Summary != "Standup" {
		t.Errorf("first event = %q, want Standup", events[0].Summary)
	}
	if want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC); !events[0].Start.Equal(want) {
		t.Errorf("first event start = %v, want %v", events[0].Start, want)
	}
	if events[1].Summary != "1:1" {
		t.Errorf("second event = %q, want 1:1", events[1].Summary)
	}
}

func TestOutlookFetchBusyEventsRefreshesOnceOn401(t *testing.T) {
	refreshes := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			refreshes++
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse refresh form: %v", err)
			}
			if r.Form.Get("grant_type") != "refresh_token" {
				t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
			}
			if r.Form.Get("refresh_token") != "refresh-1" {
				t.Errorf("refresh_token = %q", r.Form.Get("refresh_token"))
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token": "token-2", "expires_in": 3600}`)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") == "Bearer token-2" {
			fmt.Fprint(w, `{"value": [
				{"subject": "Meeting", "showAs": "busy",
				 "start": {"dateTime": "2026-03-02T09:00:00", "timeZone": "UTC"},
				 "end": {"dateTime": "2026-03-02T09:30:00", "timeZone": "UTC"}}
			]}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"code": "InvalidAuthenticationToken"}}`)
	}))
	defer server.Close()

	adapter := newTestOutlookAdapter(server.URL)
	start, end := testWindow()
	events, err := adapter.FetchBusyEvents(context.Background(), out.Credentials{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
	}, start, end)
	if err != nil {
		t.Fatalf("FetchBusyEvents returned error: %v", err)
	}
	if refreshes != 1 {
		t.Fatalf("expected exactly one refresh, got %d", refreshes)
	}
	if len(events) != 1 || events[0].Summary != "Meeting" {
		t.Fatalf("expected the retried fetch to succeed, got %#v", events)
	}
}

func TestOutlookFetchBusyEventsDegradesToEmptyWhenRefreshFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error": "invalid_grant"}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := newTestOutlookAdapter(server.URL)
	start, end := testWindow()
	events, err := adapter.FetchBusyEvents(context.Background(), out.Credentials{
		AccessToken:  "stale",
		RefreshToken: "revoked",
	}, start, end)
	if err != nil {
		t.Fatalf("a revoked calendar must degrade to empty, got error: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Fatalf("expected empty non-nil event list, got %#v", events)
	}
}

func TestOutlookFetchBusyEventsDegradesToEmptyWithoutRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := newTestOutlookAdapter(server.URL)
	start, end := testWindow()
	events, err := adapter.FetchBusyEvents(context.Background(), out.Credentials{AccessToken: "stale"}, start, end)
	if err != nil {
		t.Fatalf("missing refresh token must degrade to empty, got error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestOutlookFetchBusyEventsSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := newTestOutlookAdapter(server.URL)
	start, end := testWindow()
	_, err := adapter.FetchBusyEvents(context.Background(), out.Credentials{AccessToken: "token"}, start, end)
	if !apperr.IsCode(err, apperr.CodeProviderUnavailable) {
		t.Fatalf("expected provider unavailable for a 503, got %v", err)
	}
}

func TestOutlookRefreshCredentialsKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "new-access", "expires_in": 3600}`)
	}))
	defer server.Close()

	adapter := newTestOutlookAdapter(server.URL)
	creds, err := adapter.RefreshCredentials(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshCredentials returned error: %v", err)
	}
	if creds.AccessToken != "new-access" {
		t.Errorf("access token = %q, want new-access", creds.AccessToken)
	}
	if creds.RefreshToken != "old-refresh" {
		t.Errorf("refresh token = %q; an omitted rotation must keep the old one", creds.RefreshToken)
	}
	if creds.ExpiresAt.IsZero() {
		t.Error("expiry must be derived from expires_in")
	}
}

func TestOutlookRefreshCredentialsRejectedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "invalid_grant"}`)
	}))
	defer server.Close()

	adapter := newTestOutlookAdapter(server.URL)
	_, err := adapter.RefreshCredentials(context.Background(), "revoked")
	if !apperr.IsCode(err, apperr.CodeTokenRefresh) {
		t.Fatalf("expected token refresh failure, got %v", err)
	}
}

func TestParseGraphTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "naive graph timestamp gains a UTC suffix",
			input: "2026-03-02T10:00:00.0000000",
			want:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		},
		{
			name:  "already suffixed timestamp parses as-is",
			input: "2026-03-02T10:00:00Z",
			want:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		},
		{
			name:    "empty timestamp",
			input:   "",
			wantErr: true,
		},
		{
			name:    "garbage timestamp",
			input:   "not-a-time",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGraphTime(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseGraphTime(%q) error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseGraphTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
