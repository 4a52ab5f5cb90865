package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"booking_server/core/domain"
	"booking_server/core/port/out"
	"booking_server/pkg/apperr"
	"booking_server/pkg/httputil"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	msGraphBaseURL  = "https://graph.microsoft.com/v1.0"
	outlookPageSize = 250
)

// OutlookConfig holds Microsoft identity platform client configuration.
// Tenant is usually "common" for multi-tenant consumer+work apps.
type OutlookConfig struct {
	ClientID     string
	ClientSecret string
	Tenant       string
	Scopes       []string
}

// OutlookCalendarAdapter implements out.BusyCalendarPort against the
// Microsoft Graph calendarView endpoint. Graph's calendar surface is plain
// REST, so this adapter speaks HTTP directly instead of going through an SDK.
type OutlookCalendarAdapter struct {
	cfg    OutlookConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	log    zerolog.Logger

	// overridable in tests
	baseURL  string
	tokenURL string
}

func NewOutlookCalendarAdapter(cfg OutlookConfig, log zerolog.Logger) *OutlookCalendarAdapter {
	if cfg.Tenant == "" {
		cfg.Tenant = "common"
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"offline_access", "Calendars.Read"}
	}

	log = log.With().Str("component", "outlook-calendar").Logger()
	return &OutlookCalendarAdapter{
		cfg:      cfg,
		client:   httputil.OutlookClient(),
		cb:       newCalendarBreaker("outlook-graph-api", log),
		log:      log,
		baseURL:  msGraphBaseURL,
		tokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Tenant),
	}
}

func (a *OutlookCalendarAdapter) Provider() domain.CalendarProvider {
	return domain.ProviderOutlook
}

// graphEvent is the subset of a Graph event selected via $select.
type graphEvent struct {
	Subject string `json:"subject"`
	ShowAs  string `json:"showAs"`
	Start   struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"end"`
}

// FetchBusyEvents walks /me/calendarView for the window, following
// @odata.nextLink pages. calendarView expands recurring events server-side.
// Events marked showAs "free" do not block time and are dropped. Auth
// failures trigger one refresh-and-retry, then degrade to an empty list.
func (a *OutlookCalendarAdapter) FetchBusyEvents(ctx context.Context, creds out.Credentials, windowStart, windowEnd time.Time) ([]domain.CalendarEvent, error) {
	events, err := a.listBusy(ctx, creds.AccessToken, windowStart, windowEnd)
	if err == nil {
		return events, nil
	}
	if !isGraphAuthError(err) {
		return nil, apperr.ProviderUnavailable(string(domain.ProviderOutlook), err)
	}

	if creds.RefreshToken == "" {
		a.log.Warn().Msg("access token rejected and no refresh token available")
		return []domain.CalendarEvent{}, nil
	}

	refreshed, refreshErr := a.RefreshCredentials(ctx, creds.RefreshToken)
	if refreshErr != nil {
		a.log.Warn().Err(refreshErr).Msg("token refresh after 401 failed, treating calendar as empty")
		return []domain.CalendarEvent{}, nil
	}

	events, err = a.listBusy(ctx, refreshed.AccessToken, windowStart, windowEnd)
	if err != nil {
		if isGraphAuthError(err) {
			a.log.Warn().Err(err).Msg("refreshed token also rejected, treating calendar as empty")
			return []domain.CalendarEvent{}, nil
		}
		return nil, apperr.ProviderUnavailable(string(domain.ProviderOutlook), err)
	}
	return events, nil
}

func (a *OutlookCalendarAdapter) listBusy(ctx context.Context, accessToken string, windowStart, windowEnd time.Time) ([]domain.CalendarEvent, error) {
	params := url.Values{}
	params.Set("startDateTime", windowStart.UTC().Format(time.RFC3339))
	params.Set("endDateTime", windowEnd.UTC().Format(time.RFC3339))
	params.Set("$select", "subject,start,end,showAs")
	params.Set("$top", fmt.Sprintf("%d", outlookPageSize))

	endpoint := a.baseURL + "/me/calendarView?" + params.Encode()

	var events []domain.CalendarEvent
	for endpoint != "" {
		var page struct {
			Value    []graphEvent `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := a.getJSON(ctx, endpoint, accessToken, &page); err != nil {
			return nil, err
		}

		for _, ev := range page.Value {
			if converted, ok := a.convertEvent(ev); ok {
				events = append(events, converted)
			}
		}

		// Graph hands back a complete URL as the page cursor.
		endpoint = page.NextLink
	}

	if events == nil {
		events = []domain.CalendarEvent{}
	}
	return events, nil
}

func (a *OutlookCalendarAdapter) getJSON(ctx context.Context, endpoint, accessToken string, result any) error {
	return a.executeWithCircuitBreaker("calendarView", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Prefer", `outlook.timezone="UTC"`)

		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("graph request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return &graphError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode graph response: %w", err)
		}
		return nil
	})
}

// convertEvent maps one Graph event to a busy interval. Graph returns naive
// local timestamps in the requested timezone; with the UTC preference header
// they are UTC wall clocks missing only the zone suffix.
func (a *OutlookCalendarAdapter) convertEvent(ev graphEvent) (domain.CalendarEvent, bool) {
	if strings.EqualFold(ev.ShowAs, "free") {
		return domain.CalendarEvent{}, false
	}

	start, err := parseGraphTime(ev.Start.DateTime)
	if err != nil {
		return domain.CalendarEvent{}, false
	}
	end, err := parseGraphTime(ev.End.DateTime)
	if err != nil {
		return domain.CalendarEvent{}, false
	}

	return domain.CalendarEvent{
		Start:      start,
		End:        end,
		CalendarID: "primary",
		Provider:   domain.ProviderOutlook,
		Summary:    ev.Subject,
	}, true
}

func parseGraphTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty graph timestamp")
	}
	if !strings.HasSuffix(s, "Z") {
		s += "Z"
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse graph timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// RefreshCredentials exchanges a refresh token at the Microsoft identity
// platform token endpoint.
func (a *OutlookCalendarAdapter) RefreshCredentials(ctx context.Context, refreshToken string) (out.Credentials, error) {
	form := url.Values{}
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("scope", strings.Join(a.cfg.Scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return out.Credentials{}, apperr.TokenRefreshFailed(string(domain.ProviderOutlook), err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return out.Credentials{}, apperr.TokenRefreshFailed(string(domain.ProviderOutlook), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return out.Credentials{}, apperr.TokenRefreshFailed(string(domain.ProviderOutlook),
			fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body)))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return out.Credentials{}, apperr.TokenRefreshFailed(string(domain.ProviderOutlook), err)
	}

	creds := out.Credentials{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}
	if payload.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return creds, nil
}

func (a *OutlookCalendarAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if gerr, ok := err.(*graphError); ok {
				switch gerr.StatusCode {
				case 500, 502, 503, 504, 429:
					return nil, err
				default:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if err != nil && a.cb.State() != gobreaker.StateClosed {
		a.log.Warn().
			Str("operation", operation).
			Str("state", a.cb.State().String()).
			Msg("circuit breaker rejecting calls")
	}
	return unwrapNonCircuit(err)
}

// graphError carries an HTTP failure from Graph with a body excerpt.
type graphError struct {
	StatusCode int
	Body       string
}

func (e *graphError) Error() string {
	return fmt.Sprintf("graph API returned %d: %s", e.StatusCode, e.Body)
}

func isGraphAuthError(err error) bool {
	var gerr *graphError
	return errors.As(err, &gerr) && gerr.StatusCode == http.StatusUnauthorized
}

var _ out.BusyCalendarPort = (*OutlookCalendarAdapter)(nil)
