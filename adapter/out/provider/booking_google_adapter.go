// Package provider contains the outbound adapters that talk to external
// calendar providers. Each adapter fetches busy intervals for conflict
// detection and refreshes OAuth credentials on demand, behind a circuit
// breaker so a degraded provider fails fast instead of stalling aggregation.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking_server/core/domain"
	"booking_server/core/port/out"
	"booking_server/pkg/apperr"
	"booking_server/pkg/httputil"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const googlePageSize = 250

// GoogleConfig holds Google OAuth client configuration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleCalendarAdapter implements out.BusyCalendarPort against the Google
// Calendar API, reading the connected account's primary calendar.
type GoogleCalendarAdapter struct {
	oauthConfig *oauth2.Config
	cb          *gobreaker.CircuitBreaker
	log         zerolog.Logger
}

func NewGoogleCalendarAdapter(cfg GoogleConfig, log zerolog.Logger) *GoogleCalendarAdapter {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			calendar.CalendarReadonlyScope,
		},
		Endpoint: google.Endpoint,
	}

	log = log.With().Str("component", "google-calendar").Logger()
	return &GoogleCalendarAdapter{
		oauthConfig: oauthConfig,
		cb:          newCalendarBreaker("google-calendar-api", log),
		log:         log,
	}
}

func (a *GoogleCalendarAdapter) Provider() domain.CalendarProvider {
	return domain.ProviderGoogle
}

// getService builds a Calendar client bound to one access token. A static
// token source keeps the oauth2 library from refreshing behind our back;
// refresh is an explicit, persisted step owned by the caller.
func (a *GoogleCalendarAdapter) getService(ctx context.Context, accessToken string) (*calendar.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GoogleClient())
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	return calendar.NewService(ctx, option.WithHTTPClient(client))
}

// FetchBusyEvents lists the primary calendar inside the window, expanding
// recurring events into instances. Cancelled events, all-day events, and
// events marked transparent (free) are dropped. On a 401 the adapter
// refreshes once and retries; if the refresh path is closed too, it reports
// no events rather than an error so this account degrades silently.
func (a *GoogleCalendarAdapter) FetchBusyEvents(ctx context.Context, creds out.Credentials, windowStart, windowEnd time.Time) ([]domain.CalendarEvent, error) {
	events, err := a.listBusy(ctx, creds.AccessToken, windowStart, windowEnd)
	if err == nil {
		return events, nil
	}
	if !isGoogleAuthError(err) {
		return nil, apperr.ProviderUnavailable(string(domain.ProviderGoogle), err)
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
		if isGoogleAuthError(err) {
			a.log.Warn().Err(err).Msg("refreshed token also rejected, treating calendar as empty")
			return []domain.CalendarEvent{}, nil
		}
		return nil, apperr.ProviderUnavailable(string(domain.ProviderGoogle), err)
	}
	return events, nil
}

func (a *GoogleCalendarAdapter) listBusy(ctx context.Context, accessToken string, windowStart, windowEnd time.Time) ([]domain.CalendarEvent, error) {
	svc, err := a.getService(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	var events []domain.CalendarEvent
	pageToken := ""
	for {
		var resp *calendar.Events
		cbErr := a.executeWithCircuitBreaker("ListEvents", func() error {
			req := svc.Events.List("primary").
				TimeMin(windowStart.Format(time.RFC3339)).
				TimeMax(windowEnd.Format(time.RFC3339)).
				SingleEvents(true).
				OrderBy("startTime").
				MaxResults(googlePageSize).
				Context(ctx)
			if pageToken != "" {
				req = req.PageToken(pageToken)
			}
			var doErr error
			resp, doErr = req.Do()
			return doErr
		})
		if cbErr != nil {
			return nil, fmt.Errorf("list events: %w", cbErr)
		}

		for _, item := range resp.Items {
			if ev, ok := a.convertEvent(item); ok {
				events = append(events, ev)
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	if events == nil {
		events = []domain.CalendarEvent{}
	}
	return events, nil
}

// convertEvent maps one API event to a busy interval, dropping events that
// do not block time.
func (a *GoogleCalendarAdapter) convertEvent(item *calendar.Event) (domain.CalendarEvent, bool) {
	if item.Status == "cancelled" {
		return domain.CalendarEvent{}, false
	}
	if item.Transparency == "transparent" {
		return domain.CalendarEvent{}, false
	}
	// All-day events carry Date instead of DateTime and do not block slots.
	if item.Start == nil || item.Start.DateTime == "" || item.End == nil || item.End.DateTime == "" {
		return domain.CalendarEvent{}, false
	}

	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return domain.CalendarEvent{}, false
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return domain.CalendarEvent{}, false
	}

	return domain.CalendarEvent{
		Start:      start.UTC(),
		End:        end.UTC(),
		CalendarID: "primary",
		Provider:   domain.ProviderGoogle,
		Summary:    item.Summary,
	}, true
}

// RefreshCredentials exchanges a refresh token for a fresh access token.
func (a *GoogleCalendarAdapter) RefreshCredentials(ctx context.Context, refreshToken string) (out.Credentials, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GoogleClient())
	src := a.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := src.Token()
	if err != nil {
		return out.Credentials{}, apperr.TokenRefreshFailed(string(domain.ProviderGoogle), err)
	}

	creds := out.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	// Google often omits the refresh token on refresh; keep the one we have.
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}
	return creds, nil
}

// executeWithCircuitBreaker wraps an API call so sustained server-side
// failures fail fast. Client errors pass through without tripping.
func (a *GoogleCalendarAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
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

func isGoogleAuthError(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 401
}

var _ out.BusyCalendarPort = (*GoogleCalendarAdapter)(nil)
