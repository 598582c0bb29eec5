package caldav

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-webdav/caldav"

	"github.com/tazhate/weatherplanner/config"
	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/ics"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"
)

// Client mirrors local events into a remote CalDAV calendar
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	log          logger.Logger
	now          func() time.Time

	mu     sync.Mutex
	client *caldav.Client
}

// NewClient creates a new CalDAV client
func NewClient(cfg config.CalDAVConfig, log logger.Logger) *Client {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL:      baseURL,
		username:     cfg.Username,
		password:     cfg.Password,
		calendarPath: cfg.CalendarPath,
		log:          log,
		now:          time.Now,
	}
}

// IsConfigured returns true if the client has credentials
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns all calendars for the user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var result []Calendar
	for _, cal := range cals {
		result = append(result, Calendar{
			Path:        cal.Path,
			DisplayName: cal.Name,
			Description: cal.Description,
		})
	}

	return result, nil
}

// ResolveCalendar picks the first discovered calendar when no path is configured
func (c *Client) ResolveCalendar(ctx context.Context) (string, error) {
	if c.calendarPath != "" {
		return c.calendarPath, nil
	}

	cals, err := c.DiscoverCalendars(ctx)
	if err != nil {
		return "", err
	}
	if len(cals) == 0 {
		return "", fmt.Errorf("no calendars found for %s", c.username)
	}

	c.calendarPath = cals[0].Path
	c.log.Info(ctx, "using remote calendar",
		logger.String("path", c.calendarPath),
		logger.String("name", cals[0].DisplayName),
	)
	return c.calendarPath, nil
}

// PushEvent creates or replaces the remote copy of e
func (c *Client) PushEvent(ctx context.Context, scope domain.Scope, e domain.Event) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	path, err := c.objectPath(scope, e.ID)
	if err != nil {
		return err
	}

	cal := ics.NewCalendar([]domain.Event{e}, c.now())
	if _, err := client.PutCalendarObject(ctx, path, cal); err != nil {
		return fmt.Errorf("put event %s: %w", e.ID, err)
	}

	c.log.Debug(ctx, "event pushed to CalDAV", logger.String("path", path))
	return nil
}

// RemoveEvent deletes the remote copy of an event
func (c *Client) RemoveEvent(ctx context.Context, scope domain.Scope, id string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	path, err := c.objectPath(scope, id)
	if err != nil {
		return err
	}

	if err := client.RemoveAll(ctx, path); err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}

	c.log.Debug(ctx, "event removed from CalDAV", logger.String("path", path))
	return nil
}

// objectPath is unique per scope since event ids are only unique within one
func (c *Client) objectPath(scope domain.Scope, id string) (string, error) {
	if c.calendarPath == "" {
		return "", fmt.Errorf("calendar path not specified")
	}

	eventPath := c.calendarPath
	if !strings.HasSuffix(eventPath, "/") {
		eventPath += "/"
	}
	return eventPath + url.PathEscape(scope.String()+"-"+id) + ".ics", nil
}
