package lms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"coursearchiver/internal/core/domain"
	"coursearchiver/internal/core/ports"
)

var (
	ErrLoginFailed  = errors.New("login failed")
	ErrNoCourseID   = errors.New("no course id in URL")
	ErrNoStructure  = errors.New("course structure unavailable")
	ErrCourseAccess = errors.New("course page not reachable")
)

var courseIDPattern = regexp.MustCompile(`course-v1:[a-zA-Z0-9._+\-]+`)

// Session is the HTTP session the client authenticates. It must keep
// cookies between requests.
type Session interface {
	ports.HTTPDoer
	Cookie(u *url.URL, name string) string
}

// Config holds LMS endpoints.
type Config struct {
	BaseURL  string // https://lms.example.org
	AppsURL  string // https://apps.example.org, the learning frontend
	Timezone string
	Timeout  time.Duration
}

// Client implements ports.CourseSource against an Open edX style LMS.
type Client struct {
	session Session
	cfg     Config
	base    *url.URL
	logger  hclog.Logger
}

// NewClient creates a Client. Login must succeed before the course calls
// return anything useful.
func NewClient(session Session, cfg Config, logger hclog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid LMS base URL %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AppsURL = strings.TrimRight(cfg.AppsURL, "/")
	if cfg.AppsURL == "" {
		cfg.AppsURL = cfg.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{session: session, cfg: cfg, base: base, logger: logger.Named("lms")}, nil
}

// Login obtains a CSRF token and opens a session with username and
// password. It fails unless the server sets a sessionid cookie.
func (c *Client) Login(ctx context.Context, username, password string) error {
	c.logger.Info("logging in", "user", username)

	resp, err := c.get(ctx, c.cfg.BaseURL+"/csrf/api/v1/token", nil)
	if err != nil {
		return fmt.Errorf("%w: csrf token: %w", ErrLoginFailed, err)
	}
	drain(resp)
	token := c.session.Cookie(c.base, "csrftoken")
	if token == "" {
		return fmt.Errorf("%w: no csrftoken cookie", ErrLoginFailed)
	}

	form := url.Values{
		"email":    {username},
		"password": {password},
		"remember": {"false"},
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/user/v1/account/login_session/", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRFToken", token)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("USE-JWT-COOKIE", "true")
	req.Header.Set("Origin", c.cfg.BaseURL)
	req.Header.Set("Referer", c.cfg.BaseURL+"/")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err = c.session.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d, body: %s", ErrLoginFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if c.session.Cookie(c.base, "sessionid") == "" {
		return fmt.Errorf("%w: no sessionid cookie", ErrLoginFailed)
	}
	c.logger.Info("logged in")
	return nil
}

// CourseID extracts the canonical course-v1:... id from a course URL.
func CourseID(courseURL string) (string, error) {
	if u, err := url.PathUnescape(courseURL); err == nil {
		courseURL = u
	}
	id := courseIDPattern.FindString(courseURL)
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrNoCourseID, courseURL)
	}
	return id, nil
}

// CourseHomeURL is the learning frontend page of a course.
func (c *Client) CourseHomeURL(courseID string) string {
	return c.cfg.AppsURL + "/learning/course/" + courseID + "/home"
}

// CourseStructure returns the raw outline document of the course. The
// known endpoints are tried in order; the first that answers with a
// non-null course_blocks wins.
func (c *Client) CourseStructure(ctx context.Context, courseURL string) ([]byte, error) {
	id, err := CourseID(courseURL)
	if err != nil {
		return nil, err
	}
	if err := c.openCourse(ctx, id); err != nil {
		return nil, err
	}

	q := url.Values{}
	if c.cfg.Timezone != "" {
		q.Set("browser_timezone", c.cfg.Timezone)
	}
	endpoints := []string{
		c.cfg.BaseURL + "/api/extended/outline/" + id,
		c.cfg.BaseURL + "/api/course_home/course_metadata/" + id,
	}

	var errs []error
	for _, ep := range endpoints {
		if len(q) > 0 {
			ep += "?" + q.Encode()
		}
		c.logger.Debug("requesting course structure", "url", ep)
		body, err := c.getJSON(ctx, ep)
		if err != nil {
			c.logger.Warn("structure endpoint failed", "url", ep, "error", err)
			errs = append(errs, err)
			continue
		}
		var probe struct {
			CourseBlocks json.RawMessage `json:"course_blocks"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
			continue
		}
		if len(probe.CourseBlocks) == 0 || string(probe.CourseBlocks) == "null" {
			c.logger.Warn("endpoint answered without course_blocks", "url", ep)
			errs = append(errs, fmt.Errorf("%s: course_blocks is null", ep))
			continue
		}
		c.logger.Info("course structure received", "course", id, "bytes", len(body))
		return body, nil
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrNoStructure, id, errors.Join(errs...))
}

// openCourse visits the course home page so the learning frontend sets its
// cookies, and checks that the course did not redirect elsewhere.
func (c *Client) openCourse(ctx context.Context, courseID string) error {
	home := c.CourseHomeURL(courseID)
	resp, err := c.get(ctx, home, http.Header{
		"Accept": {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCourseAccess, err)
	}
	drain(resp)
	final := resp.Request.URL.String()
	if u, err := url.PathUnescape(final); err == nil {
		final = u
	}
	if !strings.Contains(final, courseID) {
		return fmt.Errorf("%w: redirected to %s", ErrCourseAccess, resp.Request.URL)
	}
	return nil
}

type enrollment struct {
	IsActive *bool `json:"is_active"`
	CourseID string `json:"course_id"`
	Name     string `json:"course_name"`
	Display  string `json:"display_name"`
	Course   *struct {
		ID       string `json:"id"`
		CourseID string `json:"course_id"`
		Name     string `json:"name"`
		Display  string `json:"display_name"`
	} `json:"course"`
	Details *struct {
		ID       string `json:"id"`
		CourseID string `json:"course_id"`
		Name     string `json:"course_name"`
		Display  string `json:"display_name"`
	} `json:"course_details"`
}

// ref picks the id and name from whichever part of the record has them.
func (e enrollment) ref() (id, name string) {
	if e.Course != nil {
		id = firstNonEmpty(e.Course.ID, e.Course.CourseID)
		name = firstNonEmpty(e.Course.Name, e.Course.Display)
	}
	id = firstNonEmpty(id, e.CourseID)
	name = firstNonEmpty(name, e.Name, e.Display)
	if e.Details != nil {
		id = firstNonEmpty(id, e.Details.CourseID, e.Details.ID)
		name = firstNonEmpty(name, e.Details.Name, e.Details.Display)
	}
	return id, name
}

// EnrolledCourses lists the user's active enrollments sorted by name. When
// the enrollment API yields nothing usable, the public course catalogue is
// used instead, filtered to enrolled ids when any are known.
func (c *Client) EnrolledCourses(ctx context.Context) ([]domain.CourseRef, error) {
	courses, enrolled, err := c.enrollments(ctx)
	if err != nil {
		c.logger.Warn("enrollment API failed", "error", err)
	}
	if len(courses) > 0 {
		return c.sorted(courses), nil
	}

	c.logger.Info("falling back to the course catalogue")
	catalogue, cerr := c.catalogue(ctx)
	if cerr != nil {
		return nil, errors.Join(err, cerr)
	}
	for _, ref := range catalogue {
		if len(enrolled) > 0 && !enrolled[ref.ID] {
			continue
		}
		courses = append(courses, ref)
	}
	return c.sorted(courses), nil
}

func (c *Client) enrollments(ctx context.Context) ([]domain.CourseRef, map[string]bool, error) {
	body, err := c.getJSON(ctx, c.cfg.BaseURL+"/api/enrollment/v1/enrollment")
	if err != nil {
		return nil, nil, err
	}
	var records []enrollment
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, nil, fmt.Errorf("decode enrollments: %w", err)
	}

	var out []domain.CourseRef
	ids := map[string]bool{}
	for _, e := range records {
		id, name := e.ref()
		if id != "" {
			ids[id] = true
		}
		active := e.IsActive == nil || *e.IsActive
		if id == "" || name == "" || !active {
			c.logger.Debug("skipping enrollment", "course", id, "name", name, "active", active)
			continue
		}
		out = append(out, domain.CourseRef{ID: id, Name: name})
	}
	return out, ids, nil
}

func (c *Client) catalogue(ctx context.Context) ([]domain.CourseRef, error) {
	body, err := c.getJSON(ctx, c.cfg.BaseURL+"/api/courses/v1/courses/")
	if err != nil {
		return nil, err
	}
	var page struct {
		Results []struct {
			CourseID string `json:"course_id"`
			Name     string `json:"name"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode course catalogue: %w", err)
	}
	var out []domain.CourseRef
	for _, r := range page.Results {
		if r.CourseID != "" && r.Name != "" {
			out = append(out, domain.CourseRef{ID: r.CourseID, Name: r.Name})
		}
	}
	return out, nil
}

func (c *Client) sorted(refs []domain.CourseRef) []domain.CourseRef {
	for i := range refs {
		refs[i].URL = c.CourseHomeURL(refs[i].ID)
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs
}

func (c *Client) get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.session.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp)
		cancel()
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// getJSON performs an API call with the headers the learning frontend
// sends.
func (c *Client) getJSON(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.get(ctx, rawURL, http.Header{
		"Accept":         {"application/json, text/plain, */*"},
		"Origin":         {c.cfg.AppsURL},
		"Referer":        {c.cfg.AppsURL + "/"},
		"Use-Jwt-Cookie": {"true"},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
