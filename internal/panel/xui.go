package panel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/platform"
)

const (
	msPerDay         = int64(24 * time.Hour / time.Millisecond)
	maxResponseBytes = 4 << 20
	defaultFlow      = "xtls-rprx-vision"
)

// XUI is the Adapter implementation for 3x-ui panels. The panel keeps a
// cookie session that expires server-side at its own pace; an expired
// session answers with 401/403 or with the login page instead of JSON.
// Every call re-logins once, transparently, when it hits that.
//
// Calls against one panel are serialized: the cookie jar and session
// flag are shared, and the panels themselves handle interleaved writes
// to one inbound poorly.
type XUI struct {
	server model.PanelServer
	httpc  *http.Client

	mu       sync.Mutex
	loggedIn bool
}

var _ Adapter = (*XUI)(nil)

func NewXUI(server model.PanelServer, timeout time.Duration) *XUI {
	jar, _ := cookiejar.New(nil)
	return &XUI{
		server: server,
		httpc: &http.Client{
			Timeout: timeout,
			Jar:     jar,
			Transport: &http.Transport{
				// panels ship with self-signed certificates
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func (x *XUI) Name() string { return x.server.Name }

type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

func (x *XUI) Authenticate(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.login(ctx)
}

func (x *XUI) login(ctx context.Context) error {
	form := url.Values{
		"username": {x.server.Username},
		"password": {x.server.Password},
	}

	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.server.BaseURL+"/login", strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := x.httpc.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return retry.RetryableError(err)
		}
		var out apiResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return retry.RetryableError(fmt.Errorf("decode login response: %w", err))
		}
		if !out.Success {
			// bad credentials will not get better on retry
			return fmt.Errorf("panel refused login: %s", out.Msg)
		}
		return nil
	})
	if err != nil {
		x.loggedIn = false
		return &Error{Kind: KindAuth, Server: x.server.Name, Op: "login", Err: err}
	}
	x.loggedIn = true
	return nil
}

// call issues one authenticated API request. A stale session is renewed
// exactly once; a second rejection is reported as an auth failure rather
// than looping.
func (x *XUI) call(ctx context.Context, op, method, path string, payload any) (*apiResponse, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.loggedIn {
		if err := x.login(ctx); err != nil {
			return nil, err
		}
	}

	out, expired, err := x.doOnce(ctx, op, method, path, payload)
	if expired {
		x.loggedIn = false
		if err := x.login(ctx); err != nil {
			return nil, err
		}
		out, expired, err = x.doOnce(ctx, op, method, path, payload)
		if expired {
			x.loggedIn = false
			return nil, &Error{Kind: KindAuth, Server: x.server.Name, Op: op, Reason: "session rejected after re-login"}
		}
	}
	return out, err
}

// doOnce performs the request and reports (response, sessionExpired, err).
func (x *XUI) doOnce(ctx context.Context, op, method, path string, payload any) (*apiResponse, bool, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, false, fmt.Errorf("encode %s payload: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, x.server.BaseURL+path, body)
	if err != nil {
		return nil, false, fmt.Errorf("build %s request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := x.httpc.Do(req)
	if err != nil {
		return nil, false, &Error{Kind: KindUnreachable, Server: x.server.Name, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		return nil, true, nil
	}
	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, false, &Error{Kind: KindUnreachable, Server: x.server.Name, Op: op, Reason: resp.Status}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, false, &Error{Kind: KindUnreachable, Server: x.server.Name, Op: op, Err: err}
	}

	// an expired session is answered with the HTML login page, not JSON
	if ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); ct != "" && !strings.Contains(ct, "json") {
		return nil, true, nil
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, &Error{Kind: KindUnreachable, Server: x.server.Name, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, false, nil
}

func (x *XUI) reject(op, msg string) error {
	return &Error{Kind: KindRejected, Server: x.server.Name, Op: op, Reason: msg}
}

// inbound is the panel's inbound object. Settings and StreamSettings
// arrive as JSON encoded inside JSON strings.
type inbound struct {
	ID             int    `json:"id"`
	Port           int    `json:"port"`
	Listen         string `json:"listen"`
	Protocol       string `json:"protocol"`
	Remark         string `json:"remark"`
	Enable         bool   `json:"enable"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
}

func (in *inbound) clients() ([]xuiClient, error) {
	if in.Settings == "" {
		return nil, nil
	}
	var s struct {
		Clients []xuiClient `json:"clients"`
	}
	if err := json.Unmarshal([]byte(in.Settings), &s); err != nil {
		return nil, fmt.Errorf("decode inbound %d settings: %w", in.ID, err)
	}
	return s.Clients, nil
}

type xuiClient struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	TgID       string `json:"tgId"`
	SubID      string `json:"subId"`
	Flow       string `json:"flow"`
}

func toClient(c xuiClient) *Client {
	return &Client{
		UUID:       c.ID,
		Email:      c.Email,
		ExpiryMS:   c.ExpiryTime,
		Enabled:    c.Enable,
		IPLimit:    c.LimitIP,
		TotalBytes: c.TotalGB,
		Flow:       c.Flow,
	}
}

func (x *XUI) listInbounds(ctx context.Context) ([]inbound, error) {
	out, err := x.call(ctx, "list inbounds", http.MethodGet, "/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, x.reject("list inbounds", out.Msg)
	}
	var list []inbound
	if err := json.Unmarshal(out.Obj, &list); err != nil {
		return nil, fmt.Errorf("decode inbound list: %w", err)
	}
	return list, nil
}

func (x *XUI) getInbound(ctx context.Context) (*inbound, error) {
	out, err := x.call(ctx, "get inbound", http.MethodGet, fmt.Sprintf("/panel/api/inbounds/get/%d", x.server.InboundID), nil)
	if err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, x.reject("get inbound", out.Msg)
	}
	var in inbound
	if err := json.Unmarshal(out.Obj, &in); err != nil {
		return nil, fmt.Errorf("decode inbound: %w", err)
	}
	return &in, nil
}

func (x *XUI) AddClient(ctx context.Context, spec ClientSpec) error {
	var expiry int64
	if spec.ExpireAt != nil {
		expiry = spec.ExpireAt.UnixMilli()
	}
	c := xuiClient{
		ID:         spec.UUID,
		Email:      spec.Email,
		LimitIP:    spec.IPLimit,
		TotalGB:    spec.TrafficLimitBytes,
		ExpiryTime: expiry,
		Enable:     true,
		TgID:       spec.Phone,
		SubID:      platform.NewName(""),
		Flow:       defaultFlow,
	}
	settings, err := json.Marshal(map[string]any{"clients": []xuiClient{c}})
	if err != nil {
		return fmt.Errorf("encode client settings: %w", err)
	}
	payload := map[string]any{
		"id":       x.server.InboundID,
		"settings": string(settings),
	}

	out, err := x.call(ctx, "add client", http.MethodPost, "/panel/api/inbounds/addClient", payload)
	if err != nil {
		return err
	}
	if !out.Success {
		if strings.Contains(strings.ToLower(out.Msg), "duplicate email") {
			return fmt.Errorf("%s: %w", spec.Email, ErrAlreadyExists)
		}
		return x.reject("add client", out.Msg)
	}
	return nil
}

func (x *XUI) FindClientByUUID(ctx context.Context, uuid string) (*Client, error) {
	c, _, err := x.findClient(ctx, func(c xuiClient) bool { return c.ID == uuid })
	return c, err
}

func (x *XUI) FindClientByEmail(ctx context.Context, email string) (*Client, error) {
	c, _, err := x.findClient(ctx, func(c xuiClient) bool { return c.Email == email })
	return c, err
}

// findClient scans every inbound, not just the configured one: keys
// created by hand or by older tooling may live elsewhere on the panel.
func (x *XUI) findClient(ctx context.Context, match func(xuiClient) bool) (*Client, *inbound, error) {
	inbounds, err := x.listInbounds(ctx)
	if err != nil {
		return nil, nil, err
	}
	for i := range inbounds {
		clients, err := inbounds[i].clients()
		if err != nil {
			return nil, nil, err
		}
		for _, c := range clients {
			if match(c) {
				return toClient(c), &inbounds[i], nil
			}
		}
	}
	return nil, nil, ErrNotFound
}

func (x *XUI) DeleteClient(ctx context.Context, uuid string) error {
	inbounds, err := x.listInbounds(ctx)
	if err != nil {
		return err
	}
	found := false
	for i := range inbounds {
		clients, err := inbounds[i].clients()
		if err != nil {
			return err
		}
		for _, c := range clients {
			if c.ID != uuid {
				continue
			}
			found = true
			path := fmt.Sprintf("/panel/api/inbounds/%d/delClient/%s", inbounds[i].ID, uuid)
			out, err := x.call(ctx, "delete client", http.MethodPost, path, nil)
			if err != nil {
				return err
			}
			if !out.Success {
				return x.reject("delete client", out.Msg)
			}
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (x *XUI) ListClients(ctx context.Context) ([]Client, error) {
	in, err := x.getInbound(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := in.clients()
	if err != nil {
		return nil, err
	}
	out := make([]Client, 0, len(raw))
	for _, c := range raw {
		out = append(out, *toClient(c))
	}
	return out, nil
}

func (x *XUI) ClientLink(ctx context.Context, email, override string) (string, error) {
	in, err := x.getInbound(ctx)
	if err != nil {
		return "", err
	}
	clients, err := in.clients()
	if err != nil {
		return "", err
	}
	for _, c := range clients {
		if c.Email != email {
			continue
		}
		host := ResolveHost(override, in.Listen, x.server.FallbackHost)
		if host == "" {
			return "", &Error{Kind: KindConfig, Server: x.server.Name, Op: "client link", Reason: "no resolvable connect host"}
		}
		link, err := buildVlessLink(c, in, host)
		if err != nil {
			return "", &Error{Kind: KindConfig, Server: x.server.Name, Op: "client link", Err: err}
		}
		return link, nil
	}
	return "", ErrNotFound
}

func (x *XUI) ClientTraffic(ctx context.Context, email string) (*Traffic, error) {
	out, err := x.call(ctx, "client traffic", http.MethodGet, "/panel/api/inbounds/getClientTraffics/"+url.PathEscape(email), nil)
	if err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, x.reject("client traffic", out.Msg)
	}
	if len(out.Obj) == 0 || string(out.Obj) == "null" {
		return nil, ErrNotFound
	}
	var t struct {
		Email string `json:"email"`
		Up    int64  `json:"up"`
		Down  int64  `json:"down"`
	}
	if err := json.Unmarshal(out.Obj, &t); err != nil {
		return nil, fmt.Errorf("decode traffic: %w", err)
	}
	return &Traffic{Email: t.Email, UpBytes: t.Up, DownBytes: t.Down}, nil
}

func (x *XUI) ExtendClient(ctx context.Context, email string, days int) (int64, int64, error) {
	_, in, c, err := x.lookup(ctx, email)
	if err != nil {
		return 0, 0, err
	}

	oldMS := c.ExpiryTime
	base := time.Now().UnixMilli()
	if oldMS > base {
		base = oldMS
	}
	newMS := base + int64(days)*msPerDay

	c.ExpiryTime = newMS
	if err := x.updateClient(ctx, in.ID, *c); err != nil {
		return 0, 0, err
	}
	return oldMS, newMS, nil
}

func (x *XUI) SetClientEnabled(ctx context.Context, email string, enabled bool) error {
	_, in, c, err := x.lookup(ctx, email)
	if err != nil {
		return err
	}
	if c.Enable == enabled {
		return nil
	}
	c.Enable = enabled
	return x.updateClient(ctx, in.ID, *c)
}

// lookup finds the raw panel client by email along with its inbound, for
// read-modify-write operations.
func (x *XUI) lookup(ctx context.Context, email string) (*Client, *inbound, *xuiClient, error) {
	inbounds, err := x.listInbounds(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	for i := range inbounds {
		clients, err := inbounds[i].clients()
		if err != nil {
			return nil, nil, nil, err
		}
		for j := range clients {
			if clients[j].Email == email {
				return toClient(clients[j]), &inbounds[i], &clients[j], nil
			}
		}
	}
	return nil, nil, nil, ErrNotFound
}

func (x *XUI) updateClient(ctx context.Context, inboundID int, c xuiClient) error {
	settings, err := json.Marshal(map[string]any{"clients": []xuiClient{c}})
	if err != nil {
		return fmt.Errorf("encode client settings: %w", err)
	}
	payload := map[string]any{
		"id":       inboundID,
		"settings": string(settings),
	}
	out, err := x.call(ctx, "update client", http.MethodPost, "/panel/api/inbounds/updateClient/"+c.ID, payload)
	if err != nil {
		return err
	}
	if !out.Success {
		return x.reject("update client", out.Msg)
	}
	return nil
}

func (x *XUI) RestartProcess(ctx context.Context) error {
	out, err := x.call(ctx, "restart panel", http.MethodPost, "/panel/api/restartPanel", nil)
	if err != nil {
		return err
	}
	if !out.Success {
		return x.reject("restart panel", out.Msg)
	}
	return nil
}
