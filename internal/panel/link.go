package panel

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// streamSettings is the inbound's transport config, decoded from the
// JSON-in-a-string the panel stores it as. Only the fields that end up
// in connection links are mapped.
type streamSettings struct {
	Network  string `json:"network"`
	Security string `json:"security"`
	TLS      struct {
		ServerName string `json:"serverName"`
	} `json:"tlsSettings"`
	Reality struct {
		ServerNames []string `json:"serverNames"`
		ShortIDs    []string `json:"shortIds"`
		Settings    struct {
			PublicKey   string `json:"publicKey"`
			Fingerprint string `json:"fingerprint"`
			SpiderX     string `json:"spiderX"`
		} `json:"settings"`
	} `json:"realitySettings"`
	WS struct {
		Path    string            `json:"path"`
		Headers map[string]string `json:"headers"`
	} `json:"wsSettings"`
}

func buildVlessLink(c xuiClient, in *inbound, host string) (string, error) {
	var ss streamSettings
	if in.StreamSettings != "" {
		if err := json.Unmarshal([]byte(in.StreamSettings), &ss); err != nil {
			return "", fmt.Errorf("decode inbound %d stream settings: %w", in.ID, err)
		}
	}

	params := url.Values{}
	params.Set("type", orDefault(ss.Network, "tcp"))
	security := orDefault(ss.Security, "none")
	params.Set("security", security)
	params.Set("encryption", "none")

	switch security {
	case "tls":
		if ss.TLS.ServerName != "" {
			params.Set("sni", ss.TLS.ServerName)
		}
	case "reality":
		params.Set("pbk", ss.Reality.Settings.PublicKey)
		params.Set("fp", orDefault(ss.Reality.Settings.Fingerprint, "chrome"))
		params.Set("spx", orDefault(ss.Reality.Settings.SpiderX, "/"))
		if len(ss.Reality.ServerNames) > 0 {
			params.Set("sni", ss.Reality.ServerNames[0])
		}
		if len(ss.Reality.ShortIDs) > 0 {
			params.Set("sid", ss.Reality.ShortIDs[0])
		}
		if c.Flow != "" {
			params.Set("flow", c.Flow)
		}
	}
	if ss.Network == "ws" {
		if ss.WS.Path != "" {
			params.Set("path", ss.WS.Path)
		}
		if h := ss.WS.Headers["Host"]; h != "" {
			params.Set("host", h)
		}
	}

	fragment := c.Email
	if in.Remark != "" {
		fragment = in.Remark + "-" + c.Email
	}

	u := url.URL{
		Scheme:   "vless",
		User:     url.User(c.ID),
		Host:     net.JoinHostPort(host, strconv.Itoa(in.Port)),
		RawQuery: params.Encode(),
		Fragment: fragment,
	}
	return u.String(), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ResolveHost picks the first usable connect host from the candidates,
// skipping empty strings and wildcard bind addresses.
func ResolveHost(candidates ...string) string {
	for _, h := range candidates {
		if h == "" || h == "0.0.0.0" || h == "::" {
			continue
		}
		return h
	}
	return ""
}

// ReplaceHost swaps only the host:port of a connection URI, leaving the
// scheme, user info, query and fragment byte-identical. Links carry
// percent-encoded params and ordering that clients are picky about, so
// this is deliberately string surgery rather than a parse and re-encode.
func ReplaceHost(link, host string, port int) string {
	rest := link
	prefix := ""
	if i := strings.Index(link, "://"); i >= 0 {
		prefix = link[:i+3]
		rest = link[i+3:]
	}

	// authority ends at the first path, query or fragment delimiter
	end := len(rest)
	for i, r := range rest {
		if r == '/' || r == '?' || r == '#' {
			end = i
			break
		}
	}
	authority := rest[:end]

	userinfo := ""
	if at := strings.LastIndex(authority, "@"); at >= 0 {
		userinfo = authority[:at+1]
	}

	return prefix + userinfo + net.JoinHostPort(host, strconv.Itoa(port)) + rest[end:]
}
