package model

// PanelServer is one configured panel endpoint. Loaded from the fleet
// config file at startup; immutable afterwards except IsActive, which an
// operator may toggle without a redeploy.
type PanelServer struct {
	Name          string `json:"name" yaml:"name" validate:"required,slug"`
	BaseURL       string `json:"base_url" yaml:"base_url" validate:"required,url"`
	Username      string `json:"-" yaml:"username" validate:"required"`
	Password      string `json:"-" yaml:"password" validate:"required"`
	InboundID     int    `json:"inbound_id" yaml:"inbound_id" validate:"required,gt=0"`
	IsActive      bool   `json:"is_active" yaml:"is_active"`
	IsLocal       bool   `json:"is_local" yaml:"is_local"`
	ConnectDomain string `json:"connect_domain,omitempty" yaml:"connect_domain"`
	FallbackHost  string `json:"fallback_host,omitempty" yaml:"fallback_host"`
}
