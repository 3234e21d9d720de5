package api

type CreateTokenRequest struct {
	Name     string `json:"name,omitempty"`
	TTLHours int64  `json:"ttl_hours,omitempty"`
}

type TokenResponse struct {
	ID               int64   `json:"id"`
	Token            string  `json:"token"`
	Name             *string `json:"name"`
	CallbackPath     string  `json:"callback_path"`
	CreatedAt        string  `json:"created_at"`
	ExpiresAt        *string `json:"expires_at"`
	Active           bool    `json:"active"`
	InteractionCount int     `json:"interaction_count,omitempty"`
}

type ListTokensResponse struct {
	Tokens []TokenResponse `json:"tokens"`
}

type RenewTokenRequest struct {
	TTLHours int64 `json:"ttl_hours"`
}

type InteractionResponse struct {
	ID          int64             `json:"id"`
	OccurredAt  string            `json:"occurred_at"`
	OccurredAtN int64             `json:"occurred_at_ns"`
	RemoteIP    string            `json:"remote_ip"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Query       string            `json:"query,omitempty"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Protocol    string            `json:"protocol"`
	RawRequest  string            `json:"raw_request,omitempty"`
	IsPocHit    bool              `json:"is_poc_hit"`
	PocRuleName *string           `json:"poc_rule_name,omitempty"`
	IsDataExfil bool              `json:"is_data_exfil"`
	ExfilType   *string           `json:"exfil_type,omitempty"`
	ExfilData   *string           `json:"exfil_data,omitempty"`
}

type ListInteractionsResponse struct {
	Token        string                `json:"token"`
	Interactions []InteractionResponse `json:"interactions"`
}

type PollInteractionsResponse struct {
	Token        string                `json:"token"`
	Since        int64                 `json:"since"`
	Interactions []InteractionResponse `json:"interactions"`
}

type ClearInteractionsResponse struct {
	Deleted int64 `json:"deleted"`
}

type CreateRuleRequest struct {
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	StatusCode      int               `json:"status_code,omitempty"`
	ContentType     string            `json:"content_type,omitempty"`
	Body            string            `json:"body,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	RedirectURL     *string           `json:"redirect_url,omitempty"`
	DelayMS         int               `json:"delay_ms,omitempty"`
	EnableVariables bool              `json:"enable_variables,omitempty"`
	Template        string            `json:"template,omitempty"`
}

type UpdateRuleRequest struct {
	Description     *string           `json:"description,omitempty"`
	StatusCode      *int              `json:"status_code,omitempty"`
	ContentType     *string           `json:"content_type,omitempty"`
	Body            *string           `json:"body,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	RedirectURL     *string           `json:"redirect_url,omitempty"`
	ClearRedirect   bool              `json:"clear_redirect,omitempty"`
	DelayMS         *int              `json:"delay_ms,omitempty"`
	EnableVariables *bool             `json:"enable_variables,omitempty"`
	Active          *bool             `json:"active,omitempty"`
}

type RuleResponse struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	StatusCode      int               `json:"status_code"`
	ContentType     string            `json:"content_type"`
	Body            string            `json:"body,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	RedirectURL     *string           `json:"redirect_url,omitempty"`
	DelayMS         int               `json:"delay_ms"`
	EnableVariables bool              `json:"enable_variables"`
	Active          bool              `json:"active"`
	HitCount        int64             `json:"hit_count"`
	TriggerPath     string            `json:"trigger_path"`
}

type ListRulesResponse struct {
	Token string         `json:"token"`
	Rules []RuleResponse `json:"rules"`
}

type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
