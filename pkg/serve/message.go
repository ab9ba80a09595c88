// Package serve implements the persistent bidirectional transport: a
// websocket endpoint and an NDJSON stdio mode, a per-connection message
// router, and the outbound events the chunk streamer emits through them.
package serve

import (
	"github.com/bytedance/sonic"
)

// Inbound is the decoded client message envelope. The discriminator is the
// "type" field; the legacy spelling "msg_type" is still accepted. Fields
// beyond the discriminator are populated per message kind and empty
// otherwise.
type Inbound struct {
	Type       string `json:"type,omitempty"`
	LegacyType string `json:"msg_type,omitempty"`

	// Correlation echo.
	CorrelationID string `json:"correlationId,omitempty"`

	// execute
	SectionRef string         `json:"sectionRef,omitempty"`
	FolderRef  string         `json:"folderRef,omitempty"`
	Session    map[string]any `json:"session,omitempty"`

	// form_submit / input_response. On execute, blockName doubles as a
	// legacy alias of sectionRef.
	BlockName      string         `json:"blockName,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	OnSubmitAction string         `json:"onSubmitAction,omitempty"`
	ModelRef       string         `json:"modelRef,omitempty"`
	Name           string         `json:"name,omitempty"`
	Value          any            `json:"value,omitempty"`

	// command dispatch
	CommandID     string         `json:"commandId,omitempty"`
	Action        string         `json:"action,omitempty"`
	HorizontalRef string         `json:"horizontalRef,omitempty"`
	Args          map[string]any `json:"args,omitempty"`
	ReadOnly      bool           `json:"readOnly,omitempty"`
	NoCache       bool           `json:"noCache,omitempty"`
	CacheTTL      int            `json:"cacheTtl,omitempty"`

	// cache control / model discovery
	TTLSeconds int    `json:"ttlSeconds,omitempty"`
	Model      string `json:"model,omitempty"`
}

// Kind returns the effective discriminator, honoring the legacy spelling.
func (m *Inbound) Kind() string {
	if m.Type != "" {
		return m.Type
	}
	return m.LegacyType
}

// Control message kinds the router understands. Anything else with a
// commandId is dispatched as a command; anything else without one is
// rebroadcast verbatim.
const (
	KindExecute       = "execute"
	KindFormSubmit    = "form_submit"
	KindInputResponse = "input_response"
	KindPageUnload    = "page_unload"
	KindGetSchema     = "get_schema"
	KindListSections  = "list_sections"
	KindListModels    = "list_models"
	KindDescribeModel = "describe_model"
	KindClearCache    = "clear_cache"
	KindCacheStats    = "cache_stats"
	KindSetCacheTTL   = "set_cache_ttl"
)

// Outbound is a server-originated message. Every response to a decodable
// inbound message echoes its correlationId.
type Outbound map[string]any

func event(kind, correlationID string) Outbound {
	ev := Outbound{"type": kind}
	if correlationID != "" {
		ev["correlationId"] = correlationID
	}
	return ev
}

func decodeInbound(raw []byte) (*Inbound, error) {
	var m Inbound
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
