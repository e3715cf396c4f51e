package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/siemgate/internal/apierr"
	"github.com/wisbric/siemgate/internal/store"
)

// AlertsHandler serves the cursor-paginated alert listing endpoint, reading
// directly from the columnar store's alerts table (spec §3 Alert).
type AlertsHandler struct {
	client store.Client
	table  string
	logger *slog.Logger
}

func NewAlertsHandler(client store.Client, table string, logger *slog.Logger) *AlertsHandler {
	return &AlertsHandler{client: client, table: table, logger: logger}
}

type alertListItem struct {
	AlertID     string `json:"alert_id"`
	TenantID    string `json:"tenant_id"`
	RuleID      string `json:"rule_id"`
	RuleName    string `json:"rule_name"`
	Severity    string `json:"severity"`
	CreatedAt   uint32 `json:"created_at"`
	WindowStart uint32 `json:"window_start"`
	WindowEnd   uint32 `json:"window_end"`
	Count       uint64 `json:"count"`
}

func (a alertListItem) cursor() Cursor {
	return Cursor{CreatedAt: time.Unix(int64(a.CreatedAt), 0).UTC()}
}

// HandleList returns a tenant's alerts ordered by created_at descending,
// keyset-paginated via the standard after/limit cursor parameters.
func (h *AlertsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	identity := FromContext(r.Context())

	params, err := ParseCursorParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, string(apierr.CodeValidation), err.Error())
		return
	}

	sql := `
		SELECT alert_id, tenant_id, rule_id, rule_name, severity, created_at, window_start, window_end, count
		FROM ` + h.table + `
		WHERE tenant_id = {tenant_id:String}
	`
	params2 := []store.Param{{Name: "tenant_id", Value: identity.TenantID}}
	if params.After != nil {
		sql += ` AND created_at < {after_created_at:UInt32}`
		params2 = append(params2, store.Param{Name: "after_created_at", Value: uint32(params.After.CreatedAt.Unix())})
	}
	sql += ` ORDER BY created_at DESC LIMIT {fetch_limit:UInt64}`
	params2 = append(params2, store.Param{Name: "fetch_limit", Value: uint64(params.Limit + 1)})

	qr, err := h.client.Query(r.Context(), sql, params2, store.Settings{"readonly": 1})
	if err != nil {
		respondAPIErr(w, h.logger, apierr.Wrap(apierr.CodeDatabaseError, "listing alerts", err))
		return
	}

	items := make([]alertListItem, 0, len(qr.Rows))
	for _, row := range qr.Rows {
		items = append(items, alertListItem{
			AlertID:     stringField(row, "alert_id"),
			TenantID:    stringField(row, "tenant_id"),
			RuleID:      stringField(row, "rule_id"),
			RuleName:    stringField(row, "rule_name"),
			Severity:    stringField(row, "severity"),
			CreatedAt:   uint32Field(row, "created_at"),
			WindowStart: uint32Field(row, "window_start"),
			WindowEnd:   uint32Field(row, "window_end"),
			Count:       uint64Field(row, "count"),
		})
	}

	page := NewCursorPage(items, params.Limit, alertListItem.cursor)
	Respond(w, http.StatusOK, page)
}

func stringField(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}

func uint32Field(row map[string]any, key string) uint32 {
	switch n := row[key].(type) {
	case float64:
		return uint32(n)
	default:
		return 0
	}
}

func uint64Field(row map[string]any, key string) uint64 {
	switch n := row[key].(type) {
	case float64:
		return uint64(n)
	default:
		return 0
	}
}
