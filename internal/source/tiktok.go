package source

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/secrets"
)

const (
	tiktokBaseURL  = "https://business-api.tiktok.com/open_api/v1.3"
	tiktokPageSize = 200
)

// TikTok business API codes treated as transient: 40100 rate limit,
// 50000/50002 internal errors.
var tiktokTransientCodes = map[int]bool{40100: true, 50000: true, 50002: true}

// TikTok reads the Business API. Every response is a code/message/data
// envelope even on HTTP 200, so errors are classified from the body, not
// the status line. Access tokens are long lived, no refresh flow.
type TikTok struct {
	restAdapter
}

func NewTikTok(cfg *config.Config, creds *secrets.APICredentials, m *metrics.Store, logger *zap.Logger) *TikTok {
	a := &TikTok{restAdapter{
		platform: "tiktok",
		cfg:      cfg,
		catalog:  tiktokCatalog,
		logger:   logger.Named("tiktok-adapter"),
	}}
	a.client = NewClient(a.platform, tiktokBaseURL, cfg, creds, m, logger).
		WithAuthHeaders(func(c *secrets.APICredentials) map[string]string {
			return map[string]string{"Access-Token": c.AccessToken}
		}).
		WithEnvelopeCheck(classifyTikTokEnvelope)
	return a
}

// classifyTikTokEnvelope surfaces errors hidden behind HTTP 200. Running as
// the client's envelope check puts transient codes through the client's
// bounded backoff instead of failing the fetch outright.
func classifyTikTokEnvelope(statusCode int, body []byte) error {
	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Code == 0 {
		return nil
	}
	return &engine.APIError{
		Platform:   "tiktok",
		StatusCode: statusCode,
		Code:       strconv.Itoa(envelope.Code),
		Message:    envelope.Message,
		Transient:  tiktokTransientCodes[envelope.Code],
	}
}

func (a *TikTok) Fetch(ctx context.Context, spec engine.FetchSpec) ([]*engine.Record, error) {
	return a.fetchChunked(ctx, spec, a.fetchChunk)
}

type tiktokEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		List     []map[string]interface{} `json:"list"`
		PageInfo struct {
			Page       int `json:"page"`
			TotalPage  int `json:"total_page"`
			TotalCount int `json:"total_number"`
		} `json:"page_info"`
	} `json:"data"`
}

func (a *TikTok) fetchChunk(ctx context.Context, spec engine.FetchSpec, es EntitySpec, fields []string) ([]map[string]interface{}, error) {
	query := map[string]string{
		"advertiser_id": spec.AccountID,
		"fields":        engine.FlattenValue(fields), // JSON array, the API's list syntax
		"page_size":     strconv.Itoa(tiktokPageSize),
	}
	if es.Dimensioned {
		query["report_type"] = "BASIC"
		query["data_level"] = "AUCTION_AD"
		query["dimensions"] = engine.FlattenValue(es.groupKey())
		query["start_date"] = spec.Window.Start.Format("2006-01-02")
		query["end_date"] = spec.Window.End.Format("2006-01-02")
	}

	var rows []map[string]interface{}
	for page := 1; ; page++ {
		query["page"] = strconv.Itoa(page)
		var envelope tiktokEnvelope
		err := a.client.Do(ctx, Request{
			Method: http.MethodGet,
			Path:   "/" + es.Path,
			Query:  query,
		}, &envelope)
		if err != nil {
			return nil, err
		}
		// Nonzero envelope codes were already classified (and transient ones
		// retried) by the client's envelope check.
		for _, item := range envelope.Data.List {
			rows = append(rows, flattenTikTokRow(item))
		}
		if page >= envelope.Data.PageInfo.TotalPage || len(envelope.Data.List) == 0 {
			return rows, nil
		}
	}
}

// flattenTikTokRow merges the report API's dimensions/metrics sub-objects
// into one flat map; entity listings come through unchanged.
func flattenTikTokRow(item map[string]interface{}) map[string]interface{} {
	dims, hasDims := item["dimensions"].(map[string]interface{})
	mets, hasMets := item["metrics"].(map[string]interface{})
	if !hasDims && !hasMets {
		return item
	}
	flat := make(map[string]interface{}, len(dims)+len(mets))
	for k, v := range dims {
		flat[k] = v
	}
	for k, v := range mets {
		flat[k] = v
	}
	return flat
}

var tiktokCatalog = Catalog{
	"campaign": {
		Name: "campaign",
		Path: "campaign/get/",
		Key:  engine.UniqueKey{"campaign_id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "campaign_id", Type: engine.FieldInt64},
			{Name: "campaign_name", Type: engine.FieldString},
			{Name: "advertiser_id", Type: engine.FieldInt64},
			{Name: "operation_status", Type: engine.FieldString},
			{Name: "objective_type", Type: engine.FieldString},
			{Name: "budget", Type: engine.FieldFloat},
			{Name: "budget_mode", Type: engine.FieldString},
			{Name: "create_time", Type: engine.FieldDatetime},
			{Name: "modify_time", Type: engine.FieldDatetime},
		}},
	},
	"adgroup": {
		Name: "adgroup",
		Path: "adgroup/get/",
		Key:  engine.UniqueKey{"adgroup_id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "adgroup_id", Type: engine.FieldInt64},
			{Name: "campaign_id", Type: engine.FieldInt64},
			{Name: "adgroup_name", Type: engine.FieldString},
			{Name: "operation_status", Type: engine.FieldString},
			{Name: "optimization_goal", Type: engine.FieldString},
			{Name: "bid_price", Type: engine.FieldFloat},
			{Name: "budget", Type: engine.FieldFloat},
			{Name: "schedule_start_time", Type: engine.FieldDatetime},
			{Name: "schedule_end_time", Type: engine.FieldDatetime},
		}},
	},
	// The report endpoint limits how many metrics one call may request, so
	// wide metric lists are chunked and re-joined per ad per day.
	"ad_report": {
		Name:         "ad_report",
		Path:         "report/integrated/get/",
		Dimensioned:  true,
		Key:          engine.UniqueKey{"ad_id", "stat_time_day"},
		GroupingKeys: []string{"ad_id", "stat_time_day"},
		MaxFields:    50,
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "ad_id", Type: engine.FieldInt64},
			{Name: "adgroup_id", Type: engine.FieldInt64},
			{Name: "campaign_id", Type: engine.FieldInt64},
			{Name: "stat_time_day", Type: engine.FieldDate, PartitionHint: true},
			{Name: "impressions", Type: engine.FieldInt64},
			{Name: "clicks", Type: engine.FieldInt64},
			{Name: "spend", Type: engine.FieldFloat},
			{Name: "reach", Type: engine.FieldInt64},
			{Name: "cpc", Type: engine.FieldFloat},
			{Name: "cpm", Type: engine.FieldFloat},
			{Name: "ctr", Type: engine.FieldFloat},
			{Name: "conversion", Type: engine.FieldInt64},
			{Name: "cost_per_conversion", Type: engine.FieldFloat},
			{Name: "video_play_actions", Type: engine.FieldInt64},
			{Name: "video_watched_2s", Type: engine.FieldInt64},
			{Name: "video_watched_6s", Type: engine.FieldInt64},
			{Name: "likes", Type: engine.FieldInt64},
			{Name: "comments", Type: engine.FieldInt64},
			{Name: "shares", Type: engine.FieldInt64},
		}},
	},
}
