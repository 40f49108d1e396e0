package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/secrets"
)

const xadsBaseURL = "https://ads-api.x.com/12"

// XAds reads the X Ads API. Lists page with an opaque next_cursor; stats
// come back as per-entity metric arrays indexed by day, which are unrolled
// into one row per entity per day before they leave the adapter.
type XAds struct {
	restAdapter
}

func NewXAds(cfg *config.Config, creds *secrets.APICredentials, m *metrics.Store, logger *zap.Logger) *XAds {
	a := &XAds{restAdapter{
		platform: "xads",
		cfg:      cfg,
		catalog:  xadsCatalog,
		logger:   logger.Named("xads-adapter"),
	}}
	a.client = NewClient(a.platform, xadsBaseURL, cfg, creds, m, logger).
		WithAuthHeaders(func(c *secrets.APICredentials) map[string]string {
			return map[string]string{"Authorization": "Bearer " + c.AccessToken}
		}).
		WithClassifier(classifyXAdsError)
	return a
}

func (a *XAds) Fetch(ctx context.Context, spec engine.FetchSpec) ([]*engine.Record, error) {
	es, err := a.catalog.Get(spec.Entity)
	if err != nil {
		return nil, err
	}
	if es.Dimensioned {
		return a.fetchChunked(ctx, spec, a.fetchStatsChunk)
	}
	return a.fetchChunked(ctx, spec, a.fetchListChunk)
}

type xadsPage struct {
	Data       []map[string]interface{} `json:"data"`
	NextCursor string                   `json:"next_cursor"`
}

func (a *XAds) fetchListChunk(ctx context.Context, spec engine.FetchSpec, es EntitySpec, fields []string) ([]map[string]interface{}, error) {
	query := map[string]string{"count": "1000"}
	var rows []map[string]interface{}
	cursor := ""
	for {
		if cursor != "" {
			query["cursor"] = cursor
		}
		var page xadsPage
		err := a.client.Do(ctx, Request{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("/accounts/%s/%s", spec.AccountID, es.Path),
			Query:  query,
		}, &page)
		if err != nil {
			return nil, err
		}
		rows = append(rows, page.Data...)
		if page.NextCursor == "" {
			return rows, nil
		}
		cursor = page.NextCursor
	}
}

type xadsStatsResponse struct {
	Data []struct {
		ID     string `json:"id"`
		IDData []struct {
			Metrics map[string][]interface{} `json:"metrics"`
		} `json:"id_data"`
	} `json:"data"`
}

// fetchStatsChunk requests daily-granularity stats for one metric chunk and
// unrolls the per-day metric arrays into flat rows.
func (a *XAds) fetchStatsChunk(ctx context.Context, spec engine.FetchSpec, es EntitySpec, fields []string) ([]map[string]interface{}, error) {
	metricFields := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "id" && f != "date" {
			metricFields = append(metricFields, f)
		}
	}

	var resp xadsStatsResponse
	err := a.client.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/stats/accounts/%s", spec.AccountID),
		Query: map[string]string{
			"entity":        "PROMOTED_TWEET",
			"granularity":   "DAY",
			"metric_groups": strings.Join(metricFields, ","),
			"start_time":    spec.Window.Start.Format("2006-01-02"),
			"end_time":      spec.Window.End.AddDate(0, 0, 1).Format("2006-01-02"), // exclusive end
			"placement":     "ALL_ON_TWITTER",
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	days := spec.Window.Days()
	var rows []map[string]interface{}
	for _, entity := range resp.Data {
		if len(entity.IDData) == 0 {
			continue
		}
		metricSeries := entity.IDData[0].Metrics
		for day := 0; day < days; day++ {
			row := map[string]interface{}{
				"id":   entity.ID,
				"date": spec.Window.Start.AddDate(0, 0, day).Format("2006-01-02"),
			}
			for name, series := range metricSeries {
				if day < len(series) {
					row[name] = series[day]
				}
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func classifyXAdsError(statusCode int, body []byte) error {
	var envelope struct {
		Errors []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &envelope) != nil || len(envelope.Errors) == 0 {
		return nil
	}
	first := envelope.Errors[0]
	return &engine.APIError{
		Platform:   "xads",
		StatusCode: statusCode,
		Code:       first.Code,
		Message:    first.Message,
		Transient:  first.Code == "SERVICE_UNAVAILABLE" || first.Code == "OVER_CAPACITY",
	}
}

var xadsCatalog = Catalog{
	"campaign": {
		Name: "campaign",
		Path: "campaigns",
		Key:  engine.UniqueKey{"id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "id", Type: engine.FieldString},
			{Name: "name", Type: engine.FieldString},
			{Name: "entity_status", Type: engine.FieldString},
			{Name: "funding_instrument_id", Type: engine.FieldString},
			{Name: "daily_budget_amount_local_micro", Type: engine.FieldInt64},
			{Name: "total_budget_amount_local_micro", Type: engine.FieldInt64},
			{Name: "created_at", Type: engine.FieldDatetime},
			{Name: "updated_at", Type: engine.FieldDatetime},
		}},
	},
	"line_item": {
		Name: "line_item",
		Path: "line_items",
		Key:  engine.UniqueKey{"id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "id", Type: engine.FieldString},
			{Name: "campaign_id", Type: engine.FieldString},
			{Name: "name", Type: engine.FieldString},
			{Name: "entity_status", Type: engine.FieldString},
			{Name: "objective", Type: engine.FieldString},
			{Name: "bid_amount_local_micro", Type: engine.FieldInt64},
			{Name: "placements", Type: engine.FieldString},
			{Name: "created_at", Type: engine.FieldDatetime},
		}},
	},
	"stats": {
		Name:         "stats",
		Path:         "stats",
		Dimensioned:  true,
		Key:          engine.UniqueKey{"id", "date"},
		GroupingKeys: []string{"id", "date"},
		MaxFields:    12, // stats endpoint caps metric groups per call
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "id", Type: engine.FieldString},
			{Name: "date", Type: engine.FieldDate, PartitionHint: true},
			{Name: "impressions", Type: engine.FieldInt64},
			{Name: "clicks", Type: engine.FieldInt64},
			{Name: "engagements", Type: engine.FieldInt64},
			{Name: "billed_charge_local_micro", Type: engine.FieldInt64},
			{Name: "retweets", Type: engine.FieldInt64},
			{Name: "replies", Type: engine.FieldInt64},
			{Name: "likes", Type: engine.FieldInt64},
			{Name: "follows", Type: engine.FieldInt64},
			{Name: "video_total_views", Type: engine.FieldInt64},
			{Name: "video_views_100", Type: engine.FieldInt64},
		}},
	},
}
