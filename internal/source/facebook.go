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

const facebookBaseURL = "https://graph.facebook.com/v19.0"

// Graph API error codes treated as transient regardless of HTTP status.
// 1/2 = unknown/service error, 4/17/32 = rate limits, 613 = custom rate limit.
var facebookTransientCodes = map[int]bool{1: true, 2: true, 4: true, 17: true, 32: true, 613: true}

// Facebook reads the Marketing API. Insights rows are one per object per
// day; entity listings (campaigns, adsets, ads) carry no date dimension.
// Long-lived access tokens only, no refresh flow.
type Facebook struct {
	restAdapter
}

func NewFacebook(cfg *config.Config, creds *secrets.APICredentials, m *metrics.Store, logger *zap.Logger) *Facebook {
	a := &Facebook{restAdapter{
		platform: "facebook",
		cfg:      cfg,
		catalog:  facebookCatalog,
		logger:   logger.Named("facebook-adapter"),
	}}
	a.client = NewClient(a.platform, facebookBaseURL, cfg, creds, m, logger).
		WithAuthHeaders(func(c *secrets.APICredentials) map[string]string {
			return map[string]string{"Authorization": "Bearer " + c.AccessToken}
		}).
		WithClassifier(classifyFacebookError)
	return a
}

func (a *Facebook) Fetch(ctx context.Context, spec engine.FetchSpec) ([]*engine.Record, error) {
	return a.fetchChunked(ctx, spec, a.fetchChunk)
}

type facebookPage struct {
	Data   []map[string]interface{} `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

// fetchChunk pages through one field chunk with the Graph API after-cursor.
func (a *Facebook) fetchChunk(ctx context.Context, spec engine.FetchSpec, es EntitySpec, fields []string) ([]map[string]interface{}, error) {
	query := map[string]string{
		"fields": strings.Join(fields, ","),
		"limit":  "500",
	}
	if es.Dimensioned {
		query["time_range"] = fmt.Sprintf(`{"since":"%s","until":"%s"}`,
			spec.Window.Start.Format("2006-01-02"), spec.Window.End.Format("2006-01-02"))
		query["time_increment"] = "1" // one row per day
		query["level"] = "ad"
	}

	var rows []map[string]interface{}
	after := ""
	for {
		if after != "" {
			query["after"] = after
		}
		var page facebookPage
		err := a.client.Do(ctx, Request{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("/act_%s/%s", spec.AccountID, es.Path),
			Query:  query,
		}, &page)
		if err != nil {
			return nil, err
		}
		rows = append(rows, page.Data...)
		if page.Paging.Next == "" || page.Paging.Cursors.After == "" {
			return rows, nil
		}
		after = page.Paging.Cursors.After
	}
}

func classifyFacebookError(statusCode int, body []byte) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) != nil || envelope.Error.Code == 0 {
		return nil
	}
	return &engine.APIError{
		Platform:   "facebook",
		StatusCode: statusCode,
		Code:       fmt.Sprintf("%d", envelope.Error.Code),
		Message:    envelope.Error.Message,
		Transient:  facebookTransientCodes[envelope.Error.Code],
	}
}

var facebookCatalog = Catalog{
	"campaign": {
		Name: "campaign",
		Path: "campaigns",
		Key:  engine.UniqueKey{"id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "id", Type: engine.FieldInt64, Description: "Campaign id"},
			{Name: "name", Type: engine.FieldString},
			{Name: "status", Type: engine.FieldString},
			{Name: "objective", Type: engine.FieldString},
			{Name: "daily_budget", Type: engine.FieldInt64},
			{Name: "lifetime_budget", Type: engine.FieldInt64},
			{Name: "start_time", Type: engine.FieldDatetime},
			{Name: "stop_time", Type: engine.FieldDatetime},
			{Name: "created_time", Type: engine.FieldDatetime},
			{Name: "updated_time", Type: engine.FieldDatetime},
		}},
	},
	"adset": {
		Name: "adset",
		Path: "adsets",
		Key:  engine.UniqueKey{"id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "id", Type: engine.FieldInt64},
			{Name: "campaign_id", Type: engine.FieldInt64},
			{Name: "name", Type: engine.FieldString},
			{Name: "status", Type: engine.FieldString},
			{Name: "optimization_goal", Type: engine.FieldString},
			{Name: "bid_strategy", Type: engine.FieldString},
			{Name: "daily_budget", Type: engine.FieldInt64},
			{Name: "targeting", Type: engine.FieldString}, // nested, flattened to JSON
			{Name: "created_time", Type: engine.FieldDatetime},
			{Name: "updated_time", Type: engine.FieldDatetime},
		}},
	},
	"ad": {
		Name: "ad",
		Path: "ads",
		Key:  engine.UniqueKey{"id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "id", Type: engine.FieldInt64},
			{Name: "adset_id", Type: engine.FieldInt64},
			{Name: "campaign_id", Type: engine.FieldInt64},
			{Name: "name", Type: engine.FieldString},
			{Name: "status", Type: engine.FieldString},
			{Name: "creative", Type: engine.FieldString},
			{Name: "created_time", Type: engine.FieldDatetime},
			{Name: "updated_time", Type: engine.FieldDatetime},
		}},
	},
	// Insights carry many metric columns; the Graph API caps the field list
	// per call, so wide requests are chunked and re-joined on ad id + day.
	"insights": {
		Name:         "insights",
		Path:         "insights",
		Dimensioned:  true,
		Key:          engine.UniqueKey{"ad_id", "date_start"},
		GroupingKeys: []string{"ad_id", "date_start"},
		MaxFields:    40,
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "ad_id", Type: engine.FieldInt64},
			{Name: "adset_id", Type: engine.FieldInt64},
			{Name: "campaign_id", Type: engine.FieldInt64},
			{Name: "account_id", Type: engine.FieldInt64},
			{Name: "date_start", Type: engine.FieldDate, PartitionHint: true},
			{Name: "date_stop", Type: engine.FieldDate},
			{Name: "impressions", Type: engine.FieldInt64},
			{Name: "clicks", Type: engine.FieldInt64},
			{Name: "spend", Type: engine.FieldFloat},
			{Name: "reach", Type: engine.FieldInt64},
			{Name: "frequency", Type: engine.FieldFloat},
			{Name: "cpc", Type: engine.FieldFloat},
			{Name: "cpm", Type: engine.FieldFloat},
			{Name: "ctr", Type: engine.FieldFloat},
			{Name: "unique_clicks", Type: engine.FieldInt64},
			{Name: "inline_link_clicks", Type: engine.FieldInt64},
			{Name: "actions", Type: engine.FieldString}, // nested action breakdown
			{Name: "video_p25_watched_actions", Type: engine.FieldString},
			{Name: "video_p100_watched_actions", Type: engine.FieldString},
			{Name: "conversions", Type: engine.FieldString},
		}},
	},
}
