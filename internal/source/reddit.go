package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/secrets"
)

const (
	redditBaseURL  = "https://ads-api.reddit.com/api/v3"
	redditTokenURL = "https://www.reddit.com/api/v1/access_token"
)

// Reddit reads the Reddit Ads API. Lists page with an opaque next-page
// token; report rows come back already flat with a per-day date column.
type Reddit struct {
	restAdapter
}

func NewReddit(cfg *config.Config, creds *secrets.APICredentials, m *metrics.Store, logger *zap.Logger) *Reddit {
	a := &Reddit{restAdapter{
		platform: "reddit",
		cfg:      cfg,
		catalog:  redditCatalog,
		logger:   logger.Named("reddit-adapter"),
	}}
	a.client = NewClient(a.platform, redditBaseURL, cfg, creds, m, logger).
		WithAuthHeaders(func(c *secrets.APICredentials) map[string]string {
			return map[string]string{"Authorization": "Bearer " + c.AccessToken}
		}).
		WithRefresh(redditRefreshToken).
		WithClassifier(classifyRedditError)
	return a
}

func (a *Reddit) Fetch(ctx context.Context, spec engine.FetchSpec) ([]*engine.Record, error) {
	return a.fetchChunked(ctx, spec, a.fetchChunk)
}

type redditPage struct {
	Data       []map[string]interface{} `json:"data"`
	Pagination struct {
		NextPageToken string `json:"next_page_token"`
	} `json:"pagination"`
}

func (a *Reddit) fetchChunk(ctx context.Context, spec engine.FetchSpec, es EntitySpec, fields []string) ([]map[string]interface{}, error) {
	query := map[string]string{
		"fields":    strings.Join(fields, ","),
		"page.size": "500",
	}
	if es.Dimensioned {
		query["starts_at"] = spec.Window.Start.Format("2006-01-02") + "T00:00:00Z"
		query["ends_at"] = spec.Window.End.Format("2006-01-02") + "T00:00:00Z"
		query["time_zone_id"] = "GMT"
		query["group_by"] = strings.Join(es.groupKey(), ",")
	}

	var rows []map[string]interface{}
	token := ""
	for {
		if token != "" {
			query["page.token"] = token
		}
		var page redditPage
		err := a.client.Do(ctx, Request{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("/ad_accounts/%s/%s", spec.AccountID, es.Path),
			Query:  query,
		}, &page)
		if err != nil {
			return nil, err
		}
		rows = append(rows, page.Data...)
		if page.Pagination.NextPageToken == "" {
			return rows, nil
		}
		token = page.Pagination.NextPageToken
	}
}

// Reddit's token endpoint wants HTTP basic auth with the app credentials.
func redditRefreshToken(ctx context.Context, hc *resty.Client, creds *secrets.APICredentials) (string, error) {
	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	resp, err := hc.R().
		SetContext(ctx).
		SetBasicAuth(creds.ClientID, creds.ClientSecret).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": creds.RefreshToken,
		}).
		SetResult(&tokenResp).
		Post(redditTokenURL)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() || tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}
	return tokenResp.AccessToken, nil
}

func classifyRedditError(statusCode int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) != nil || envelope.Error.Message == "" {
		return nil
	}
	return &engine.APIError{
		Platform:   "reddit",
		StatusCode: statusCode,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
		Transient:  envelope.Error.Code == "SERVER_OVERLOADED",
	}
}

var redditCatalog = Catalog{
	"campaign": {
		Name: "campaign",
		Path: "campaigns",
		Key:  engine.UniqueKey{"id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "id", Type: engine.FieldString},
			{Name: "name", Type: engine.FieldString},
			{Name: "configured_status", Type: engine.FieldString},
			{Name: "effective_status", Type: engine.FieldString},
			{Name: "objective", Type: engine.FieldString},
			{Name: "funding_instrument_id", Type: engine.FieldString},
			{Name: "created_at", Type: engine.FieldDatetime},
			{Name: "modified_at", Type: engine.FieldDatetime},
		}},
	},
	"ad_group": {
		Name: "ad_group",
		Path: "ad_groups",
		Key:  engine.UniqueKey{"id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "id", Type: engine.FieldString},
			{Name: "campaign_id", Type: engine.FieldString},
			{Name: "name", Type: engine.FieldString},
			{Name: "configured_status", Type: engine.FieldString},
			{Name: "bid_value", Type: engine.FieldInt64}, // microcurrency
			{Name: "goal_type", Type: engine.FieldString},
			{Name: "start_time", Type: engine.FieldDatetime},
			{Name: "end_time", Type: engine.FieldDatetime},
		}},
	},
	"report": {
		Name:         "report",
		Path:         "reports",
		Dimensioned:  true,
		Key:          engine.UniqueKey{"ad_id", "date"},
		GroupingKeys: []string{"ad_id", "date"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "ad_id", Type: engine.FieldString},
			{Name: "campaign_id", Type: engine.FieldString},
			{Name: "ad_group_id", Type: engine.FieldString},
			{Name: "date", Type: engine.FieldDate, PartitionHint: true},
			{Name: "impressions", Type: engine.FieldInt64},
			{Name: "clicks", Type: engine.FieldInt64},
			{Name: "spend", Type: engine.FieldInt64}, // microcurrency
			{Name: "ecpm", Type: engine.FieldFloat},
			{Name: "cpc", Type: engine.FieldFloat},
			{Name: "ctr", Type: engine.FieldFloat},
			{Name: "video_started", Type: engine.FieldInt64},
			{Name: "video_watched_100_percent", Type: engine.FieldInt64},
			{Name: "conversion_signup_total_items", Type: engine.FieldInt64},
		}},
	},
}
