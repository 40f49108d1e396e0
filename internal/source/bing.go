package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/secrets"
)

const (
	bingBaseURL  = "https://campaign.api.bingads.microsoft.com/v13"
	bingTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
)

// Bing reads the Bing Ads campaign management and reporting APIs. Entity
// listings go through bulk by-id endpoints with a request size ceiling, so
// oversized batches are halved until they fit. Access tokens are short
// lived; a 401 triggers one refresh-token exchange.
type Bing struct {
	restAdapter
	metrics *metrics.Store
}

func NewBing(cfg *config.Config, creds *secrets.APICredentials, m *metrics.Store, logger *zap.Logger) *Bing {
	a := &Bing{
		restAdapter: restAdapter{
			platform: "bing",
			cfg:      cfg,
			catalog:  bingCatalog,
			logger:   logger.Named("bing-adapter"),
		},
		metrics: m,
	}
	a.client = NewClient(a.platform, bingBaseURL, cfg, creds, m, logger).
		WithAuthHeaders(func(c *secrets.APICredentials) map[string]string {
			return map[string]string{
				"AuthenticationToken": c.AccessToken,
				"DeveloperToken":      c.DeveloperToken,
			}
		}).
		WithRefresh(bingRefreshToken).
		WithClassifier(classifyBingError)
	return a
}

func (a *Bing) Fetch(ctx context.Context, spec engine.FetchSpec) ([]*engine.Record, error) {
	es, err := a.catalog.Get(spec.Entity)
	if err != nil {
		return nil, err
	}
	if es.Dimensioned {
		return a.fetchChunked(ctx, spec, a.fetchReportChunk)
	}
	return a.fetchEntities(ctx, spec, es)
}

// fetchEntities lists ids first, then downloads the entities by id in
// batches. The by-ids endpoint rejects oversized requests, which is what
// drives the batch halving.
func (a *Bing) fetchEntities(ctx context.Context, spec engine.FetchSpec, es EntitySpec) ([]*engine.Record, error) {
	fields := es.FieldsOrDefault(spec.Fields)
	if err := checkKeyCoverage(es, fields); err != nil {
		return nil, err
	}

	var idResp struct {
		Ids []string `json:"Ids"`
	}
	err := a.client.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/customers/accounts/%s/%s/ids", spec.AccountID, es.Path),
	}, &idResp)
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", es.Name, err)
	}
	if len(idResp.Ids) == 0 {
		return nil, nil
	}

	return FetchInBatches(ctx, idResp.Ids, a.cfg.EntityBatchSize, func(ctx context.Context, ids []string) ([]*engine.Record, error) {
		var resp struct {
			Items []map[string]interface{} `json:"Items"`
		}
		err := a.client.Do(ctx, Request{
			Method: http.MethodPost,
			Path:   fmt.Sprintf("/customers/accounts/%s/%s/queryByIds", spec.AccountID, es.Path),
			Body:   map[string]interface{}{"Ids": ids, "ReturnFields": fields},
		}, &resp)
		if err != nil {
			var sizeErr *engine.PayloadTooLargeError
			if errors.As(err, &sizeErr) && len(ids) == 1 {
				return nil, &engine.FatalSizeError{Subject: es.Name, Bytes: sizeErr.Bytes, Limit: sizeErr.Limit}
			}
			return nil, err
		}
		recs := make([]*engine.Record, 0, len(resp.Items))
		for _, raw := range resp.Items {
			recs = append(recs, RecordFromMap(raw, fields, es.Schema))
		}
		return recs, nil
	}, a.metrics, es.Name, a.logger)
}

// fetchReportChunk runs one synchronous report request for a field chunk.
func (a *Bing) fetchReportChunk(ctx context.Context, spec engine.FetchSpec, es EntitySpec, fields []string) ([]map[string]interface{}, error) {
	var resp struct {
		Rows []map[string]interface{} `json:"Rows"`
	}
	err := a.client.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/reporting/query",
		Body: map[string]interface{}{
			"ReportType": es.Path,
			"AccountId":  spec.AccountID,
			"Columns":    fields,
			"TimeRange": map[string]string{
				"Start": spec.Window.Start.Format("2006-01-02"),
				"End":   spec.Window.End.Format("2006-01-02"),
			},
			"Aggregation": "Daily",
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func bingRefreshToken(ctx context.Context, hc *resty.Client, creds *secrets.APICredentials) (string, error) {
	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	// Absolute URL bypasses the client's campaign API base.
	resp, err := hc.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"client_id":     creds.ClientID,
			"client_secret": creds.ClientSecret,
			"refresh_token": creds.RefreshToken,
			"scope":         "https://ads.microsoft.com/msads.manage offline_access",
		}).
		SetResult(&tokenResp).
		Post(bingTokenURL)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() || tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}
	return tokenResp.AccessToken, nil
}

// Bing reports size rejections as operation errors with a dedicated code
// rather than a 413.
func classifyBingError(statusCode int, body []byte) error {
	var envelope struct {
		OperationErrors []struct {
			Code    int    `json:"Code"`
			Message string `json:"Message"`
		} `json:"OperationErrors"`
	}
	if json.Unmarshal(body, &envelope) != nil || len(envelope.OperationErrors) == 0 {
		return nil
	}
	first := envelope.OperationErrors[0]
	// 3224 = entity limit exceeded for the request
	if first.Code == 3224 {
		return &engine.PayloadTooLargeError{Platform: "bing"}
	}
	// 105/117 = throttling
	transient := first.Code == 105 || first.Code == 117
	return &engine.APIError{
		Platform:   "bing",
		StatusCode: statusCode,
		Code:       fmt.Sprintf("%d", first.Code),
		Message:    first.Message,
		Transient:  transient,
	}
}

var bingCatalog = Catalog{
	"campaign": {
		Name: "campaign",
		Path: "campaigns",
		Key:  engine.UniqueKey{"Id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "Id", Type: engine.FieldInt64},
			{Name: "Name", Type: engine.FieldString},
			{Name: "Status", Type: engine.FieldString},
			{Name: "CampaignType", Type: engine.FieldString},
			{Name: "BudgetType", Type: engine.FieldString},
			{Name: "DailyBudget", Type: engine.FieldFloat},
			{Name: "TimeZone", Type: engine.FieldString},
			{Name: "TrackingUrlTemplate", Type: engine.FieldString},
		}},
	},
	"keyword": {
		Name: "keyword",
		Path: "keywords",
		Key:  engine.UniqueKey{"Id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "Id", Type: engine.FieldInt64},
			{Name: "AdGroupId", Type: engine.FieldInt64},
			{Name: "Text", Type: engine.FieldString},
			{Name: "MatchType", Type: engine.FieldString},
			{Name: "Status", Type: engine.FieldString},
			{Name: "Bid", Type: engine.FieldFloat},
			{Name: "FinalUrls", Type: engine.FieldString},
		}},
	},
	"campaign_performance": {
		Name:         "campaign_performance",
		Path:         "CampaignPerformanceReport",
		Dimensioned:  true,
		Key:          engine.UniqueKey{"CampaignId", "TimePeriod"},
		GroupingKeys: []string{"CampaignId", "TimePeriod"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "CampaignId", Type: engine.FieldInt64},
			{Name: "CampaignName", Type: engine.FieldString},
			{Name: "AccountId", Type: engine.FieldInt64},
			{Name: "TimePeriod", Type: engine.FieldDate, PartitionHint: true},
			{Name: "Impressions", Type: engine.FieldInt64},
			{Name: "Clicks", Type: engine.FieldInt64},
			{Name: "Spend", Type: engine.FieldFloat},
			{Name: "Conversions", Type: engine.FieldInt64},
			{Name: "Revenue", Type: engine.FieldFloat},
			{Name: "AverageCpc", Type: engine.FieldFloat},
			{Name: "Ctr", Type: engine.FieldFloat},
			{Name: "AveragePosition", Type: engine.FieldFloat},
			{Name: "QualityScore", Type: engine.FieldFloat},
		}},
	},
	"keyword_performance": {
		Name:         "keyword_performance",
		Path:         "KeywordPerformanceReport",
		Dimensioned:  true,
		Key:          engine.UniqueKey{"KeywordId", "TimePeriod"},
		GroupingKeys: []string{"KeywordId", "TimePeriod"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "KeywordId", Type: engine.FieldInt64},
			{Name: "Keyword", Type: engine.FieldString},
			{Name: "CampaignId", Type: engine.FieldInt64},
			{Name: "AdGroupId", Type: engine.FieldInt64},
			{Name: "TimePeriod", Type: engine.FieldDate, PartitionHint: true},
			{Name: "Impressions", Type: engine.FieldInt64},
			{Name: "Clicks", Type: engine.FieldInt64},
			{Name: "Spend", Type: engine.FieldFloat},
			{Name: "Conversions", Type: engine.FieldInt64},
			{Name: "AverageCpc", Type: engine.FieldFloat},
		}},
	},
}
