package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/secrets"
)

const (
	linkedinBaseURL  = "https://api.linkedin.com/rest"
	linkedinTokenURL = "https://www.linkedin.com/oauth/v2/accessToken"
	linkedinPageSize = 100
)

// LinkedIn reads the Marketing API: offset-paged element lists for
// campaigns and creatives, date-pivoted adAnalytics for statistics.
type LinkedIn struct {
	restAdapter
}

func NewLinkedIn(cfg *config.Config, creds *secrets.APICredentials, m *metrics.Store, logger *zap.Logger) *LinkedIn {
	a := &LinkedIn{restAdapter{
		platform: "linkedin",
		cfg:      cfg,
		catalog:  linkedinCatalog,
		logger:   logger.Named("linkedin-adapter"),
	}}
	a.client = NewClient(a.platform, linkedinBaseURL, cfg, creds, m, logger).
		WithAuthHeaders(func(c *secrets.APICredentials) map[string]string {
			return map[string]string{
				"Authorization":             "Bearer " + c.AccessToken,
				"LinkedIn-Version":          "202405",
				"X-Restli-Protocol-Version": "2.0.0",
			}
		}).
		WithRefresh(linkedinRefreshToken).
		WithClassifier(classifyLinkedInError)
	return a
}

func (a *LinkedIn) Fetch(ctx context.Context, spec engine.FetchSpec) ([]*engine.Record, error) {
	return a.fetchChunked(ctx, spec, a.fetchChunk)
}

type linkedinPage struct {
	Elements []map[string]interface{} `json:"elements"`
	Paging   struct {
		Start int `json:"start"`
		Count int `json:"count"`
		Total int `json:"total"`
	} `json:"paging"`
}

func (a *LinkedIn) fetchChunk(ctx context.Context, spec engine.FetchSpec, es EntitySpec, fields []string) ([]map[string]interface{}, error) {
	query := map[string]string{
		"q":      "search",
		"search": fmt.Sprintf("(account:(values:List(urn%%3Ali%%3AsponsoredAccount%%3A%s)))", spec.AccountID),
		"fields": strings.Join(fields, ","),
		"count":  strconv.Itoa(linkedinPageSize),
	}
	if es.Dimensioned {
		query["q"] = "analytics"
		query["pivot"] = "CAMPAIGN"
		query["timeGranularity"] = "DAILY"
		query["dateRange"] = fmt.Sprintf("(start:(year:%d,month:%d,day:%d),end:(year:%d,month:%d,day:%d))",
			spec.Window.Start.Year(), int(spec.Window.Start.Month()), spec.Window.Start.Day(),
			spec.Window.End.Year(), int(spec.Window.End.Month()), spec.Window.End.Day())
	}

	var rows []map[string]interface{}
	start := 0
	for {
		query["start"] = strconv.Itoa(start)
		var page linkedinPage
		err := a.client.Do(ctx, Request{
			Method: http.MethodGet,
			Path:   "/" + es.Path,
			Query:  query,
		}, &page)
		if err != nil {
			return nil, err
		}
		for _, el := range page.Elements {
			rows = append(rows, flattenLinkedInRow(el))
		}
		start += len(page.Elements)
		if len(page.Elements) == 0 || (page.Paging.Total > 0 && start >= page.Paging.Total) {
			return rows, nil
		}
	}
}

// flattenLinkedInRow hoists the nested dateRange of an analytics element
// into a flat date_start field, the shape the schema declares.
func flattenLinkedInRow(el map[string]interface{}) map[string]interface{} {
	dr, ok := el["dateRange"].(map[string]interface{})
	if !ok {
		return el
	}
	startObj, ok := dr["start"].(map[string]interface{})
	if !ok {
		return el
	}
	y, _ := startObj["year"].(float64)
	mo, _ := startObj["month"].(float64)
	d, _ := startObj["day"].(float64)
	el["date_start"] = fmt.Sprintf("%04d-%02d-%02d", int(y), int(mo), int(d))
	return el
}

func linkedinRefreshToken(ctx context.Context, hc *resty.Client, creds *secrets.APICredentials) (string, error) {
	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	resp, err := hc.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"client_id":     creds.ClientID,
			"client_secret": creds.ClientSecret,
			"refresh_token": creds.RefreshToken,
		}).
		SetResult(&tokenResp).
		Post(linkedinTokenURL)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() || tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}
	return tokenResp.AccessToken, nil
}

func classifyLinkedInError(statusCode int, body []byte) error {
	var envelope struct {
		Message          string `json:"message"`
		ServiceErrorCode int    `json:"serviceErrorCode"`
	}
	if json.Unmarshal(body, &envelope) != nil || envelope.Message == "" {
		return nil
	}
	return &engine.APIError{
		Platform:   "linkedin",
		StatusCode: statusCode,
		Code:       strconv.Itoa(envelope.ServiceErrorCode),
		Message:    envelope.Message,
	}
}

var linkedinCatalog = Catalog{
	"campaign": {
		Name: "campaign",
		Path: "adCampaigns",
		Key:  engine.UniqueKey{"id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "id", Type: engine.FieldInt64},
			{Name: "name", Type: engine.FieldString},
			{Name: "status", Type: engine.FieldString},
			{Name: "type", Type: engine.FieldString},
			{Name: "costType", Type: engine.FieldString},
			{Name: "dailyBudget", Type: engine.FieldString}, // nested amount object
			{Name: "unitCost", Type: engine.FieldString},
			{Name: "objectiveType", Type: engine.FieldString},
			{Name: "runSchedule", Type: engine.FieldString},
		}},
	},
	"creative": {
		Name: "creative",
		Path: "creatives",
		Key:  engine.UniqueKey{"id"},
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "id", Type: engine.FieldString}, // creative URNs
			{Name: "campaign", Type: engine.FieldString},
			{Name: "intendedStatus", Type: engine.FieldString},
			{Name: "isServing", Type: engine.FieldBool},
			{Name: "createdAt", Type: engine.FieldInt64}, // epoch millis
			{Name: "lastModifiedAt", Type: engine.FieldInt64},
		}},
	},
	"campaign_analytics": {
		Name:         "campaign_analytics",
		Path:         "adAnalytics",
		Dimensioned:  true,
		Key:          engine.UniqueKey{"pivotValues", "date_start"},
		GroupingKeys: []string{"pivotValues", "date_start"},
		MaxFields:    20, // analytics finder caps requested metrics per call
		Schema: engine.Schema{Fields: []engine.SchemaField{
			{Name: "pivotValues", Type: engine.FieldString},
			{Name: "date_start", Type: engine.FieldDate, PartitionHint: true},
			{Name: "impressions", Type: engine.FieldInt64},
			{Name: "clicks", Type: engine.FieldInt64},
			{Name: "costInLocalCurrency", Type: engine.FieldFloat},
			{Name: "likes", Type: engine.FieldInt64},
			{Name: "comments", Type: engine.FieldInt64},
			{Name: "shares", Type: engine.FieldInt64},
			{Name: "follows", Type: engine.FieldInt64},
			{Name: "videoViews", Type: engine.FieldInt64},
			{Name: "videoCompletions", Type: engine.FieldInt64},
			{Name: "externalWebsiteConversions", Type: engine.FieldInt64},
			{Name: "landingPageClicks", Type: engine.FieldInt64},
		}},
	},
}
