package kaltura

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zoharbabin/video-exploratorium/internal/logger"
	"github.com/zoharbabin/video-exploratorium/internal/transcript"
)

const (
	formatXML = "2"

	// Kaltura 枚举值
	mediaTypeVideo      = "1"
	operatorAnd         = "1"
	itemTypeExactMatch  = "1"
	itemTypePartial     = "2"
	itemTypeExists      = "4"
	categoryEntryActive = "2"
)

// Client 带有重试的 Kaltura API 客户端
type Client struct {
	serviceURL string
	httpClient *http.Client
	retrier    *Retrier
}

func NewClient(serviceURL string, httpClient *http.Client, retrier *Retrier) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if retrier == nil {
		retrier = NewRetrier(1, 0, 1, []string{ErrCodeInvalidKS})
	}
	return &Client{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		httpClient: httpClient,
		retrier:    retrier,
	}
}

// call 调用 service/action 并返回 <result> 节点
func (c *Client) call(ctx context.Context, ks, service, action string, params url.Values) (*Node, error) {
	op := service + "." + action
	return Do(ctx, c.retrier, op, func(ctx context.Context) (*Node, error) {
		form := url.Values{}
		for k, v := range params {
			form[k] = v
		}
		form.Set("format", formatXML)
		if ks != "" {
			form.Set("ks", ks)
		}

		endpoint := fmt.Sprintf("%s/api_v3/service/%s/action/%s", c.serviceURL, service, action)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "text/xml")

		body, err := c.do(req)
		if err != nil {
			return nil, err
		}
		return decodeResult(body)
	})
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ClientError{
			Code:    ErrCodeHTTP,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}
	return body, nil
}

// GetSession 获取会话信息
func (c *Client) GetSession(ctx context.Context, ks string) (*Session, error) {
	result, err := c.call(ctx, ks, "session", "get", url.Values{})
	if err != nil {
		return nil, err
	}
	return &Session{
		PartnerID:  result.Int("partnerId"),
		UserID:     result.Value("userId"),
		Expiry:     result.Int("expiry"),
		Privileges: result.Value("privileges"),
	}, nil
}

// ValidateSession 检查会话是否有效且未过期，失败时返回 (false, -1)
func (c *Client) ValidateSession(ctx context.Context, ks string) (bool, int64) {
	session, err := c.GetSession(ctx, ks)
	if err != nil {
		logger.Errorf("[Kaltura] 无效的会话 %s, %v", logger.MaskToken(ks), err)
		return false, -1
	}

	valid := session.Expiry > time.Now().Unix()
	logger.Debugf("[Kaltura] 校验会话, pid: %d, 未过期: %v, ks: %s",
		session.PartnerID, valid, logger.MaskToken(ks))
	return valid, session.PartnerID
}

// ListCaptions 列出视频的英文字幕，按创建时间倒序
func (c *Client) ListCaptions(ctx context.Context, ks, entryID string) ([]CaptionAsset, error) {
	params := url.Values{}
	params.Set("filter[objectType]", "KalturaCaptionAssetFilter")
	params.Set("filter[entryIdEqual]", entryID)
	params.Set("filter[languageEqual]", "English")
	params.Set("filter[orderBy]", "-createdAt")
	params.Set("pager[objectType]", "KalturaFilterPager")

	result, err := c.call(ctx, ks, "caption_captionasset", "list", params)
	if err != nil {
		return nil, err
	}

	items := result.Child("objects").Items()
	captions := make([]CaptionAsset, 0, len(items))
	for _, item := range items {
		captions = append(captions, CaptionAsset{
			ID:        item.Value("id"),
			EntryID:   item.Value("entryId"),
			Label:     item.Value("label"),
			Language:  item.Value("language"),
			CreatedAt: item.Int("createdAt"),
		})
	}
	logger.Debugf("[Kaltura] 视频 %s 共有 %d 条英文字幕", entryID, len(captions))
	return captions, nil
}

// TranscriptURL 返回字幕 JSON 的下载地址
func (c *Client) TranscriptURL(ks, captionAssetID string) string {
	return fmt.Sprintf("%s/api_v3/service/caption_captionasset/action/serveAsJson/captionAssetId/%s/ks/%s",
		c.serviceURL, url.PathEscape(captionAssetID), url.PathEscape(ks))
}

// FetchTranscript 下载字幕 JSON 并返回其中的条目
func (c *Client) FetchTranscript(ctx context.Context, ks, captionAssetID string) ([]transcript.Entry, error) {
	endpoint := c.TranscriptURL(ks, captionAssetID)
	return Do(ctx, c.retrier, "caption_captionasset.serveAsJson", func(ctx context.Context) ([]transcript.Entry, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		body, err := c.do(req)
		if err != nil {
			return nil, err
		}

		var doc transcriptDocument
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, &ClientError{Code: ErrCodeInvalidJSON, Message: "invalid transcript json", Err: err}
		}
		return doc.Objects, nil
	})
}

// SearchVideos 搜索带字幕的视频，按创建时间倒序
func (c *Client) SearchVideos(ctx context.Context, ks string, query SearchQuery) ([]VideoInfo, error) {
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 6
	}

	params := url.Values{}
	params.Set("searchParams[objectType]", "KalturaESearchEntryParams")
	params.Set("searchParams[orderBy][objectType]", "KalturaESearchOrderBy")
	params.Set("searchParams[orderBy][orderItems][0][objectType]", "KalturaESearchEntryOrderByItem")
	params.Set("searchParams[orderBy][orderItems][0][sortField]", "created_at")
	params.Set("searchParams[orderBy][orderItems][0][sortOrder]", "desc")

	const op = "searchParams[searchOperator]"
	params.Set(op+"[objectType]", "KalturaESearchEntryOperator")
	params.Set(op+"[operator]", operatorAnd)

	items := []map[string]string{
		{
			"objectType": "KalturaESearchCaptionItem",
			"fieldName":  "content",
			"itemType":   itemTypeExists,
		},
		{
			"objectType":   "KalturaESearchEntryItem",
			"fieldName":    "media_type",
			"addHighlight": "0",
			"itemType":     itemTypeExactMatch,
			"searchTerm":   mediaTypeVideo,
		},
	}
	if query.CategoryIDs != "" {
		items = append(items, map[string]string{
			"objectType":          "KalturaESearchCategoryEntryItem",
			"categoryEntryStatus": categoryEntryActive,
			"fieldName":           "ancestor_id",
			"addHighlight":        "0",
			"itemType":            itemTypeExactMatch,
			"searchTerm":          query.CategoryIDs,
		})
	}
	if query.FreeText != "" {
		items = append(items, map[string]string{
			"objectType": "KalturaESearchUnifiedItem",
			"itemType":   itemTypePartial,
			"searchTerm": query.FreeText,
		})
	}
	for i, item := range items {
		prefix := fmt.Sprintf("%s[searchItems][%d]", op, i)
		for k, v := range item {
			params.Set(prefix+"["+k+"]", v)
		}
	}

	params.Set("pager[objectType]", "KalturaFilterPager")
	params.Set("pager[pageIndex]", "1")
	params.Set("pager[pageSize]", strconv.Itoa(pageSize))

	result, err := c.call(ctx, ks, "elasticsearch_esearch", "searchEntry", params)
	if err != nil {
		return nil, err
	}

	var videos []VideoInfo
	for _, item := range result.Child("objects").Items() {
		entry := item.Child("object")
		if entry == nil {
			continue
		}
		videos = append(videos, VideoInfo{
			EntryID:      entry.Value("id"),
			Name:         entry.Value("name"),
			Description:  entry.Value("description"),
			MediaType:    int(entry.Int("mediaType")),
			MediaDate:    entry.Int("createdAt"),
			MsDuration:   entry.Int("msDuration"),
			LastPlayedAt: entry.Int("lastPlayedAt"),
			Application:  entry.Value("application"),
			CreatorID:    entry.Value("creatorId"),
			Tags:         entry.Value("tags"),
			ReferenceID:  entry.Value("referenceId"),
		})
	}
	return videos, nil
}
