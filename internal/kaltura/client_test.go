package kaltura

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionXML = `<?xml version="1.0" encoding="utf-8"?>
<xml><result><objectType>KalturaSessionInfo</objectType><ks>abc</ks><sessionType>0</sessionType>
<partnerId>12345</partnerId><userId>user@example.com</userId><expiry>%d</expiry><privileges>*</privileges></result>
<executionTime>0.01</executionTime></xml>`

const errorXML = `<?xml version="1.0" encoding="utf-8"?>
<xml><result><error><objectType>KalturaAPIException</objectType><code>INVALID_KS</code>
<message>Invalid KS "abc". Error "-1,INVALID_STR"</message><args/></error></result></xml>`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sleeper := &recordingSleeper{}
	return NewClient(server.URL+"/", server.Client(), newTestRetrier(3, sleeper))
}

func TestDecodeResult_StripsDataContent(t *testing.T) {
	body := []byte("<xml><result><objectType>KalturaCaptionAsset</objectType><dataContent>\xff\xfe not utf8 <b></dataContent><id>1_abc</id></result></xml>")
	result, err := decodeResult(body)
	require.NoError(t, err)
	assert.Equal(t, "1_abc", result.Value("id"))
	assert.Nil(t, result.Child("dataContent"))
}

func TestDecodeResult_MissingResult(t *testing.T) {
	_, err := decodeResult([]byte("<xml><executionTime>0.1</executionTime></xml>"))
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrCodeResultNotFound, clientErr.Code)
}

func TestDecodeResult_InvalidXML(t *testing.T) {
	_, err := decodeResult([]byte("not xml at all"))
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrCodeInvalidXML, clientErr.Code)
}

func TestDecodeResult_APIError(t *testing.T) {
	_, err := decodeResult([]byte(errorXML))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrCodeInvalidKS, apiErr.Code)
	assert.Equal(t, "KalturaAPIException", apiErr.ObjectType)
	assert.Contains(t, apiErr.Message, "Invalid KS")
}

func TestGetSession(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Unix()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api_v3/service/session/action/get", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "abc", r.PostForm.Get("ks"))
		assert.Equal(t, "2", r.PostForm.Get("format"))
		fmt.Fprintf(w, sessionXML, expiry)
	})

	session, err := client.GetSession(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), session.PartnerID)
	assert.Equal(t, expiry, session.Expiry)
	assert.Equal(t, "user@example.com", session.UserID)

	valid, pid := client.ValidateSession(context.Background(), "abc")
	assert.True(t, valid)
	assert.Equal(t, int64(12345), pid)
}

func TestValidateSession_Expired(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, sessionXML, time.Now().Add(-time.Hour).Unix())
	})
	valid, pid := client.ValidateSession(context.Background(), "abc")
	assert.False(t, valid)
	assert.Equal(t, int64(12345), pid)
}

func TestValidateSession_InvalidKSNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, errorXML)
	})
	valid, pid := client.ValidateSession(context.Background(), "abc")
	assert.False(t, valid)
	assert.Equal(t, int64(-1), pid)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCall_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, sessionXML, time.Now().Add(time.Hour).Unix())
	})

	session, err := client.GetSession(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), session.PartnerID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestListCaptions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api_v3/service/caption_captionasset/action/list", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1_entry", r.PostForm.Get("filter[entryIdEqual]"))
		assert.Equal(t, "English", r.PostForm.Get("filter[languageEqual]"))
		assert.Equal(t, "-createdAt", r.PostForm.Get("filter[orderBy]"))
		fmt.Fprint(w, `<xml><result><objects>
<item><objectType>KalturaCaptionAsset</objectType><id>0_new</id><entryId>1_entry</entryId><label>English</label><language>English</language><createdAt>200</createdAt></item>
<item><objectType>KalturaCaptionAsset</objectType><id>0_old</id><entryId>1_entry</entryId><label>English (auto)</label><language>English</language><createdAt>100</createdAt></item>
</objects><totalCount>2</totalCount></result></xml>`)
	})

	captions, err := client.ListCaptions(context.Background(), "abc", "1_entry")
	require.NoError(t, err)
	require.Len(t, captions, 2)
	assert.Equal(t, "0_new", captions[0].ID)
	assert.Equal(t, int64(200), captions[0].CreatedAt)
	assert.Equal(t, "English (auto)", captions[1].Label)
}

func TestFetchTranscript(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/serveAsJson/captionAssetId/0_cap/ks/abc"))
		fmt.Fprint(w, `{"objects":[{"startTime":0,"endTime":1500,"content":[{"text":"hello"}]},{"startTime":1500,"endTime":3000,"content":[{"text":"world"}]}],"totalCount":2}`)
	})

	entries, err := client.FetchTranscript(context.Background(), "abc", "0_cap")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1500, entries[0].EndTime)
	assert.Equal(t, "world", entries[1].Content[0].Text)
}

func TestFetchTranscript_InvalidJSON(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"objects":`)
	})

	_, err := client.FetchTranscript(context.Background(), "abc", "0_cap")
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrCodeInvalidJSON, clientErr.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearchVideos(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api_v3/service/elasticsearch_esearch/action/searchEntry", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form := r.PostForm
		assert.Equal(t, "KalturaESearchCaptionItem", form.Get("searchParams[searchOperator][searchItems][0][objectType]"))
		assert.Equal(t, "media_type", form.Get("searchParams[searchOperator][searchItems][1][fieldName]"))
		assert.Equal(t, "42", form.Get("searchParams[searchOperator][searchItems][2][searchTerm]"))
		assert.Equal(t, "golang", form.Get("searchParams[searchOperator][searchItems][3][searchTerm]"))
		assert.Equal(t, "6", form.Get("pager[pageSize]"))
		fmt.Fprint(w, `<xml><result><objects><item><objectType>KalturaESearchEntryResult</objectType>
<object><objectType>KalturaMediaEntry</objectType><id>1_a</id><name>Intro</name><description>First</description>
<mediaType>1</mediaType><createdAt>1700000000</createdAt><msDuration>60000</msDuration><tags>go, talk</tags></object>
</item></objects><totalCount>1</totalCount></result></xml>`)
	})

	videos, err := client.SearchVideos(context.Background(), "abc", SearchQuery{CategoryIDs: "42", FreeText: "golang"})
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, VideoInfo{
		EntryID:     "1_a",
		Name:        "Intro",
		Description: "First",
		MediaType:   1,
		MediaDate:   1700000000,
		MsDuration:  60000,
		Tags:        "go, talk",
	}, videos[0])
}
