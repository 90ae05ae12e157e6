// ABOUTME: Tests for the Twilio REST sender, TwiML rendering and signature checks
// ABOUTME: Uses httptest to stand in for the Messages resource

package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_Send(t *testing.T) {
	var gotPath string
	var gotForm url.Values
	var gotUser, gotPass string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"sid": "SM123", "status": "queued"})
	}))
	defer srv.Close()

	s := NewSender(SenderOptions{
		AccountSID: "AC1",
		AuthToken:  "secret",
		From:       "whatsapp:+14155238886",
		APIBase:    srv.URL,
	})

	sid, err := s.Send(t.Context(), "+15551234567", "hello")
	require.NoError(t, err)
	assert.Equal(t, "SM123", sid)
	assert.Equal(t, "/Accounts/AC1/Messages.json", gotPath)
	assert.Equal(t, "AC1", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, "whatsapp:+14155238886", gotForm.Get("From"))
	assert.Equal(t, "whatsapp:+15551234567", gotForm.Get("To"))
	assert.Equal(t, "hello", gotForm.Get("Body"))
}

func TestSender_SendClipsBody(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		body = r.PostForm.Get("Body")
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer srv.Close()

	s := NewSender(SenderOptions{AccountSID: "AC1", AuthToken: "t", From: "+1", APIBase: srv.URL})
	_, err := s.Send(t.Context(), "+2", strings.Repeat("é", 2000))
	require.NoError(t, err)
	assert.Equal(t, MaxBodyLength, len([]rune(body)))
	assert.True(t, strings.HasSuffix(body, "..."))
}

func TestSender_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number.","status":400}`))
	}))
	defer srv.Close()

	s := NewSender(SenderOptions{AccountSID: "AC1", AuthToken: "t", From: "+1", APIBase: srv.URL})
	_, err := s.Send(t.Context(), "nope", "hi")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, 21211, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "not a valid phone number")
}

func TestSender_NotConfigured(t *testing.T) {
	s := NewSender(SenderOptions{AccountSID: "AC1"})
	assert.False(t, s.Configured())

	_, err := s.Send(t.Context(), "+1", "hi")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClip(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 8, "hello..."},
		{"runes", "ααααα", 4, "α..."},
		{"tiny limit", "hello", 2, "he"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clip(tt.text, tt.limit))
		})
	}
}

func TestMessageResponse(t *testing.T) {
	out := string(MessageResponse("Tom & Jerry <3\nline two"))
	assert.True(t, strings.HasPrefix(out, xml.Header))
	assert.Contains(t, out, "Tom &amp; Jerry &lt;3")

	var parsed twimlResponse
	require.NoError(t, xml.Unmarshal(MessageResponse("Tom & Jerry <3\nline two"), &parsed))
	require.Len(t, parsed.Messages, 1)
	assert.Equal(t, "Tom & Jerry <3\nline two", parsed.Messages[0].Body)
}

func TestMessageResponse_Clips(t *testing.T) {
	var parsed twimlResponse
	require.NoError(t, xml.Unmarshal(MessageResponse(strings.Repeat("x", 5000)), &parsed))
	require.Len(t, parsed.Messages, 1)
	assert.Len(t, parsed.Messages[0].Body, MaxBodyLength)
}

func TestEmptyResponse(t *testing.T) {
	out := string(EmptyResponse())
	assert.Contains(t, out, "<Response></Response>")
	assert.NotContains(t, out, "<Message>")
}

func TestSignature(t *testing.T) {
	params := url.Values{
		"From":       {"whatsapp:+15551234567"},
		"Body":       {"hello"},
		"MessageSid": {"SM1"},
	}
	fullURL := "https://rollcall.example.com/webhook/twilio"

	// Keys in sorted order, each followed by its value.
	mac := hmac.New(sha1.New, []byte("token"))
	mac.Write([]byte(fullURL + "Bodyhello" + "Fromwhatsapp:+15551234567" + "MessageSidSM1"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Signature("token", fullURL, params))
	assert.True(t, ValidSignature("token", fullURL, params, want))
}

func TestValidSignature_Rejects(t *testing.T) {
	params := url.Values{"Body": {"hello"}}
	fullURL := "https://rollcall.example.com/webhook/twilio"
	good := Signature("token", fullURL, params)

	assert.False(t, ValidSignature("token", fullURL, params, ""))
	assert.False(t, ValidSignature("other-token", fullURL, params, good))
	assert.False(t, ValidSignature("token", fullURL+"?x=1", params, good))
	assert.False(t, ValidSignature("token", fullURL, url.Values{"Body": {"tampered"}}, good))
}
