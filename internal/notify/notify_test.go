package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"sitewatch/internal/monitor"
)

func sampleDigest() Digest {
	return Digest{
		TaskName: "policy watch",
		SiteName: "Example Gov",
		SiteURL:  "https://example.gov",
		Items: []Item{
			{
				Title:    "New subsidy program announced",
				URL:      "https://example.gov/news/1",
				Summary:  "The ministry announced a new subsidy program for rural areas.",
				Phrases:  []string{"subsidy"},
				ImageURL: "https://example.gov/img/subsidy.png",
				Score:    1.0,
			},
			{
				Title:   "Fiscal report Q3",
				URL:     "https://example.gov/news/2",
				Phrases: []string{"fiscal policy"},
				Score:   0.72,
			},
		},
		GeneratedAt: time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestChooseTransport(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		port          int
		encrypt       bool
		forceSTARTTLS bool
		want          transport
	}{
		{"no encryption", 25, false, false, transportPlain},
		{"port 465 implicit ssl", 465, true, false, transportSSL},
		{"port 465 forced starttls", 465, true, true, transportSTARTTLS},
		{"port 587 starttls", 587, true, false, transportSTARTTLS},
		{"port 25 encrypted", 25, true, false, transportSTARTTLS},
		{"port 465 unencrypted", 465, false, false, transportPlain},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, chooseTransport(tc.port, tc.encrypt, tc.forceSTARTTLS))
		})
	}
}

func TestSplitRecipients(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		[]string{"a@x.com", "b@x.com", "c@x.com"},
		splitRecipients("a@x.com, b@x.com;c@x.com"),
	)
	require.Equal(t, []string{"a@x.com"}, splitRecipients("  a@x.com  "))
	require.Empty(t, splitRecipients(" ,; "))
}

func TestIsConnDropped(t *testing.T) {
	t.Parallel()

	require.True(t, isConnDropped(errors.New("read tcp: connection reset by peer")))
	require.True(t, isConnDropped(errors.New("unexpected EOF")))
	require.False(t, isConnDropped(errors.New("535 authentication failed")))
}

func TestRenderEmailBodies(t *testing.T) {
	t.Parallel()

	d := sampleDigest()

	html, err := RenderEmailHTML(d)
	require.NoError(t, err)
	require.Contains(t, html, "New subsidy program announced")
	require.Contains(t, html, "https://example.gov/news/1")
	require.Contains(t, html, "policy watch")
	require.Contains(t, html, "https://example.gov/img/subsidy.png")
	require.Contains(t, html, "rural areas")

	text, err := RenderEmailText(d)
	require.NoError(t, err)
	require.Contains(t, text, "Fiscal report Q3")
	require.Contains(t, text, "rural areas")
	require.Contains(t, text, "score 0.72")

	require.Equal(t, "[policy watch] 2 update(s) on Example Gov", Subject(d))
}

func TestBuildFeedCard(t *testing.T) {
	t.Parallel()

	payload := BuildFeedCard(sampleDigest())
	require.Equal(t, "feedCard", payload.MsgType)
	require.Len(t, payload.FeedCard.Links, 2)
	require.Equal(t, "[subsidy] New subsidy program announced", payload.FeedCard.Links[0].Title)
	require.Equal(t, "https://example.gov/news/1", payload.FeedCard.Links[0].MessageURL)
	require.Equal(t, "https://example.gov/img/subsidy.png", payload.FeedCard.Links[0].PicURL)
	require.Empty(t, payload.FeedCard.Links[1].PicURL)
}

type fakeSettings struct {
	email      monitor.EmailSettings
	webhookURL string
}

func (f *fakeSettings) EmailSettings(context.Context) (monitor.EmailSettings, error) {
	return f.email, nil
}

func (f *fakeSettings) WebhookURL(context.Context) (string, error) {
	return f.webhookURL, nil
}

func TestWebhookSenderPostsFeedCard(t *testing.T) {
	t.Parallel()

	var got FeedCardPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	sender := NewWebhookSender(&fakeSettings{webhookURL: srv.URL}, zap.NewNop())
	require.NoError(t, sender.Send(context.Background(), "", sampleDigest()))
	require.Len(t, got.FeedCard.Links, 2)
}

func TestWebhookSenderRejectedByBot(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":310000,"errmsg":"keywords not in content"}`))
	}))
	defer srv.Close()

	sender := NewWebhookSender(&fakeSettings{webhookURL: srv.URL}, zap.NewNop())
	err := sender.Send(context.Background(), "", sampleDigest())
	require.ErrorContains(t, err, "errcode=310000")
}

func TestWebhookSenderTargetOverridesStoredURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":0}`))
	}))
	defer srv.Close()

	sender := NewWebhookSender(&fakeSettings{webhookURL: "http://unreachable.invalid"}, zap.NewNop())
	require.NoError(t, sender.Send(context.Background(), srv.URL, sampleDigest()))
}

func TestWebhookSenderNotConfigured(t *testing.T) {
	t.Parallel()

	sender := NewWebhookSender(&fakeSettings{}, zap.NewNop())
	err := sender.Send(context.Background(), "", sampleDigest())
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestEmailSenderNotConfigured(t *testing.T) {
	t.Parallel()

	sender := NewEmailSender(&fakeSettings{}, zap.NewNop())
	err := sender.Send(context.Background(), "ops@example.com", sampleDigest())
	require.ErrorIs(t, err, ErrNotConfigured)
}

func starttlsSettings() *fakeSettings {
	return &fakeSettings{email: monitor.EmailSettings{
		Host:    "smtp.example.com",
		Port:    587,
		Sender:  "watch@example.com",
		Encrypt: true,
	}}
}

func TestEmailSenderRetriesOverSSLOnDrop(t *testing.T) {
	t.Parallel()

	sender := NewEmailSender(starttlsSettings(), zap.NewNop())
	var modes []transport
	sender.deliver = func(_ context.Context, _ monitor.EmailSettings, mode transport, _ *mail.Msg) error {
		modes = append(modes, mode)
		if mode == transportSTARTTLS {
			return io.EOF
		}
		return nil
	}

	err := sender.Send(context.Background(), "ops@example.com", sampleDigest())
	require.NoError(t, err)
	require.Equal(t, []transport{transportSTARTTLS, transportSSL}, modes)
}

func TestEmailSenderNoRetryOnRejection(t *testing.T) {
	t.Parallel()

	sender := NewEmailSender(starttlsSettings(), zap.NewNop())
	rejected := errors.New("550 mailbox unavailable")
	var calls int
	sender.deliver = func(context.Context, monitor.EmailSettings, transport, *mail.Msg) error {
		calls++
		return rejected
	}

	err := sender.Send(context.Background(), "ops@example.com", sampleDigest())
	require.ErrorIs(t, err, rejected)
	require.Equal(t, 1, calls)
}

func TestEmailSenderNoRetryOnSSLDrop(t *testing.T) {
	t.Parallel()

	settings := starttlsSettings()
	settings.email.Port = 465
	sender := NewEmailSender(settings, zap.NewNop())
	var modes []transport
	sender.deliver = func(_ context.Context, _ monitor.EmailSettings, mode transport, _ *mail.Msg) error {
		modes = append(modes, mode)
		return io.EOF
	}

	err := sender.Send(context.Background(), "ops@example.com", sampleDigest())
	require.Error(t, err)
	require.Equal(t, []transport{transportSSL}, modes)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingSender struct {
	target string
	err    error
	calls  int
}

func (r *recordingSender) Send(_ context.Context, target string, _ Digest) error {
	r.calls++
	r.target = target
	return r.err
}

type recordingAudit struct {
	entries []monitor.NotificationLogEntry
}

func (r *recordingAudit) RecordNotification(_ context.Context, entry monitor.NotificationLogEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func TestDispatcherRoutesByChannel(t *testing.T) {
	t.Parallel()

	email := &recordingSender{}
	webhook := &recordingSender{}
	audit := &recordingAudit{}
	now := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
	d := NewDispatcher(email, webhook, audit, fixedClock{now: now}, zap.NewNop())

	task := monitor.Task{ID: 1, Channel: monitor.ChannelEmail, Target: "ops@example.com"}
	require.NoError(t, d.Notify(context.Background(), task, sampleDigest()))
	require.Equal(t, 1, email.calls)
	require.Zero(t, webhook.calls)

	task.Channel = monitor.ChannelDingTalk
	task.Target = "https://bot.example.com/hook"
	require.NoError(t, d.Notify(context.Background(), task, sampleDigest()))
	require.Equal(t, 1, webhook.calls)

	require.Len(t, audit.entries, 2)
	require.True(t, audit.entries[0].Success)
	require.Equal(t, now, audit.entries[0].At)
}

func TestDispatcherRecordsFailure(t *testing.T) {
	t.Parallel()

	email := &recordingSender{err: errors.New("smtp timeout")}
	audit := &recordingAudit{}
	d := NewDispatcher(email, &recordingSender{}, audit, fixedClock{now: time.Now()}, zap.NewNop())

	task := monitor.Task{ID: 1, Channel: monitor.ChannelEmail, Target: "ops@example.com"}
	err := d.Notify(context.Background(), task, sampleDigest())
	require.ErrorContains(t, err, "smtp timeout")
	require.Len(t, audit.entries, 1)
	require.False(t, audit.entries[0].Success)
	require.Contains(t, audit.entries[0].Message, "smtp timeout")
}

func TestDispatcherSkipsEmptyDigest(t *testing.T) {
	t.Parallel()

	email := &recordingSender{}
	audit := &recordingAudit{}
	d := NewDispatcher(email, &recordingSender{}, audit, fixedClock{now: time.Now()}, zap.NewNop())

	task := monitor.Task{ID: 1, Channel: monitor.ChannelEmail, Target: "ops@example.com"}
	require.NoError(t, d.Notify(context.Background(), task, Digest{}))
	require.Zero(t, email.calls)
	require.Empty(t, audit.entries)
}
