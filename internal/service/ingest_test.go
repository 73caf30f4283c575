package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/monitoring"
	"github.com/mmaxou/Moemail-for-University/internal/storage/memory"
)

func newIngestFixture(t *testing.T) (*MailboxService, *MessageService, *IngestService) {
	t.Helper()
	store := memory.NewStore(100)
	mailboxes := NewMailboxService(store, testConfig())
	quota := NewQuotaService(store, zap.NewNop())
	messages := NewMessageService(store, quota)
	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())
	ingest := NewIngestService(mailboxes, messages, zap.NewNop(), metrics)
	return mailboxes, messages, ingest
}

func TestIngestService_Ingest(t *testing.T) {
	t.Run("投递到每个有效收件人", func(t *testing.T) {
		mailboxes, messages, ingest := newIngestFixture(t)

		first, err := mailboxes.Create(CreateMailboxInput{Prefix: "alice"})
		require.NoError(t, err)
		second, err := mailboxes.Create(CreateMailboxInput{Prefix: "bob"})
		require.NoError(t, err)

		delivered := ingest.Ingest(IngestInput{
			From:       "Sender@Example.COM",
			Recipients: []string{"Alice@MoeMail.app", "bob@moemail.app"},
			Subject:    "合租通知",
			Text:       "水电费该交了",
		})
		assert.Equal(t, 2, delivered)

		for _, mb := range []string{first.ID, second.ID} {
			page, err := messages.Page(mb, "", "", 20)
			require.NoError(t, err)
			require.Len(t, page.Messages, 1)
			msg := page.Messages[0]
			assert.Equal(t, domain.DirectionReceived, msg.Direction)
			assert.Equal(t, "sender@example.com", msg.FromAddress)
			assert.Equal(t, "合租通知", msg.Subject)
		}
	})

	t.Run("未知收件人静默丢弃", func(t *testing.T) {
		mailboxes, messages, ingest := newIngestFixture(t)

		known, err := mailboxes.Create(CreateMailboxInput{Prefix: "known"})
		require.NoError(t, err)

		delivered := ingest.Ingest(IngestInput{
			From:       "sender@example.com",
			Recipients: []string{"nobody@moemail.app", "known@moemail.app"},
		})
		assert.Equal(t, 1, delivered)

		page, err := messages.Page(known.ID, "", "", 20)
		require.NoError(t, err)
		assert.Len(t, page.Messages, 1)
	})

	t.Run("过期邮箱不再收信", func(t *testing.T) {
		mailboxes, messages, ingest := newIngestFixture(t)

		past := time.Now().UTC().Add(-time.Hour)
		expired, err := mailboxes.Create(CreateMailboxInput{Prefix: "stale", ExpiresAt: &past})
		require.NoError(t, err)

		delivered := ingest.Ingest(IngestInput{
			From:       "sender@example.com",
			Recipients: []string{"stale@moemail.app"},
		})
		assert.Equal(t, 0, delivered)

		page, err := messages.Page(expired.ID, "", "", 20)
		require.NoError(t, err)
		assert.Empty(t, page.Messages)
	})

	t.Run("采信合理范围内的Date头", func(t *testing.T) {
		mailboxes, messages, ingest := newIngestFixture(t)
		mb, err := mailboxes.Create(CreateMailboxInput{Prefix: "dated"})
		require.NoError(t, err)

		headerDate := time.Now().UTC().Add(-2 * time.Hour)
		ingest.Ingest(IngestInput{
			From:       "sender@example.com",
			Recipients: []string{"dated@moemail.app"},
			Date:       headerDate,
		})

		page, err := messages.Page(mb.ID, "", "", 20)
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.WithinDuration(t, headerDate, page.Messages[0].ReceivedAt, time.Second)
	})

	t.Run("不可信的Date头退回当前时间", func(t *testing.T) {
		mailboxes, messages, ingest := newIngestFixture(t)
		mb, err := mailboxes.Create(CreateMailboxInput{Prefix: "clock"})
		require.NoError(t, err)

		for _, bogus := range []time.Time{
			time.Now().UTC().Add(time.Hour),            // 未来
			time.Now().UTC().Add(-60 * 24 * time.Hour), // 过旧
			{}, // 缺失
		} {
			ingest.Ingest(IngestInput{
				From:       "sender@example.com",
				Recipients: []string{"clock@moemail.app"},
				Date:       bogus,
			})
		}

		page, err := messages.Page(mb.ID, "", "", 20)
		require.NoError(t, err)
		require.Len(t, page.Messages, 3)
		for _, msg := range page.Messages {
			assert.WithinDuration(t, time.Now().UTC(), msg.ReceivedAt, time.Minute)
		}
	})
}
