package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"guest-inbox/internal/domain"
)

var baseTime = time.Date(2026, 7, 14, 10, 0, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *memDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return baseTime.Add(time.Hour) }
	return c
}

func mustResolve(t *testing.T, c *Client, identifier, propertyID string) domain.Conversation {
	t.Helper()
	conv, _, err := c.ResolveConversation(context.Background(), ConversationKey{
		Identifier: identifier,
		PropertyID: propertyID,
		HostID:     "host-1",
	})
	require.NoError(t, err)
	return conv
}

func inboundMsg(convID, id, extID, content string, at time.Time) domain.Message {
	return domain.Message{
		ID:                id,
		ConversationID:    convID,
		Content:           content,
		Direction:         domain.DirectionInbound,
		Type:              domain.MessageTypeText,
		Provider:          "whatsapp",
		ExternalMessageID: extID,
		CreatedAt:         at,
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
	_, err = New(newMemDynamo(), "  ")
	require.Error(t, err)
}

func TestResolveConversation_CreatesThenReuses(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)

	first, created, err := c.ResolveConversation(context.Background(), ConversationKey{
		Identifier: "+33612345678", PropertyID: "villa", HostID: "host-1", GuestName: " Marie ",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "Marie", first.GuestName)
	require.Equal(t, domain.ConversationActive, first.Status)
	require.Equal(t, domain.AttentionNormal, first.AttentionState)

	second, created, err := c.ResolveConversation(context.Background(), ConversationKey{
		Identifier: "+33612345678", PropertyID: "villa",
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "host-1", second.HostID)
	require.Equal(t, 1, db.count(EntityConversation))
}

func TestResolveConversation_ScopedByProperty(t *testing.T) {
	c := mustNewClient(t, newMemDynamo())
	a := mustResolve(t, c, "+33612345678", "villa")
	b := mustResolve(t, c, "+33612345678", "loft")
	require.NotEqual(t, a.ID, b.ID)
}

func TestResolveConversation_ConcurrentFirstContact(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)

	const workers = 24
	ids := make([]string, workers)
	errs := make([]error, workers)
	created := make([]bool, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			conv, ok, err := c.ResolveConversation(context.Background(), ConversationKey{
				Identifier: "+33700000000", PropertyID: "villa",
			})
			ids[i], created[i], errs[i] = conv.ID, ok, err
		}(i)
	}
	close(start)
	wg.Wait()

	creators := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
		if created[i] {
			creators++
		}
	}
	require.Equal(t, 1, creators)
	require.Equal(t, 1, db.count(EntityConversation))
	require.Equal(t, 1, db.count(EntityGuard))
}

func TestResolveConversation_RetriesTransactionConflict(t *testing.T) {
	db := newMemDynamo()
	db.txConflicts = 2
	c := mustNewClient(t, db)

	conv, created, err := c.ResolveConversation(context.Background(), ConversationKey{
		Identifier: "+33700000000", PropertyID: "villa",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 3, db.txCalls)
	require.Equal(t, 1, db.count(EntityConversation))

	again := mustResolve(t, c, "+33700000000", "villa")
	require.Equal(t, conv.ID, again.ID)
}

func TestResolveConversation_ConflictGivesUpAsContention(t *testing.T) {
	db := newMemDynamo()
	db.txConflicts = 100
	c := mustNewClient(t, db)

	_, _, err := c.ResolveConversation(context.Background(), ConversationKey{
		Identifier: "+33700000000", PropertyID: "villa",
	})
	require.ErrorIs(t, err, ErrContention)
	require.Equal(t, 0, db.count(EntityConversation))
}

func TestResolveConversation_HealsDanglingGuard(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)
	db.put(map[string]types.AttributeValue{
		"PK":             sAttr(guardPK("+33612345678", "villa")),
		"SK":             sAttr(skActive),
		"entity":         sAttr(EntityGuard),
		"conversationId": sAttr("ghost"),
	})

	conv, created, err := c.ResolveConversation(context.Background(), ConversationKey{Identifier: "+33612345678", PropertyID: "villa"})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, "ghost", conv.ID)

	guard := db.get(guardPK("+33612345678", "villa"), skActive)
	require.Equal(t, conv.ID, optStr(guard, "conversationId"))
}

func TestResolveConversation_ReplacesArchived(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)
	old := mustResolve(t, c, "+33612345678", "villa")

	meta := db.get(convPK(old.ID), skMeta)
	meta["status"] = sAttr(string(domain.ConversationArchived))
	db.put(meta)

	fresh := mustResolve(t, c, "+33612345678", "villa")
	require.NotEqual(t, old.ID, fresh.ID)
	require.Equal(t, 2, db.count(EntityConversation))
}

func TestResolveConversation_Errors(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)

	_, _, err := c.ResolveConversation(context.Background(), ConversationKey{Identifier: "+336"})
	require.Error(t, err)

	db.getErr = errors.New("boom")
	_, _, err = c.ResolveConversation(context.Background(), ConversationKey{Identifier: "+33612345678", PropertyID: "villa"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ResolveConversation")

	db.getErr = nil
	db.txErr = errors.New("throttled")
	_, _, err = c.ResolveConversation(context.Background(), ConversationKey{Identifier: "+33612345678", PropertyID: "villa"})
	require.ErrorContains(t, err, "throttled")
}

func TestRecordInbound_DuplicateDeliveryStoredOnce(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)
	conv := mustResolve(t, c, "+33612345678", "villa")

	first := inboundMsg(conv.ID, "m-1", "wamid.1", "Bonjour", baseTime)
	require.NoError(t, c.RecordInbound(context.Background(), first))

	redelivered := inboundMsg(conv.ID, "m-2", "wamid.1", "Bonjour", baseTime)
	err := c.RecordInbound(context.Background(), redelivered)
	require.ErrorIs(t, err, ErrDuplicateMessage)

	err = c.RecordInbound(context.Background(), first)
	require.ErrorIs(t, err, ErrDuplicateMessage)

	require.Equal(t, 1, db.count(EntityMessage))
	got, err := c.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.UnreadCount)
}

func TestRecordInbound_ConcurrentDuplicates(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)
	conv := mustResolve(t, c, "+33612345678", "villa")

	const workers = 10
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.RecordInbound(context.Background(), inboundMsg(conv.ID, fmt.Sprintf("m-%d", i), "wamid.same", "hi", baseTime))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrDuplicateMessage)
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, db.count(EntityMessage))
}

func TestRecordInbound_RetriesTransactionConflict(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)
	conv := mustResolve(t, c, "+33612345678", "villa")
	calls := db.txCalls

	db.txConflicts = 2
	require.NoError(t, c.RecordInbound(context.Background(), inboundMsg(conv.ID, "m-1", "wamid.1", "Bonjour", baseTime)))
	require.Equal(t, calls+3, db.txCalls)
	require.Equal(t, 1, db.count(EntityMessage))

	got, err := c.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.UnreadCount)
}

func TestRecordInbound_PersistentConflict(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)
	conv := mustResolve(t, c, "+33612345678", "villa")

	db.txConflicts = txAttempts
	err := c.RecordInbound(context.Background(), inboundMsg(conv.ID, "m-1", "wamid.1", "Bonjour", baseTime))
	require.ErrorIs(t, err, ErrContention)
	require.NotErrorIs(t, err, ErrDuplicateMessage)
	require.Equal(t, 0, db.count(EntityMessage))
}

func TestIsTransactionConflict(t *testing.T) {
	cancelled := func(codes ...string) error {
		reasons := make([]types.CancellationReason, len(codes))
		for i, code := range codes {
			code := code
			reasons[i].Code = &code
		}
		return fmt.Errorf("wrapped: %w", &types.TransactionCanceledException{CancellationReasons: reasons})
	}

	require.True(t, isTransactionConflict(cancelled("None", "TransactionConflict")))
	require.True(t, isTransactionConflict(&types.TransactionConflictException{}))
	require.False(t, isTransactionConflict(cancelled("ConditionalCheckFailed", "TransactionConflict")))
	require.False(t, isTransactionConflict(cancelled("ConditionalCheckFailed", "None")))
	require.False(t, isTransactionConflict(errors.New("boom")))
	require.False(t, isTransactionConflict(nil))
}

func TestRecordInbound_UnreadAndSummary(t *testing.T) {
	c := mustNewClient(t, newMemDynamo())
	conv := mustResolve(t, c, "+33612345678", "villa")

	require.NoError(t, c.RecordInbound(context.Background(), inboundMsg(conv.ID, "m-2", "wamid.2", "second", baseTime.Add(time.Minute))))
	require.NoError(t, c.RecordInbound(context.Background(), inboundMsg(conv.ID, "m-1", "wamid.1", "first", baseTime)))

	got, err := c.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.UnreadCount)
	require.Equal(t, "second", got.LastMessageSummary)
	require.Equal(t, baseTime.Add(time.Minute), got.LastMessageAt)
}

func TestRecordInbound_MissingConversation(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)
	err := c.RecordInbound(context.Background(), inboundMsg("nope", "m-1", "wamid.1", "hi", baseTime))
	require.ErrorIs(t, err, ErrConversationMissing)
	require.Zero(t, db.count(EntityMessage))
}

func TestRecordInbound_Validation(t *testing.T) {
	c := mustNewClient(t, newMemDynamo())
	err := c.RecordInbound(context.Background(), domain.Message{ID: "m", ConversationID: "c"})
	require.ErrorContains(t, err, "message time is required")
}

func TestRecordOutbound_DoesNotCountUnread(t *testing.T) {
	c := mustNewClient(t, newMemDynamo())
	conv := mustResolve(t, c, "+33612345678", "villa")

	reply := domain.Message{
		ID: "r-1", ConversationID: conv.ID, Content: "Le code est 1234",
		Direction: domain.DirectionOutbound, Type: domain.MessageTypeAIReply, CreatedAt: baseTime,
		Metadata: map[string]string{domain.MetaAutoGenerated: "true"},
	}
	require.NoError(t, c.RecordOutbound(context.Background(), reply))
	require.ErrorIs(t, c.RecordOutbound(context.Background(), reply), ErrDuplicateMessage)

	got, err := c.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Zero(t, got.UnreadCount)
	require.Equal(t, "Le code est 1234", got.LastMessageSummary)

	msg, err := c.GetMessage(context.Background(), conv.ID, baseTime, "r-1")
	require.NoError(t, err)
	require.True(t, msg.IsAutomatedReply())
}

func TestGetHistoryThrough(t *testing.T) {
	c := mustNewClient(t, newMemDynamo())
	conv := mustResolve(t, c, "+33612345678", "villa")
	var msgs []domain.Message
	for i := 0; i < 5; i++ {
		msg := inboundMsg(conv.ID, fmt.Sprintf("m-%d", i), fmt.Sprintf("wamid.%d", i), fmt.Sprintf("msg %d", i), baseTime.Add(time.Duration(i)*time.Minute))
		require.NoError(t, c.RecordInbound(context.Background(), msg))
		msgs = append(msgs, msg)
	}

	latest, err := c.GetHistoryThrough(context.Background(), msgs[4], 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	require.Equal(t, "msg 2", latest[0].Content)
	require.Equal(t, "msg 4", latest[2].Content)

	upTo, err := c.GetHistoryThrough(context.Background(), msgs[2], 10)
	require.NoError(t, err)
	require.Len(t, upTo, 3)
	require.Equal(t, "m-2", upTo[2].ID)
	require.Equal(t, "whatsapp", upTo[2].Provider)

	_, err = c.GetHistoryThrough(context.Background(), msgs[4], 0)
	require.Error(t, err)
}

func TestGetHistoryThrough_StopsAtMessageWithinSameSecond(t *testing.T) {
	c := mustNewClient(t, newMemDynamo())
	conv := mustResolve(t, c, "+33612345678", "villa")

	earlier := inboundMsg(conv.ID, "0000-hello", "wamid.0", "Bonjour", baseTime.Add(-time.Minute))
	urgent := inboundMsg(conv.ID, "aaaa-urgent", "wamid.1", "Il y a une fuite d'eau dans la cuisine !", baseTime)
	thanks := inboundMsg(conv.ID, "ffff-thanks", "wamid.2", "merci", baseTime)
	for _, m := range []domain.Message{earlier, urgent, thanks} {
		require.NoError(t, c.RecordInbound(context.Background(), m))
	}

	history, err := c.GetHistoryThrough(context.Background(), urgent, 20)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "0000-hello", history[0].ID)
	require.Equal(t, "aaaa-urgent", history[1].ID)

	history, err = c.GetHistoryThrough(context.Background(), thanks, 20)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "ffff-thanks", history[2].ID)

	_, err = c.GetHistoryThrough(context.Background(), domain.Message{ID: "x"}, 20)
	require.Error(t, err)
}

func TestGetHistory_QueryError(t *testing.T) {
	db := newMemDynamo()
	db.queryErr = errors.New("boom")
	c := mustNewClient(t, db)
	_, err := c.GetHistoryThrough(context.Background(), inboundMsg("abc", "m-1", "", "x", baseTime), 10)
	require.ErrorContains(t, err, "GetHistoryThrough")
}

func classification(convID, id, tag string, attention bool, at time.Time) domain.ClassificationRecord {
	return domain.ClassificationRecord{
		ID:              id,
		ConversationID:  convID,
		SourceMessageID: "m-" + id,
		Tag:             tag,
		Confidence:      0.9,
		NeedsAttention:  attention,
		PriorityLevel:   3,
		Source:          "model",
		SourceEventAt:   at,
		CreatedAt:       at,
	}
}

func TestApplyClassification_OlderDoesNotClobberNewer(t *testing.T) {
	c := mustNewClient(t, newMemDynamo())
	conv := mustResolve(t, c, "+33612345678", "villa")

	newer := classification(conv.ID, "c-2", "urgent_critical", true, baseTime.Add(time.Minute))
	older := classification(conv.ID, "c-1", "known_answer", false, baseTime)

	require.NoError(t, c.ApplyClassification(context.Background(), newer))
	err := c.ApplyClassification(context.Background(), older)
	require.ErrorIs(t, err, ErrStaleClassification)

	got, err := c.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, "urgent_critical", got.LastClassificationTag)
	require.Equal(t, baseTime.Add(time.Minute), got.LastAnalyzedEventAt)

	require.NoError(t, c.ApplyClassification(context.Background(), newer), "re-applying the same event is allowed")
}

func TestApplyClassification_SameSecondOrdersByMessageID(t *testing.T) {
	c := mustNewClient(t, newMemDynamo())
	conv := mustResolve(t, c, "+33612345678", "villa")

	urgent := classification(conv.ID, "c-1", "urgent_critical", true, baseTime)
	urgent.SourceMessageID = "aaaa-urgent"
	thanks := classification(conv.ID, "c-2", "known_answer", false, baseTime)
	thanks.SourceMessageID = "ffff-thanks"

	require.NoError(t, c.ApplyClassification(context.Background(), thanks))
	require.ErrorIs(t, c.ApplyClassification(context.Background(), urgent), ErrStaleClassification)

	got, err := c.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, "known_answer", got.LastClassificationTag)

	other := mustResolve(t, c, "+33699999999", "villa")
	urgent.ConversationID, thanks.ConversationID = other.ID, other.ID
	require.NoError(t, c.ApplyClassification(context.Background(), urgent))
	require.NoError(t, c.ApplyClassification(context.Background(), thanks))
	got, err = c.GetConversation(context.Background(), other.ID)
	require.NoError(t, err)
	require.Equal(t, "known_answer", got.LastClassificationTag)
	require.True(t, got.NeedsAttention)
}

func TestApplyClassification_NeverClearsAttention(t *testing.T) {
	c := mustNewClient(t, newMemDynamo())
	conv := mustResolve(t, c, "+33612345678", "villa")

	require.NoError(t, c.ApplyClassification(context.Background(), classification(conv.ID, "c-1", "dissatisfied_guest", true, baseTime)))
	require.NoError(t, c.ApplyClassification(context.Background(), classification(conv.ID, "c-2", "known_answer", false, baseTime.Add(time.Minute))))

	got, err := c.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, "known_answer", got.LastClassificationTag)
	require.True(t, got.NeedsAttention)
	require.Equal(t, domain.AttentionNeeded, got.AttentionState)
}

func TestApplyClassification_ReopensResolved(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)
	conv := mustResolve(t, c, "+33612345678", "villa")

	meta := db.get(convPK(conv.ID), skMeta)
	meta["attentionState"] = sAttr(string(domain.AttentionResolved))
	db.put(meta)

	require.NoError(t, c.ApplyClassification(context.Background(), classification(conv.ID, "c-1", "none", false, baseTime)))
	got, err := c.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AttentionResolved, got.AttentionState)

	require.NoError(t, c.ApplyClassification(context.Background(), classification(conv.ID, "c-2", "urgent_critical", true, baseTime.Add(time.Minute))))
	got, err = c.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AttentionNeeded, got.AttentionState)
	require.True(t, got.NeedsAttention)
}

func TestApplyClassification_MissingConversation(t *testing.T) {
	c := mustNewClient(t, newMemDynamo())
	err := c.ApplyClassification(context.Background(), classification("nope", "c-1", "none", false, baseTime))
	require.ErrorIs(t, err, ErrStaleClassification)
}

func TestSaveClassification_IdempotentAndLatest(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)

	rec := classification("conv", "c-1", "none", false, baseTime)
	require.NoError(t, c.SaveClassification(context.Background(), rec))
	require.NoError(t, c.SaveClassification(context.Background(), rec))
	require.NoError(t, c.SaveClassification(context.Background(), classification("conv", "c-0", "ai_uncertain", true, baseTime.Add(-time.Hour))))
	require.Equal(t, 2, db.count(EntityClassification))

	latest, err := c.LatestClassification(context.Background(), "conv")
	require.NoError(t, err)
	require.Equal(t, "c-1", latest.ID)
	require.Equal(t, baseTime, latest.SourceEventAt)

	_, err = c.LatestClassification(context.Background(), "other")
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, c.SaveClassification(context.Background(), domain.ClassificationRecord{ID: "x"}))
}

func TestCatalogReads(t *testing.T) {
	db := newMemDynamo()
	c := mustNewClient(t, db)
	db.put(map[string]types.AttributeValue{
		"PK":         sAttr(propertyPK("villa")),
		"SK":         sAttr(skProfile),
		"propertyId": sAttr("villa"),
		"hostId":     sAttr("host-1"),
		"name":       sAttr("Villa Azur"),
		"amenities":  &types.AttributeValueMemberSS{Value: []string{"wifi", "pool"}},
	})
	db.put(map[string]types.AttributeValue{
		"PK":                 sAttr(hostPK("host-1")),
		"SK":                 sAttr(skSettings),
		"customInstructions": sAttr("Vouvoyer les voyageurs"),
		"autoReplyEnabled":   bAttr(true),
	})

	p, err := c.GetProperty(context.Background(), "villa")
	require.NoError(t, err)
	require.Equal(t, "host-1", p.HostID)
	require.Equal(t, []string{"wifi", "pool"}, p.Amenities)

	_, err = c.GetProperty(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	s, err := c.GetHostSettings(context.Background(), "host-1")
	require.NoError(t, err)
	require.True(t, s.AutoReplyEnabled)
	require.Equal(t, "Vouvoyer les voyageurs", s.CustomInstructions)

	s, err = c.GetHostSettings(context.Background(), "host-2")
	require.NoError(t, err)
	require.Equal(t, domain.HostSettings{HostID: "host-2"}, s)
}

func TestSummarize(t *testing.T) {
	require.Equal(t, "a b", summarize("  a \n b "))
	long := summarize(string(make([]rune, 300)))
	require.Len(t, []rune(long), summaryMaxRunes)
}

func TestEventKeyOrdersLexically(t *testing.T) {
	early := msgSK(time.UnixMilli(999), "z")
	late := msgSK(time.UnixMilli(1000), "a")
	require.Less(t, early, late)
}
