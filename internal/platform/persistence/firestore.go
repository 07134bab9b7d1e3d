// Package persistence contains the durable store implementations behind the
// membership, notification, and device-token contracts.
package persistence

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/willowchat/realtime-service/pkg/chat"
)

const (
	usersCollection         = "users"
	notificationsCollection = "notifications"
	notificationItemsSub    = "items"
	deviceTokensCollection  = "device-tokens"

	// Firestore caps the operand list of an "in" query.
	inQueryChunkSize = 30
)

// userDoc is the slice of the shared user document this service reads and
// writes. The rest of the document belongs to the account CRUD.
type userDoc struct {
	ChatIDs    []int64   `firestore:"chatIds"`
	BlockedIDs []int64   `firestore:"blockedIds"`
	LastActive time.Time `firestore:"lastActive"`
}

// FirestoreMembershipStore implements chat.MembershipStore on the shared
// user documents.
type FirestoreMembershipStore struct {
	client *firestore.Client
	logger zerolog.Logger
}

func NewFirestoreMembershipStore(client *firestore.Client, logger zerolog.Logger) (*FirestoreMembershipStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	return &FirestoreMembershipStore{
		client: client,
		logger: logger.With().Str("component", "FirestoreMembershipStore").Logger(),
	}, nil
}

func (s *FirestoreMembershipStore) ChatIDsFor(ctx context.Context, id chat.Identity) ([]chat.ChatID, error) {
	doc, err := s.userDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]chat.ChatID, 0, len(doc.ChatIDs))
	for _, c := range doc.ChatIDs {
		out = append(out, chat.ChatID(c))
	}
	return out, nil
}

func (s *FirestoreMembershipStore) SetLastActive(ctx context.Context, id chat.Identity, t time.Time) error {
	ref := s.client.Collection(usersCollection).Doc(id.String())
	_, err := ref.Set(ctx, map[string]any{"lastActive": t}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to set last-active for %s: %w", id, err)
	}
	return nil
}

// IsBlocked reports a block in either direction between the two identities.
func (s *FirestoreMembershipStore) IsBlocked(ctx context.Context, a, b chat.Identity) (bool, error) {
	docA, err := s.userDoc(ctx, a)
	if err != nil {
		return false, err
	}
	if containsID(docA.BlockedIDs, b) {
		return true, nil
	}
	docB, err := s.userDoc(ctx, b)
	if err != nil {
		return false, err
	}
	return containsID(docB.BlockedIDs, a), nil
}

func (s *FirestoreMembershipStore) userDoc(ctx context.Context, id chat.Identity) (*userDoc, error) {
	snap, err := s.client.Collection(usersCollection).Doc(id.String()).Get(ctx)
	if status.Code(err) == codes.NotFound {
		// An identity with no record has no chats and no blocks.
		return &userDoc{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user %s: %w", id, err)
	}
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user %s: %w", id, err)
	}
	return &doc, nil
}

func containsID(ids []int64, id chat.Identity) bool {
	for _, v := range ids {
		if chat.Identity(v) == id {
			return true
		}
	}
	return false
}

// storedNotification is the per-recipient notification document. One copy is
// written per recipient so the read flag is recipient-scoped.
type storedNotification struct {
	Type      string            `firestore:"type"`
	Title     string            `firestore:"title"`
	Body      string            `firestore:"body"`
	Payload   map[string]string `firestore:"payload,omitempty"`
	SenderID  *int64            `firestore:"senderId,omitempty"`
	CreatedAt time.Time         `firestore:"createdAt"`
	Read      bool              `firestore:"read"`
}

// FirestoreNotificationStore implements chat.NotificationStore. Records live
// under notifications/{recipient}/items/{recordID}, with the same record ID
// shared across all recipients of one notification.
type FirestoreNotificationStore struct {
	client *firestore.Client
	logger zerolog.Logger
}

func NewFirestoreNotificationStore(client *firestore.Client, logger zerolog.Logger) (*FirestoreNotificationStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	return &FirestoreNotificationStore{
		client: client,
		logger: logger.With().Str("component", "FirestoreNotificationStore").Logger(),
	}, nil
}

// Create writes the record for every recipient in one transaction, so the
// record exists for all recipients or for none.
func (s *FirestoreNotificationStore) Create(ctx context.Context, n chat.Notification, recipients []chat.Identity) (*chat.NotificationRecord, error) {
	recordID := uuid.NewString()
	createdAt := time.Now().UTC()

	var senderID *int64
	if n.SenderID != nil {
		v := int64(*n.SenderID)
		senderID = &v
	}
	stored := &storedNotification{
		Type:      string(n.Type),
		Title:     n.Title,
		Body:      n.Body,
		Payload:   n.Payload,
		SenderID:  senderID,
		CreatedAt: createdAt,
	}

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		for _, recipient := range recipients {
			if err := tx.Set(s.itemRef(recipient, recordID), stored); err != nil {
				return err // Transaction will be rolled back.
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	return &chat.NotificationRecord{
		ID:           recordID,
		Notification: n,
		Recipients:   recipients,
		CreatedAt:    createdAt,
	}, nil
}

func (s *FirestoreNotificationStore) MarkRead(ctx context.Context, recipient chat.Identity, recordID string) error {
	_, err := s.itemRef(recipient, recordID).Update(ctx, []firestore.Update{
		{Path: "read", Value: true},
	})
	if err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", recordID, err)
	}
	return nil
}

func (s *FirestoreNotificationStore) CountUnread(ctx context.Context, recipient chat.Identity) (int64, error) {
	query := s.client.Collection(notificationsCollection).
		Doc(recipient.String()).
		Collection(notificationItemsSub).
		Where("read", "==", false)

	var count int64
	iter := query.Documents(ctx)
	defer iter.Stop()
	for {
		_, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to count unread notifications: %w", err)
		}
		count++
	}
	return count, nil
}

func (s *FirestoreNotificationStore) Delete(ctx context.Context, recipient chat.Identity, recordID string) error {
	if _, err := s.itemRef(recipient, recordID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete notification %s: %w", recordID, err)
	}
	return nil
}

func (s *FirestoreNotificationStore) itemRef(recipient chat.Identity, recordID string) *firestore.DocumentRef {
	return s.client.Collection(notificationsCollection).
		Doc(recipient.String()).
		Collection(notificationItemsSub).
		Doc(recordID)
}

// deviceTokenDoc is one registered push token. Document IDs are
// server-generated; the token value is a field so stale-token deletion can
// find it by query.
type deviceTokenDoc struct {
	Token    string `firestore:"token"`
	Platform string `firestore:"platform"`
	OwnerID  int64  `firestore:"ownerId"`
}

// FirestoreDeviceTokenStore implements chat.DeviceTokenStore.
type FirestoreDeviceTokenStore struct {
	client *firestore.Client
	logger zerolog.Logger
}

func NewFirestoreDeviceTokenStore(client *firestore.Client, logger zerolog.Logger) (*FirestoreDeviceTokenStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	return &FirestoreDeviceTokenStore{
		client: client,
		logger: logger.With().Str("component", "FirestoreDeviceTokenStore").Logger(),
	}, nil
}

func (s *FirestoreDeviceTokenStore) TokensFor(ctx context.Context, ids []chat.Identity) ([]chat.DeviceToken, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	owners := make([]int64, 0, len(ids))
	for _, id := range ids {
		owners = append(owners, int64(id))
	}

	var out []chat.DeviceToken
	for start := 0; start < len(owners); start += inQueryChunkSize {
		end := min(start+inQueryChunkSize, len(owners))
		query := s.client.Collection(deviceTokensCollection).Where("ownerId", "in", owners[start:end])

		iter := query.Documents(ctx)
		for {
			snap, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, fmt.Errorf("failed to query device tokens: %w", err)
			}
			var doc deviceTokenDoc
			if err := snap.DataTo(&doc); err != nil {
				s.logger.Warn().Err(err).Str("doc_id", snap.Ref.ID).Msg("Skipping malformed device token document.")
				continue
			}
			out = append(out, chat.DeviceToken{
				Token:    doc.Token,
				Platform: doc.Platform,
				OwnerID:  chat.Identity(doc.OwnerID),
			})
		}
		iter.Stop()
	}
	return out, nil
}

// Register stores a token for its owner. Re-registering an existing token
// moves it to the new owner instead of duplicating it.
func (s *FirestoreDeviceTokenStore) Register(ctx context.Context, token chat.DeviceToken) error {
	if err := s.DeleteToken(ctx, token.Token); err != nil {
		return err
	}
	_, _, err := s.client.Collection(deviceTokensCollection).Add(ctx, &deviceTokenDoc{
		Token:    token.Token,
		Platform: token.Platform,
		OwnerID:  int64(token.OwnerID),
	})
	if err != nil {
		return fmt.Errorf("failed to register device token: %w", err)
	}
	return nil
}

// DeleteToken removes a token wherever it is registered. Deleting a token
// that was never registered is a no-op.
func (s *FirestoreDeviceTokenStore) DeleteToken(ctx context.Context, token string) error {
	iter := s.client.Collection(deviceTokensCollection).Where("token", "==", token).Documents(ctx)
	defer iter.Stop()

	// A BulkWriter handles the (unusual) case of the same token value
	// appearing in more than one document.
	bulkWriter := s.client.BulkWriter(ctx)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to find device token for deletion: %w", err)
		}
		if _, err := bulkWriter.Delete(snap.Ref); err != nil {
			return fmt.Errorf("failed to enqueue device token deletion: %w", err)
		}
	}
	bulkWriter.End()
	return nil
}
