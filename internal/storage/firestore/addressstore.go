package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	profilesCollection = "profiles"
	devicesCollection  = "devices"
)

// AddressStore implements dispatch.AddressStore on Firestore:
// profiles/{profileID} holds the email, profiles/{profileID}/devices/{hash} one registration each.
type AddressStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewAddressStore(client *firestore.Client, logger *slog.Logger) *AddressStore {
	return &AddressStore{
		client: client,
		logger: logger.With("component", "FirestoreAddressStore"),
	}
}

type profileRecord struct {
	Email string `firestore:"email"`
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	Platform  string    `firestore:"platform"`
	Token     string    `firestore:"token"`
	Active    bool      `firestore:"active"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (s *AddressStore) FetchEmail(ctx context.Context, recipientID string) (string, error) {
	snap, err := s.client.Collection(profilesCollection).Doc(recipientID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("firestore profile lookup failed: %w", err)
	}

	var profile profileRecord
	if err := snap.DataTo(&profile); err != nil {
		return "", fmt.Errorf("failed to decode profile %s: %w", recipientID, err)
	}
	return profile.Email, nil
}

// FetchPushTokens returns active registrations in document order.
func (s *AddressStore) FetchPushTokens(ctx context.Context, recipientID string) ([]string, error) {
	iter := s.devices(recipientID).Documents(ctx)
	defer iter.Stop()

	var tokens []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Warn("Skipping undecodable device record", "doc", doc.Ref.Path, "err", err)
			continue
		}
		if record.Active {
			tokens = append(tokens, record.Token)
		}
	}
	return tokens, nil
}

// DeactivatePushToken flags the token on every profile that registered it.
func (s *AddressStore) DeactivatePushToken(ctx context.Context, token string) error {
	iter := s.client.CollectionGroup(devicesCollection).Where("token", "==", token).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("firestore token lookup failed: %w", err)
		}
		_, err = doc.Ref.Update(ctx, []firestore.Update{
			{Path: "active", Value: false},
			{Path: "updated_at", Value: time.Now()},
		})
		if err != nil {
			return fmt.Errorf("failed to deactivate %s: %w", doc.Ref.Path, err)
		}
	}
}

// RegisterDevice upserts an active registration. The token hash is the document ID so
// re-registering the same token does not duplicate it.
//
// RegisterDevice and SetEmail are the seeding surface for the Firestore backend: the
// worker only reads and deactivates, so whatever provisions profiles writes through these.
func (s *AddressStore) RegisterDevice(ctx context.Context, recipientID, platform, token string) error {
	record := deviceRecord{
		Platform:  platform,
		Token:     token,
		Active:    true,
		UpdatedAt: time.Now(),
	}
	_, err := s.devices(recipientID).Doc(hashToken(token)).Set(ctx, record)
	return err
}

// SetEmail writes the profile address, leaving other profile fields untouched.
func (s *AddressStore) SetEmail(ctx context.Context, recipientID, email string) error {
	_, err := s.client.Collection(profilesCollection).Doc(recipientID).
		Set(ctx, map[string]interface{}{"email": email}, firestore.MergeAll)
	return err
}

func (s *AddressStore) devices(recipientID string) *firestore.CollectionRef {
	return s.client.Collection(profilesCollection).Doc(recipientID).Collection(devicesCollection)
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
