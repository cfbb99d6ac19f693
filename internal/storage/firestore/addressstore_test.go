//go:build integration

package firestore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-notification-worker/internal/storage/firestore"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSuite(t *testing.T) (context.Context, *fs.AddressStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-address-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, fs.NewAddressStore(client, newTestLogger())
}

func TestAddressStore_Integration(t *testing.T) {
	ctx, store := setupSuite(t)

	t.Run("Email lookup", func(t *testing.T) {
		require.NoError(t, store.SetEmail(ctx, "profile-email", "alice@example.com"))

		email, err := store.FetchEmail(ctx, "profile-email")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", email)

		missing, err := store.FetchEmail(ctx, "profile-unknown")
		require.NoError(t, err)
		assert.Empty(t, missing)
	})

	t.Run("Registration lifecycle", func(t *testing.T) {
		require.NoError(t, store.RegisterDevice(ctx, "profile-push", "android", "token-android-1"))
		require.NoError(t, store.RegisterDevice(ctx, "profile-push", "ios", "token-ios-1"))
		// Re-registering is idempotent.
		require.NoError(t, store.RegisterDevice(ctx, "profile-push", "ios", "token-ios-1"))

		tokens, err := store.FetchPushTokens(ctx, "profile-push")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"token-android-1", "token-ios-1"}, tokens)

		require.NoError(t, store.DeactivatePushToken(ctx, "token-ios-1"))

		tokens, err = store.FetchPushTokens(ctx, "profile-push")
		require.NoError(t, err)
		assert.Equal(t, []string{"token-android-1"}, tokens)
	})

	t.Run("Deactivation spans profiles", func(t *testing.T) {
		require.NoError(t, store.RegisterDevice(ctx, "profile-a", "android", "shared-token"))
		require.NoError(t, store.RegisterDevice(ctx, "profile-b", "android", "shared-token"))

		require.NoError(t, store.DeactivatePushToken(ctx, "shared-token"))

		for _, id := range []string{"profile-a", "profile-b"} {
			tokens, err := store.FetchPushTokens(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, tokens)
		}
	})

	t.Run("Unknown token is a no-op", func(t *testing.T) {
		assert.NoError(t, store.DeactivatePushToken(ctx, "never-registered"))
	})
}
