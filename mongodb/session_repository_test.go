package mongodb_test

import (
	"context"
	"testing"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/pilab-dev/oauthdirac/internal/store/storetest"
	"github.com/pilab-dev/oauthdirac/mongodb"
	"github.com/pilab-dev/oauthdirac/mongodb/testutil"
	"github.com/stretchr/testify/require"
)

func TestSessionRepositoryMongo(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.SessionRepository {
		db, cleanup := testutil.SetupTestMongoDB(t, "test_oauthdirac_sessions")
		t.Cleanup(cleanup)

		repo, err := mongodb.NewSessionRepositoryMongo(context.Background(), db)
		require.NoError(t, err)
		return repo
	})
}
