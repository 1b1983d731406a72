package mongostore

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
	"github.com/nspcc-dev/smallfiles/pkg/recordstore/storetest"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestSelectQuery(t *testing.T) {
	q := selectQuery(recordstore.Filter{
		PathPattern:  "^/data/exp/",
		FilePattern:  `\.root$`,
		StorePattern: "tape",
		CTimeBefore:  1000,
	})

	require.Equal(t, bson.M{
		"state": "new",
		"ctime": bson.M{"$lt": float64(1000)},
		"path":  primitive.Regex{Pattern: "^/data/exp/"},
		"store": primitive.Regex{Pattern: "tape"},
	}, q)
}

func TestLockUpdate(t *testing.T) {
	require.Equal(t, bson.M{
		"$set":   bson.M{"state": "archived: /data/a.darc"},
		"$unset": bson.M{"lock": ""},
	}, lockUpdate(recordstore.Archived("/data/a.darc"), ""))

	require.Equal(t, bson.M{
		"$set": bson.M{"state": "added: /data/a.darc", "lock": "packer-1"},
	}, lockUpdate(recordstore.Added("/data/a.darc"), "packer-1"))
}

// TestGeneric runs against a real server when SMALLFILES_TEST_MONGO_URI is set.
func TestGeneric(t *testing.T) {
	uri := os.Getenv("SMALLFILES_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("SMALLFILES_TEST_MONGO_URI is not set")
	}

	prefix := fmt.Sprintf("smallfiles_test_%d", time.Now().UnixNano())

	var n int
	storetest.Run(t, func(t *testing.T) recordstore.Store {
		n++
		return New(uri, WithDatabase(fmt.Sprintf("%s_%d", prefix, n)))
	})
}
