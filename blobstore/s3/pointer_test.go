package s3

import (
	"context"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/gravel-db/gravel/blobstore"
)

// fakeDDB keeps committed versions in memory and enforces the
// conditional put the way DynamoDB does.
type fakeDDB struct {
	items map[uint64]string // version -> snapshot name

	// onPut runs between the pointer's read and its conditional put,
	// standing in for a racing archiver.
	onPut func()
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: make(map[uint64]string)}
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.onPut != nil {
		f.onPut()
		f.onPut = nil
	}
	version, err := strconv.ParseUint(params.Item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
	if err != nil {
		return nil, err
	}
	if _, exists := f.items[version]; exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	f.items[version] = params.Item["snapshot"].(*types.AttributeValueMemberS).Value
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	var max uint64
	for v := range f.items {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	return &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{{
			"store_id": &types.AttributeValueMemberS{Value: "test"},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(max, 10)},
			"snapshot": &types.AttributeValueMemberS{Value: f.items[max]},
		}},
	}, nil
}

func TestDynamoDBPointerCommitAndLatest(t *testing.T) {
	ptr := NewDynamoDBPointer(newFakeDDB(), "gravel-snapshots", "test")
	ctx := context.Background()

	_, err := ptr.Latest(ctx)
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, ptr.Commit(ctx, "snap-1"))
	latest, err := ptr.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "snap-1", latest)

	require.NoError(t, ptr.Commit(ctx, "snap-2"))
	latest, err = ptr.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "snap-2", latest)
}

func TestDynamoDBPointerConcurrentCommit(t *testing.T) {
	ddb := newFakeDDB()
	ptr := NewDynamoDBPointer(ddb, "gravel-snapshots", "test")
	ctx := context.Background()

	// A racing archiver lands the next version between our read and
	// our conditional put.
	ddb.onPut = func() { ddb.items[1] = "snap-other" }
	err := ptr.Commit(ctx, "snap-mine")
	require.ErrorIs(t, err, ErrConcurrentCommit)

	latest, err := ptr.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "snap-other", latest)
}
