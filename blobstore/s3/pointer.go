package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gravel-db/gravel/blobstore"
)

// ErrConcurrentCommit is returned when another archiver committed the
// same version first.
var ErrConcurrentCommit = errors.New("s3: concurrent snapshot commit")

// DynamoDBClient is the subset of the DynamoDB API the pointer uses.
// *dynamodb.Client satisfies it.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBPointer records the latest archived snapshot in a DynamoDB
// table. S3 has no compare-and-swap, so the pointer uses a conditional
// put on a monotonically increasing version number: two archivers
// racing on the same version leave exactly one winner.
//
// Table schema: partition key store_id (S), sort key version (N), plus
// a snapshot (S) attribute naming the archive.
type DynamoDBPointer struct {
	client  DynamoDBClient
	table   string
	storeID string
}

// NewDynamoDBPointer creates a pointer keyed by storeID, so several
// databases can share one table.
func NewDynamoDBPointer(client DynamoDBClient, table, storeID string) *DynamoDBPointer {
	return &DynamoDBPointer{client: client, table: table, storeID: storeID}
}

// Commit records name as the latest snapshot.
func (p *DynamoDBPointer) Commit(ctx context.Context, name string) error {
	version, _, err := p.latest(ctx)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}

	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.table),
		Item: map[string]types.AttributeValue{
			"store_id": &types.AttributeValueMemberS{Value: p.storeID},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(version+1, 10)},
			"snapshot": &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrConcurrentCommit
		}
		return fmt.Errorf("s3: commit snapshot pointer: %w", err)
	}
	return nil
}

// Latest returns the most recently committed snapshot name.
func (p *DynamoDBPointer) Latest(ctx context.Context) (string, error) {
	_, name, err := p.latest(ctx)
	return name, err
}

func (p *DynamoDBPointer) latest(ctx context.Context) (uint64, string, error) {
	resp, err := p.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(p.table),
		KeyConditionExpression: aws.String("store_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: p.storeID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: query snapshot pointer: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", blobstore.ErrNotFound
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: pointer item missing version")
	}
	nameAttr, ok := item["snapshot"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: pointer item missing snapshot")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: parse pointer version: %w", err)
	}
	return version, nameAttr.Value, nil
}
