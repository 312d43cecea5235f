package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	dynamoPKPrefix = "COORDINATOR#"
	dynamoSK       = "STATE"
)

// dynamoAPI is the subset of the DynamoDB client used here.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStateStore keeps coordinator state in a PK/SK DynamoDB table.
type DynamoStateStore struct {
	api   dynamoAPI
	table string
}

type dynamoStateItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	State
}

// NewDynamoStateStore loads the default AWS config for region.
func NewDynamoStateStore(ctx context.Context, table, region string) (*DynamoStateStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &DynamoStateStore{api: dynamodb.NewFromConfig(cfg), table: table}, nil
}

func stateKey(orgID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: dynamoPKPrefix + orgID},
		"SK": &types.AttributeValueMemberS{Value: dynamoSK},
	}
}

func (s *DynamoStateStore) Load(ctx context.Context, orgID string) (*State, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            stateKey(orgID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get coordinator state: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrStateNotFound
	}
	var item dynamoStateItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode coordinator state: %w", err)
	}
	st := item.State
	return &st, nil
}

func (s *DynamoStateStore) Save(ctx context.Context, st State) error {
	av, err := attributevalue.MarshalMap(dynamoStateItem{
		PK:    dynamoPKPrefix + st.OrgID,
		SK:    dynamoSK,
		State: st,
	})
	if err != nil {
		return fmt.Errorf("encode coordinator state: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put coordinator state: %w", err)
	}
	return nil
}

func (s *DynamoStateStore) ListRunning(ctx context.Context) ([]State, error) {
	var out []State
	var start map[string]types.AttributeValue
	for {
		page, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.table),
			FilterExpression: aws.String("begins_with(PK, :pk) AND running = :running"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":      &types.AttributeValueMemberS{Value: dynamoPKPrefix},
				":running": &types.AttributeValueMemberBOOL{Value: true},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan coordinator state: %w", err)
		}
		for _, raw := range page.Items {
			var item dynamoStateItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("decode coordinator state: %w", err)
			}
			if item.OrgID == "" {
				item.OrgID = strings.TrimPrefix(item.PK, dynamoPKPrefix)
			}
			out = append(out, item.State)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = page.LastEvaluatedKey
	}
}
