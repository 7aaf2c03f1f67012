package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gofrs/uuid/v5"

	"github.com/zlnvch/storystack/models"
)

type DynamoStackStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoStackStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoStackStore, error) {
	client, err := newDynamoDBClient(context.Background(), devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoStackStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoStackStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	userId, err := uuid.NewV4()
	if err != nil {
		return models.User{}, err
	}
	user.Id = userId.String()

	du := userToDynamo(user)
	du.Created = time.Now().Unix()
	du, _, err = ensureItem(dynamoStore, ctx, du)
	if err != nil {
		return models.User{}, err
	}

	user = userFromDynamo(du)
	return user, nil
}

func (dynamoStore *DynamoStackStore) GetUser(ctx context.Context, provider string, providerId string) (models.User, error) {
	du, err := getItem[dynamoUser](dynamoStore, ctx, "USER#"+provider+"#"+providerId, "PROFILE", false)
	if err != nil {
		return models.User{}, err
	}

	user := userFromDynamo(du)
	return user, nil
}

func (dynamoStore *DynamoStackStore) DeleteUser(ctx context.Context, provider string, providerId string) error {
	return deleteItemWithCondition(dynamoStore, ctx, "USER#"+provider+"#"+providerId, "PROFILE", "", "")
}

// SaveStack upserts the full serialized aggregate. Stack ids are UUIDv7,
// so querying the owner partition in SK order yields creation order.
func (dynamoStore *DynamoStackStore) SaveStack(ctx context.Context, stack models.Stack) error {
	ds, err := stackToDynamo(stack)
	if err != nil {
		return err
	}
	ds.Updated = time.Now().Unix()
	return putItem(dynamoStore, ctx, ds)
}

func (dynamoStore *DynamoStackStore) GetStack(ctx context.Context, ownerId string, stackId string) (models.Stack, error) {
	ds, err := getItem[dynamoStack](dynamoStore, ctx, "STACK#"+ownerId, stackId, false)
	if err != nil {
		return models.Stack{}, err
	}
	return stackFromDynamo(ds)
}

func (dynamoStore *DynamoStackStore) DeleteStack(ctx context.Context, ownerId string, stackId string) error {
	return deleteItemWithCondition(dynamoStore, ctx, "STACK#"+ownerId, stackId, "OwnerId", ownerId)
}

func (dynamoStore *DynamoStackStore) ListUserStacks(ctx context.Context, ownerId string) ([]models.Stack, error) {
	dynamoStacks, err := queryAllByPK[dynamoStack](dynamoStore, ctx, "STACK#"+ownerId, true, 200)
	if err != nil {
		return nil, err
	}

	stacks := make([]models.Stack, 0, len(dynamoStacks))
	for _, ds := range dynamoStacks {
		stack, err := stackFromDynamo(ds)
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, stack)
	}
	return stacks, nil
}

func (dynamoStore *DynamoStackStore) IncrementUserStackCount(ctx context.Context, provider string, providerId string, count int) error {
	// Strict mode: only increment if user exists (prevents partial records after delete)
	return incrementCounter(dynamoStore, ctx, "USER#"+provider+"#"+providerId, "PROFILE", "StackCount", count, false)
}
