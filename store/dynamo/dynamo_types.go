package dynamo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zlnvch/storystack/models"
)

type dynamoUser struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Id         string `dynamodbav:"Id"`
	Provider   string `dynamodbav:"Provider"`
	ProviderId string `dynamodbav:"ProviderId"`
	Username   string `dynamodbav:"Username"`
	Created    int64  `dynamodbav:"Created"`
	StackCount int    `dynamodbav:"StackCount"`
}

// Map domain User -> Dynamo
func userToDynamo(u models.User) dynamoUser {
	return dynamoUser{
		PK:         "USER#" + u.Provider + "#" + u.ProviderId,
		SK:         "PROFILE",
		Id:         u.Id,
		Provider:   u.Provider,
		ProviderId: u.ProviderId,
		Username:   u.Username,
		Created:    u.Created,
		StackCount: u.StackCount,
	}
}

// Map Dynamo -> domain User
func userFromDynamo(du dynamoUser) models.User {
	return models.User{
		Id:         du.Id,
		Username:   du.Username,
		Provider:   du.Provider,
		ProviderId: du.ProviderId,
		Created:    du.Created,
		StackCount: du.StackCount,
	}
}

// The aggregate is stored as one opaque JSON document. The store only
// ever reads or replaces a stack whole, so there is nothing to gain from
// flattening slides and layers into separate items.
type dynamoStack struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	OwnerId string `dynamodbav:"OwnerId"`
	Title   string `dynamodbav:"Title"`
	Updated int64  `dynamodbav:"Updated"`
	Body    []byte `dynamodbav:"Body"`
}

// Map domain Stack -> Dynamo
func stackToDynamo(stack models.Stack) (dynamoStack, error) {
	body, err := json.Marshal(stack)
	if err != nil {
		return dynamoStack{}, fmt.Errorf("marshal stack body: %w", err)
	}

	return dynamoStack{
		PK:      "STACK#" + stack.OwnerId,
		SK:      stack.Id,
		OwnerId: stack.OwnerId,
		Title:   stack.Title,
		Updated: time.Now().Unix(),
		Body:    body,
	}, nil
}

// Map Dynamo -> domain Stack
func stackFromDynamo(ds dynamoStack) (models.Stack, error) {
	var stack models.Stack
	if err := json.Unmarshal(ds.Body, &stack); err != nil {
		return models.Stack{}, fmt.Errorf("unmarshal stack body: %w", err)
	}
	return stack, nil
}
