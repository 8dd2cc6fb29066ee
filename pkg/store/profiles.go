package store

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/model"
)

// GetProfile reads a profile by user id
func (db *DB) GetProfile(ctx context.Context, id string) (*model.UserProfile, error) {
	var profile model.UserProfile
	if err := db.getItem(ctx, "GetProfile", db.tables.Profiles, stringKey(id), &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// CreateProfile writes a new profile; an existing id is rejected with ErrConditionFailed
func (db *DB) CreateProfile(ctx context.Context, profile *model.UserProfile) error {
	now := db.now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	if profile.Email != "" {
		profile.Email = strings.ToLower(profile.Email)
	}
	return db.putItem(ctx, "CreateProfile", db.tables.Profiles, profile, "attribute_not_exists(id)")
}

// UpdateProfile replaces an existing profile
func (db *DB) UpdateProfile(ctx context.Context, profile *model.UserProfile) error {
	profile.UpdatedAt = db.now().UTC()
	return db.putItem(ctx, "UpdateProfile", db.tables.Profiles, profile, "attribute_exists(id)")
}

// FindVerifiedProfileByPhone returns the first profile that proved ownership of phone with a
// one-time code. Profiles that only typed the number in are skipped. The phone index is not a
// uniqueness constraint; see account.Service.
func (db *DB) FindVerifiedProfileByPhone(ctx context.Context, phone string) (*model.UserProfile, error) {
	return db.findProfile(ctx, "FindVerifiedProfileByPhone", ProfilesByPhoneIndex, "phone", phone, true)
}

// FindProfileByEmail returns the profile registered with email (case-insensitive)
func (db *DB) FindProfileByEmail(ctx context.Context, email string) (*model.UserProfile, error) {
	return db.findProfile(ctx, "FindProfileByEmail", ProfilesByEmailIndex, "email", strings.ToLower(email), false)
}

func (db *DB) findProfile(ctx context.Context, op, index, attr, value string, phoneVerified bool) (*model.UserProfile, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(db.tables.Profiles),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#attr = :value"),
		ExpressionAttributeNames: map[string]string{
			"#attr": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: value},
		},
	}
	if phoneVerified {
		input.FilterExpression = aws.String("#verified = :verified")
		input.ExpressionAttributeNames["#verified"] = "phone_verified"
		input.ExpressionAttributeValues[":verified"] = &types.AttributeValueMemberBOOL{Value: true}
	}
	profiles, err := queryAll[model.UserProfile](ctx, db, op, input)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, serrors.NewPersistenceError(op, db.tables.Profiles, serrors.ErrNotFound)
	}
	return &profiles[0], nil
}

// GetGate reads a checkout session's phone gate snapshot
func (db *DB) GetGate(ctx context.Context, sessionID string) (*model.GateSnapshot, error) {
	var snap model.GateSnapshot
	if err := db.getItem(ctx, "GetGate", db.tables.Sessions, stringKey(sessionID), &snap); err != nil {
		return nil, err
	}
	if snap.TTL > 0 && snap.TTL <= db.now().Unix() {
		return nil, serrors.NewPersistenceError("GetGate", db.tables.Sessions, serrors.ErrNotFound)
	}
	return &snap, nil
}

// PutGate writes a phone gate snapshot
func (db *DB) PutGate(ctx context.Context, snap *model.GateSnapshot) error {
	snap.UpdatedAt = db.now().UTC()
	return db.putItem(ctx, "PutGate", db.tables.Sessions, snap, "")
}
