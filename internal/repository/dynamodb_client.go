// Package repository persists demo session state in DynamoDB: the single
// active session, the processed-event dedup marks, and the webhook log.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"prospector-agent/internal/domain"
)

const (
	pkDemo       = "DEMO"
	skSession    = "SESSION"
	skPrefixEvt  = "EVT#"
	skPrefixHook = "HOOK#"
	ttlDuration  = 7 * 24 * time.Hour // demo records expire after a week
)

var (
	// ErrSessionMissing indicates no demo session has been initialized.
	ErrSessionMissing = errors.New("repository: no active session")
	// ErrCapExceeded indicates the session already reached its exchange cap.
	ErrCapExceeded = errors.New("repository: exchange cap exceeded")
	// ErrDuplicateEvent indicates the event identifier was already recorded.
	ErrDuplicateEvent = errors.New("repository: event already processed")
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// SessionStore defines the state operations consumed by the webhook processor
// and the session initializer.
type SessionStore interface {
	GetActiveSession(ctx context.Context) (domain.Session, error)
	ReplaceSession(ctx context.Context, s domain.Session) error
	IncrementExchange(ctx context.Context, max int) (int, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
	RecordWebhook(ctx context.Context, rec domain.WebhookRecord) error
	ListWebhooks(ctx context.Context, limit int) ([]domain.WebhookRecord, error)
}

// Client wraps a DynamoDB table for demo session state.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// ttlValue returns a Unix timestamp one retention period in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// GetActiveSession returns the single active session with a consistent read.
func (c *Client) GetActiveSession(ctx context.Context) (domain.Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkDemo},
			"SK": &types.AttributeValueMemberS{Value: skSession},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetActiveSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{}, ErrSessionMissing
	}
	return itemToSession(out.Item)
}

// ReplaceSession overwrites any prior session. Only one demo runs at a time.
func (c *Client) ReplaceSession(ctx context.Context, s domain.Session) error {
	if s.SellerInboxID == "" || s.BuyerInboxID == "" {
		return errors.New("repository: ReplaceSession: both inbox ids are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      sessionItem(s),
	})
	if err != nil {
		return fmt.Errorf("repository: ReplaceSession: %w", err)
	}
	return nil
}

// IncrementExchange advances the exchange counter by one, guarded by the cap.
// The condition closes the check-then-increment race: two concurrent
// deliveries cannot both move the counter past max. Returns the new count.
func (c *Client) IncrementExchange(ctx context.Context, max int) (int, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkDemo},
			"SK": &types.AttributeValueMemberS{Value: skSession},
		},
		UpdateExpression:    aws.String("SET exchanges = exchanges + :one"),
		ConditionExpression: aws.String("attribute_exists(PK) AND exchanges < :max"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":max": &types.AttributeValueMemberN{Value: strconv.Itoa(max)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return 0, ErrCapExceeded
		}
		return 0, fmt.Errorf("repository: IncrementExchange: %w", err)
	}
	count, err := intAttr(out.Attributes, "exchanges")
	if err != nil {
		return 0, fmt.Errorf("repository: IncrementExchange decode count: %w", err)
	}
	return count, nil
}

// MarkEventProcessed records the event identifier as processed. The
// conditional put makes first-sight check and record a single atomic step;
// a second delivery of the same identifier gets ErrDuplicateEvent.
func (c *Client) MarkEventProcessed(ctx context.Context, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return errors.New("repository: MarkEventProcessed: event id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":          &types.AttributeValueMemberS{Value: pkDemo},
			"SK":          &types.AttributeValueMemberS{Value: skPrefixEvt + eventID},
			"processedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
			"ttl":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("repository: MarkEventProcessed: %w", err)
	}
	return nil
}

// RecordWebhook appends a webhook-processing record to the operator log.
func (c *Client) RecordWebhook(ctx context.Context, rec domain.WebhookRecord) error {
	if rec.ID == "" {
		return errors.New("repository: RecordWebhook: record id is required")
	}
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: pkDemo},
			"SK":        &types.AttributeValueMemberS{Value: skPrefixHook + ts.UTC().Format(time.RFC3339Nano) + "#" + rec.ID},
			"id":        &types.AttributeValueMemberS{Value: rec.ID},
			"eventId":   &types.AttributeValueMemberS{Value: rec.EventID},
			"role":      &types.AttributeValueMemberS{Value: rec.Role},
			"from":      &types.AttributeValueMemberS{Value: rec.From},
			"subject":   &types.AttributeValueMemberS{Value: rec.Subject},
			"outcome":   &types.AttributeValueMemberS{Value: rec.Outcome},
			"detail":    &types.AttributeValueMemberS{Value: rec.Detail},
			"createdAt": &types.AttributeValueMemberS{Value: ts.UTC().Format(time.RFC3339)},
			"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: RecordWebhook: %w", err)
	}
	return nil
}

// ListWebhooks returns the most recent webhook records, newest first.
func (c *Client) ListWebhooks(ctx context.Context, limit int) ([]domain.WebhookRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pkDemo},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixHook},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListWebhooks query: %w", err)
	}

	recs := make([]domain.WebhookRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToWebhookRecord(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListWebhooks unmarshal: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func sessionItem(s domain.Session) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: pkDemo},
		"SK":            &types.AttributeValueMemberS{Value: skSession},
		"sellerInboxId": &types.AttributeValueMemberS{Value: s.SellerInboxID},
		"sellerEmail":   &types.AttributeValueMemberS{Value: s.SellerEmail},
		"buyerInboxId":  &types.AttributeValueMemberS{Value: s.BuyerInboxID},
		"buyerEmail":    &types.AttributeValueMemberS{Value: s.BuyerEmail},
		"exchanges":     &types.AttributeValueMemberN{Value: strconv.Itoa(s.Exchanges)},
		"createdAt":     &types.AttributeValueMemberS{Value: s.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"status":        &types.AttributeValueMemberS{Value: s.Status},
	}
}

func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	sellerInbox, err := strAttr(item, "sellerInboxId")
	if err != nil {
		return domain.Session{}, err
	}
	buyerInbox, err := strAttr(item, "buyerInboxId")
	if err != nil {
		return domain.Session{}, err
	}
	sellerEmail, _ := strAttr(item, "sellerEmail")
	buyerEmail, _ := strAttr(item, "buyerEmail")
	status, _ := strAttr(item, "status")

	exchanges, err := intAttr(item, "exchanges")
	if err != nil {
		return domain.Session{}, err
	}
	createdRaw, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Session{}, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: parse createdAt: %w", err)
	}

	return domain.Session{
		SellerInboxID: sellerInbox,
		SellerEmail:   sellerEmail,
		BuyerInboxID:  buyerInbox,
		BuyerEmail:    buyerEmail,
		Exchanges:     exchanges,
		CreatedAt:     createdAt,
		Status:        status,
	}, nil
}

func itemToWebhookRecord(item map[string]types.AttributeValue) (domain.WebhookRecord, error) {
	eventID, err := strAttr(item, "eventId")
	if err != nil {
		return domain.WebhookRecord{}, err
	}
	outcome, err := strAttr(item, "outcome")
	if err != nil {
		return domain.WebhookRecord{}, err
	}
	id, _ := strAttr(item, "id")
	role, _ := strAttr(item, "role")
	from, _ := strAttr(item, "from")
	subject, _ := strAttr(item, "subject")
	detail, _ := strAttr(item, "detail")

	rec := domain.WebhookRecord{
		ID:      id,
		EventID: eventID,
		Role:    role,
		From:    from,
		Subject: subject,
		Outcome: outcome,
		Detail:  detail,
	}
	if raw, err := strAttr(item, "createdAt"); err == nil {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.CreatedAt = ts
		}
	}
	return rec, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
