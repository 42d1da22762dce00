package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"linguahub/models"
)

// AuditLog appends XP events and admin actions
type AuditLog struct {
	xpEvents  *mongo.Collection
	adminLogs *mongo.Collection
}

func NewAuditLog(database *mongo.Database) *AuditLog {
	return &AuditLog{
		xpEvents:  database.Collection(XPEventsCollection),
		adminLogs: database.Collection(AdminLogsCollection),
	}
}

func (a *AuditLog) RecordXPEvent(ctx context.Context, event models.XPEvent) error {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if _, err := a.xpEvents.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("insert xp event: %w", err)
	}
	return nil
}

func (a *AuditLog) RecordAdminAction(ctx context.Context, entry models.AdminActionLog) error {
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	if _, err := a.adminLogs.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert admin action log: %w", err)
	}
	return nil
}

// ListAdminActions returns one page of admin actions, newest first, and the total count
func (a *AuditLog) ListAdminActions(ctx context.Context, page, limit int64) ([]models.AdminActionLog, int64, error) {
	if page < 1 {
		page = 1
	}
	opts := options.Find().
		SetSkip((page - 1) * limit).
		SetLimit(limit).
		SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cursor, err := a.adminLogs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find admin action logs: %w", err)
	}
	defer cursor.Close(ctx)

	logs := []models.AdminActionLog{}
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, 0, fmt.Errorf("decode admin action logs: %w", err)
	}
	total, err := a.adminLogs.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count admin action logs: %w", err)
	}
	return logs, total, nil
}
