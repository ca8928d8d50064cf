// Package mocks provides hand-rolled function-field mocks for the shared
// interfaces. Tests set only the fields they care about; unset fields
// panic so a test never silently exercises an unplanned dependency.
package mocks

import (
	"context"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/sitebridge/server/pkg/types"
)

// MockDatabase implements shared.Database.
type MockDatabase struct {
	SetExecutionFunc    func(ctx context.Context, record *types.ExecutionRecord) error
	UpdateExecutionFunc func(ctx context.Context, userID, id string, data map[string]interface{}) error

	GetUserFunc func(ctx context.Context, id string) (*types.UserRecord, error)

	AppendActivityEventFunc func(ctx context.Context, e *types.ActivityEvent) error
	ListActivityEventsFunc  func(ctx context.Context, userID string, activityID uuid.UUID) ([]types.ActivityEvent, error)

	SetActivityFunc    func(ctx context.Context, record *types.ActivityRecord) error
	GetActivityFunc    func(ctx context.Context, userID string, activityID uuid.UUID) (*types.ActivityRecord, error)
	UpdateActivityFunc func(ctx context.Context, userID string, activityID uuid.UUID, data map[string]interface{}) error
	ListActivitiesFunc func(ctx context.Context, userID string) ([]types.ActivityRecord, error)

	GetConsentSessionFunc    func(ctx context.Context, userID string, userSiteID uuid.UUID) (*types.ConsentSessionRecord, error)
	SetConsentSessionFunc    func(ctx context.Context, session *types.ConsentSessionRecord) error
	DeleteConsentSessionFunc func(ctx context.Context, userID string, userSiteID uuid.UUID) error

	GetSessionStateFunc func(ctx context.Context, userID string, stateID uuid.UUID) (*types.SessionStateRecord, error)
	SetSessionStateFunc func(ctx context.Context, record *types.SessionStateRecord) error

	SubmitConsentSessionFunc func(ctx context.Context, userID string, stateID, newStateID uuid.UUID, retention time.Duration) (*types.ConsentSessionRecord, error)
}

func (m *MockDatabase) SetExecution(ctx context.Context, record *types.ExecutionRecord) error {
	if m.SetExecutionFunc == nil {
		return nil // execution audit is ambient; default to no-op
	}
	return m.SetExecutionFunc(ctx, record)
}

func (m *MockDatabase) UpdateExecution(ctx context.Context, userID, id string, data map[string]interface{}) error {
	if m.UpdateExecutionFunc == nil {
		return nil
	}
	return m.UpdateExecutionFunc(ctx, userID, id, data)
}

func (m *MockDatabase) GetUser(ctx context.Context, id string) (*types.UserRecord, error) {
	if m.GetUserFunc == nil {
		panic("MockDatabase.GetUserFunc not set")
	}
	return m.GetUserFunc(ctx, id)
}

func (m *MockDatabase) AppendActivityEvent(ctx context.Context, e *types.ActivityEvent) error {
	if m.AppendActivityEventFunc == nil {
		panic("MockDatabase.AppendActivityEventFunc not set")
	}
	return m.AppendActivityEventFunc(ctx, e)
}

func (m *MockDatabase) ListActivityEvents(ctx context.Context, userID string, activityID uuid.UUID) ([]types.ActivityEvent, error) {
	if m.ListActivityEventsFunc == nil {
		panic("MockDatabase.ListActivityEventsFunc not set")
	}
	return m.ListActivityEventsFunc(ctx, userID, activityID)
}

func (m *MockDatabase) SetActivity(ctx context.Context, record *types.ActivityRecord) error {
	if m.SetActivityFunc == nil {
		panic("MockDatabase.SetActivityFunc not set")
	}
	return m.SetActivityFunc(ctx, record)
}

func (m *MockDatabase) GetActivity(ctx context.Context, userID string, activityID uuid.UUID) (*types.ActivityRecord, error) {
	if m.GetActivityFunc == nil {
		panic("MockDatabase.GetActivityFunc not set")
	}
	return m.GetActivityFunc(ctx, userID, activityID)
}

func (m *MockDatabase) UpdateActivity(ctx context.Context, userID string, activityID uuid.UUID, data map[string]interface{}) error {
	if m.UpdateActivityFunc == nil {
		panic("MockDatabase.UpdateActivityFunc not set")
	}
	return m.UpdateActivityFunc(ctx, userID, activityID, data)
}

func (m *MockDatabase) ListActivities(ctx context.Context, userID string) ([]types.ActivityRecord, error) {
	if m.ListActivitiesFunc == nil {
		panic("MockDatabase.ListActivitiesFunc not set")
	}
	return m.ListActivitiesFunc(ctx, userID)
}

func (m *MockDatabase) GetConsentSession(ctx context.Context, userID string, userSiteID uuid.UUID) (*types.ConsentSessionRecord, error) {
	if m.GetConsentSessionFunc == nil {
		panic("MockDatabase.GetConsentSessionFunc not set")
	}
	return m.GetConsentSessionFunc(ctx, userID, userSiteID)
}

func (m *MockDatabase) SetConsentSession(ctx context.Context, session *types.ConsentSessionRecord) error {
	if m.SetConsentSessionFunc == nil {
		panic("MockDatabase.SetConsentSessionFunc not set")
	}
	return m.SetConsentSessionFunc(ctx, session)
}

func (m *MockDatabase) DeleteConsentSession(ctx context.Context, userID string, userSiteID uuid.UUID) error {
	if m.DeleteConsentSessionFunc == nil {
		panic("MockDatabase.DeleteConsentSessionFunc not set")
	}
	return m.DeleteConsentSessionFunc(ctx, userID, userSiteID)
}

func (m *MockDatabase) GetSessionState(ctx context.Context, userID string, stateID uuid.UUID) (*types.SessionStateRecord, error) {
	if m.GetSessionStateFunc == nil {
		panic("MockDatabase.GetSessionStateFunc not set")
	}
	return m.GetSessionStateFunc(ctx, userID, stateID)
}

func (m *MockDatabase) SetSessionState(ctx context.Context, record *types.SessionStateRecord) error {
	if m.SetSessionStateFunc == nil {
		panic("MockDatabase.SetSessionStateFunc not set")
	}
	return m.SetSessionStateFunc(ctx, record)
}

func (m *MockDatabase) SubmitConsentSession(ctx context.Context, userID string, stateID, newStateID uuid.UUID, retention time.Duration) (*types.ConsentSessionRecord, error) {
	if m.SubmitConsentSessionFunc == nil {
		panic("MockDatabase.SubmitConsentSessionFunc not set")
	}
	return m.SubmitConsentSessionFunc(ctx, userID, stateID, newStateID, retention)
}

// MockPublisher implements shared.Publisher and records every publish.
type MockPublisher struct {
	PublishCloudEventFunc func(ctx context.Context, topic, orderingKey string, e event.Event) (string, error)

	Published []PublishedEvent
}

// PublishedEvent captures one call to PublishCloudEvent.
type PublishedEvent struct {
	Topic       string
	OrderingKey string
	Event       event.Event
}

func (m *MockPublisher) PublishCloudEvent(ctx context.Context, topic, orderingKey string, e event.Event) (string, error) {
	m.Published = append(m.Published, PublishedEvent{Topic: topic, OrderingKey: orderingKey, Event: e})
	if m.PublishCloudEventFunc == nil {
		return "mock-message-id", nil
	}
	return m.PublishCloudEventFunc(ctx, topic, orderingKey, e)
}

// MockBlobStore implements shared.BlobStore with an in-memory object map.
type MockBlobStore struct {
	WriteFunc func(ctx context.Context, bucket, object string, data []byte) error
	ReadFunc  func(ctx context.Context, bucket, object string) ([]byte, error)

	Objects map[string][]byte // keyed by bucket + "/" + object
}

func (m *MockBlobStore) Write(ctx context.Context, bucket, object string, data []byte) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, data)
	}
	if m.Objects == nil {
		m.Objects = map[string][]byte{}
	}
	m.Objects[bucket+"/"+object] = data
	return nil
}

func (m *MockBlobStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, bucket, object)
	}
	return m.Objects[bucket+"/"+object], nil
}

// MockNotificationService implements shared.NotificationService.
type MockNotificationService struct {
	SendPushNotificationFunc func(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error

	Sent []SentNotification
}

// SentNotification captures one push notification call.
type SentNotification struct {
	UserID string
	Title  string
	Body   string
	Tokens []string
	Data   map[string]string
}

func (m *MockNotificationService) SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error {
	m.Sent = append(m.Sent, SentNotification{UserID: userID, Title: title, Body: body, Tokens: tokens, Data: data})
	if m.SendPushNotificationFunc == nil {
		return nil
	}
	return m.SendPushNotificationFunc(ctx, userID, title, body, tokens, data)
}

// MockSecretStore implements shared.SecretStore over a fixed map.
type MockSecretStore struct {
	GetSecretFunc func(ctx context.Context, projectID, name string) (string, error)

	Secrets map[string]string
}

func (m *MockSecretStore) GetSecret(ctx context.Context, projectID, name string) (string, error) {
	if m.GetSecretFunc != nil {
		return m.GetSecretFunc(ctx, projectID, name)
	}
	return m.Secrets[name], nil
}

// MockClientConfigs satisfies the ClientConfigs lookups in the refresh and
// webhooks packages.
type MockClientConfigs struct {
	Configs map[string]types.ClientConfig
	Loaded  bool
}

func (m *MockClientConfigs) Get(clientID string) (types.ClientConfig, bool) {
	c, ok := m.Configs[clientID]
	return c, ok
}

func (m *MockClientConfigs) Ready() bool { return m.Loaded }
