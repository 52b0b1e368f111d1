package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/internal/repository"
	"github.com/reachforge/outreach-engine/pkg/pg"
	"github.com/reachforge/outreach-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.OutreachAccountEntity{},
		&repository.CampaignEntity{},
		&repository.CampaignContactEntity{},
		&repository.CampaignActivityEntity{},
		&repository.DailyStatEntity{},
		&repository.PipelineEntity{},
		&repository.PipelineStageEntity{},
		&repository.PipelineAssignmentEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestAccount(t *testing.T, db *pg.DB, providerAccountID string, dailyLimit int) *repository.OutreachAccountEntity {
	ctx := context.Background()
	account := &repository.OutreachAccountEntity{
		UserID:            1,
		ProviderAccountID: providerAccountID,
		DailyLimit:        dailyLimit,
	}
	err := db.Write(ctx).Create(account).Error
	require.NoError(t, err)
	return account
}

func CreateTestCampaign(t *testing.T, db *pg.DB, accountID int64, status model.CampaignStatus) *repository.CampaignEntity {
	ctx := context.Background()
	campaign := &repository.CampaignEntity{
		AccountID:         accountID,
		Name:              "test campaign",
		Status:            status.String(),
		ConnectionMessage: "Hi {{first_name}}, let's connect",
		FollowUpMessage:   "Thanks for connecting, {{first_name}}",
		FollowUpDelayDays: 2,
		Timezone:          "UTC",
	}
	err := db.Write(ctx).Create(campaign).Error
	require.NoError(t, err)
	return campaign
}

func CreateTestContact(t *testing.T, db *pg.DB, campaignID int64, profileRef string, status model.ContactStatus) *repository.CampaignContactEntity {
	ctx := context.Background()
	contact := &repository.CampaignContactEntity{
		CampaignID:  campaignID,
		ContactID:   time.Now().UnixNano(),
		ProfileRef:  profileRef,
		ContactName: "Test Prospect",
		Status:      status.String(),
		EnrolledAt:  time.Now(),
	}
	err := db.Write(ctx).Create(contact).Error
	require.NoError(t, err)
	return contact
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
