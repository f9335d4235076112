package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/timebank/backend/internal/models"
)

func TestInviteService_GenerateInvite(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	rdb, rmock := redismock.NewClientMock()
	service := NewInviteService(db, rdb)
	ctx := context.Background()

	t.Run("successful generation", func(t *testing.T) {
		rmock.Regexp().ExpectSet(`invite:.*`, `.*`, inviteTTL).SetVal("OK")

		code, image, err := service.GenerateInvite(ctx, "bob", "gardening", 3)
		assert.NoError(t, err)
		assert.NotEmpty(t, code)
		assert.NotEmpty(t, image)

		// The code is a self-describing payload.
		decoded, err := base64.URLEncoding.DecodeString(code)
		assert.NoError(t, err)

		var payload map[string]any
		assert.NoError(t, json.Unmarshal(decoded, &payload))
		assert.Equal(t, "bob", payload["provider"])
		assert.Equal(t, "gardening", payload["skillName"])
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("invalid parameters", func(t *testing.T) {
		_, _, err := service.GenerateInvite(ctx, "bob", "", 3)
		assert.ErrorIs(t, err, models.ErrInvalidParams)

		_, _, err = service.GenerateInvite(ctx, "bob", "gardening", 0)
		assert.ErrorIs(t, err, models.ErrInvalidParams)
	})
}

func TestInviteService_RedeemInvite(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	rdb, rmock := redismock.NewClientMock()
	service := NewInviteService(db, rdb)
	ctx := context.Background()

	t.Run("successful redemption deletes the code", func(t *testing.T) {
		payload := `{"provider":"bob","skillName":"gardening","hours":3}`

		rmock.ExpectGet("invite:abc").SetVal(payload)
		rmock.ExpectDel("invite:abc").SetVal(1)

		result, err := service.RedeemInvite(ctx, "abc")
		assert.NoError(t, err)
		assert.Equal(t, "bob", result["provider"])
		assert.Equal(t, float64(3), result["hours"])
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("expired code", func(t *testing.T) {
		rmock.ExpectGet("invite:gone").RedisNil()

		_, err := service.RedeemInvite(ctx, "gone")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid or expired")
	})
}
