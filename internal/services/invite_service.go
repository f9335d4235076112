package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
	"github.com/timebank/backend/internal/models"
)

// InviteService issues short-lived QR invites a provider can hand out in
// person. Scanning an invite yields the parameters for CreateExchange; each
// invite is single-use and expires out of Redis on its own.
type InviteService struct {
	db    *sql.DB
	redis *redis.Client
}

const inviteTTL = 24 * time.Hour

func NewInviteService(db *sql.DB, redisClient *redis.Client) *InviteService {
	return &InviteService{
		db:    db,
		redis: redisClient,
	}
}

// GenerateInvite creates an invite code and its QR image for an offered
// skill. Returns the opaque code and a base64 PNG.
func (s *InviteService) GenerateInvite(ctx context.Context, provider, skillName string, hours int64) (string, string, error) {
	if skillName == "" || hours <= 0 {
		return "", "", models.ErrInvalidParams
	}
	if s.redis == nil {
		return "", "", fmt.Errorf("invites require redis")
	}

	inviteData := map[string]any{
		"provider":  provider,
		"skillName": skillName,
		"hours":     hours,
		"timestamp": time.Now().Unix(),
		"nonce":     generateNonce(),
	}

	jsonData, err := json.Marshal(inviteData)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("invite:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, inviteTTL).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	image := base64.StdEncoding.EncodeToString(buf.Bytes())

	return code, image, nil
}

// RedeemInvite consumes an invite code and returns the exchange parameters
// encoded in it. Redemption deletes the code.
func (s *InviteService) RedeemInvite(ctx context.Context, code string) (map[string]any, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("invites require redis")
	}

	key := fmt.Sprintf("invite:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired invite code")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
