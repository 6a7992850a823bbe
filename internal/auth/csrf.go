package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CSRFトークンの有効期間。ログイン開始からコールバックまでの猶予。
const csrfTokenLifetime = time.Hour

var (
	// ErrMalformedToken はトークンの復号・構文解析に失敗した場合のエラー。
	ErrMalformedToken = errors.New("malformed csrf token")
	// ErrSignatureMismatch は署名が一致しない場合のエラー。
	// 別セッションで生成されたトークンや改竄されたトークンを示す。
	ErrSignatureMismatch = errors.New("csrf token signature mismatch")
	// ErrTokenExpired はトークンの有効期限切れを示すエラー。
	ErrTokenExpired = errors.New("csrf token expired")
)

// csrfPayload は署名対象となるトークン本体。
// expirationはミリ秒単位のUNIX時刻。
type csrfPayload struct {
	Expiration  int64  `json:"expiration"`
	RedirectURL string `json:"redirectUrl"`
}

// csrfEnvelope はbase64化される前のトークン全体。
type csrfEnvelope struct {
	Data      csrfPayload `json:"data"`
	Signature string      `json:"signature"`
}

// CSRFCodec はOIDCフローのstateパラメータとして使うトークンの
// 生成と検証を行う。トークンはセッションIDに署名で束縛されており、
// 生成時と異なるセッションでは検証に失敗する。
type CSRFCodec struct {
	lifetime  time.Duration
	tolerance time.Duration
	now       func() time.Time
}

// NewCSRFCodec はCSRFCodecを生成する。
func NewCSRFCodec() *CSRFCodec {
	return &CSRFCodec{
		lifetime: csrfTokenLifetime,
		now:      time.Now,
	}
}

// NewCSRFCodecWithTolerance はIdPとのクロックスキュー許容値付きの
// CSRFCodecを生成する。期限判定はtolerance分だけ猶予される。
func NewCSRFCodecWithTolerance(tolerance time.Duration) *CSRFCodec {
	c := NewCSRFCodec()
	c.tolerance = tolerance
	return c
}

// Generate はsessionIDに束縛されたトークンを生成する。
// redirectURLはログイン完了後の遷移先としてトークン内に保持される。
func (c *CSRFCodec) Generate(sessionID, redirectURL string) (string, error) {
	payload := csrfPayload{
		Expiration:  c.now().Add(c.lifetime).UnixMilli(),
		RedirectURL: redirectURL,
	}

	sig, err := signPayload(payload, sessionID)
	if err != nil {
		return "", fmt.Errorf("CSRFトークンの署名に失敗: %w", err)
	}

	envelope := csrfEnvelope{Data: payload, Signature: sig}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("CSRFトークンのシリアライズに失敗: %w", err)
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}

// Validate はトークンを検証し、問題なければトークンに埋め込まれた
// リダイレクト先を返す。検証は構文、署名、期限の順で行う。
func (c *CSRFCodec) Validate(token, sessionID string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrMalformedToken
	}

	var envelope csrfEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", ErrMalformedToken
	}

	expected, err := signPayload(envelope.Data, sessionID)
	if err != nil {
		return "", ErrMalformedToken
	}
	if envelope.Signature != expected {
		return "", ErrSignatureMismatch
	}

	if c.now().Add(-c.tolerance).UnixMilli() > envelope.Data.Expiration {
		return "", ErrTokenExpired
	}

	return envelope.Data.RedirectURL, nil
}

// signPayload はペイロードのJSON表現とセッションIDを連結して
// SHA-256ダイジェストを計算する。
func signPayload(payload csrfPayload, sessionID string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(string(data) + "##" + sessionID))
	return hex.EncodeToString(sum[:]), nil
}
