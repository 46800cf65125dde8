package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrAuthUpstream = errors.New("auth upstream error")
)

// Verifier 校验 bearer 凭证，返回认证后的用户
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// LocalVerifier 本进程持有密钥，直接解析
type LocalVerifier struct {
	secret []byte
}

func NewLocalVerifier(secret []byte) *LocalVerifier {
	return &LocalVerifier{secret: secret}
}

func (v *LocalVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	claims, err := ParseToken(v.secret, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

type verifyErrResp struct {
	Error string `json:"error"`
}

// RemoteVerifier 调用独立认证服务的 POST /v1/auth/verify
type RemoteVerifier struct {
	client    *http.Client
	verifyURL string
	timeout   time.Duration
}

// authBaseURL 不要带路径，例如 http://localhost:3001
func NewRemoteVerifier(authBaseURL string) *RemoteVerifier {
	return &RemoteVerifier{
		client: &http.Client{},
		// 统一拼接 verify URL（避免 double slash）
		verifyURL: strings.TrimRight(authBaseURL, "/") + "/v1/auth/verify",
		timeout:   1200 * time.Millisecond,
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, fmt.Errorf("%w: build verify request: %v", ErrAuthUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		// 这里包含超时：context deadline exceeded
		return nil, fmt.Errorf("%w: %v", ErrAuthUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		var e verifyErrResp
		_ = json.NewDecoder(resp.Body).Decode(&e) // 尽力解析错误信息
		if e.Error == "" {
			e.Error = "rejected by auth service"
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, e.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: verify status %d", ErrAuthUpstream, resp.StatusCode)
	}

	var claims Claims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: invalid verify response: %v", ErrAuthUpstream, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: verify response without userId", ErrAuthUpstream)
	}
	if claims.Type != "" && claims.Type != TokenTypeAccess {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, ErrWrongTokenType)
	}
	return &claims, nil
}

// ExtractBearer 处理 "Bearer" 前缀（大小写不敏感）
func ExtractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
