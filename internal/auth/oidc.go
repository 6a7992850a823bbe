package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ErrDiscovery はディスカバリ文書の取得失敗を示す。
// 呼び出し側はトークン交換等の失敗と区別できる。
var ErrDiscovery = errors.New("oidc discovery failed")

// userInfoRetryBackoff はUserInfo取得の再試行前に置く待ち時間。
const userInfoRetryBackoff = 500 * time.Millisecond

// Claims はUserInfoエンドポイントから取得するクレームの集合。
// Extraには生のクレーム全体が入り、設定で指定された表示名クレームの
// 解決に使用する。
type Claims struct {
	Sub               string   `json:"sub"`
	PreferredUsername string   `json:"preferred_username"`
	Name              string   `json:"name"`
	Email             string   `json:"email"`
	EmailVerified     bool     `json:"email_verified"`
	Picture           string   `json:"picture"`
	Orgs              []string `json:"orgs"`

	Extra map[string]any `json:"-"`
}

// DisplayName は設定されたクレーム名から表示名を解決する。
// 指定クレームが存在しない、または文字列でない場合はnameにフォールバックする。
func (c *Claims) DisplayName(nameClaim string) string {
	if nameClaim != "" && nameClaim != "name" {
		if v, ok := c.Extra[nameClaim].(string); ok && v != "" {
			return v
		}
	}
	return c.Name
}

// HasOrg はorgsクレームに指定の組織IDが含まれるかを返す。
func (c *Claims) HasOrg(orgID string) bool {
	if orgID == "" {
		return false
	}
	for _, org := range c.Orgs {
		if org == orgID {
			return true
		}
	}
	return false
}

// IdentityProvider はOIDCプロバイダとのやり取りを抽象化する。
// 認可URLの構築、認可コードの交換、ユーザー情報の取得を提供する。
type IdentityProvider interface {
	// AuthCodeURL は認可エンドポイントへのリダイレクトURLを構築する。
	// stateにはCSRFトークンを渡す。
	AuthCodeURL(ctx context.Context, state string) (string, error)

	// Exchange は認可コードをトークンに交換する。
	// コードは一度しか使えないため、失敗しても再試行しない。
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// FetchUserInfo はUserInfoエンドポイントからクレームを取得する。
	// 一時的な障害に備えて1回だけ再試行する。
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*Claims, error)
}

// OIDCProviderConfig はoidcProviderの生成に必要な設定。
type OIDCProviderConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// oidcProvider はIdentityProviderの実装。
// ディスカバリ文書はプロセス内で成功時に1回だけ取得し、以後キャッシュする。
// 失敗した場合はキャッシュせず、次回の呼び出しで再取得する。
type oidcProvider struct {
	config     OIDCProviderConfig
	httpClient *http.Client

	mu          sync.Mutex
	provider    *oidc.Provider
	oauthConfig *oauth2.Config

	retryBackoff time.Duration
}

// NewOIDCProvider はIdentityProviderの新しいインスタンスを生成する。
// httpClientはプロバイダへの全リクエストに使用される。
// SSRF防止付きクライアントを渡すことを想定している。
func NewOIDCProvider(config OIDCProviderConfig, httpClient *http.Client) *oidcProvider {
	return &oidcProvider{
		config:       config,
		httpClient:   httpClient,
		retryBackoff: userInfoRetryBackoff,
	}
}

// discover はディスカバリ文書を取得してoauth2設定を構築する。
// 成功した結果のみをキャッシュする。
func (p *oidcProvider) discover(ctx context.Context) (*oidc.Provider, *oauth2.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.provider != nil {
		return p.provider, p.oauthConfig, nil
	}

	provider, err := oidc.NewProvider(p.clientContext(ctx), p.config.IssuerURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  p.config.RedirectURL,
		Scopes:       p.config.Scopes,
	}

	p.provider = provider
	p.oauthConfig = oauthConfig
	return provider, oauthConfig, nil
}

// clientContext は注入されたHTTPクライアントをoauth2/oidcライブラリに伝搬する。
func (p *oidcProvider) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, p.httpClient)
}

// AuthCodeURL は認可エンドポイントへのリダイレクトURLを構築する。
func (p *oidcProvider) AuthCodeURL(ctx context.Context, state string) (string, error) {
	_, oauthConfig, err := p.discover(ctx)
	if err != nil {
		return "", err
	}
	return oauthConfig.AuthCodeURL(state), nil
}

// Exchange は認可コードをトークンに交換する。
// 認可コードは使い捨てのため、失敗してもここでは再試行しない。
func (p *oidcProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	_, oauthConfig, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	token, err := oauthConfig.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("認可コードの交換に失敗: %w", err)
	}
	return token, nil
}

// FetchUserInfo はUserInfoエンドポイントからクレームを取得する。
// ネットワーク起因の一時的な失敗に備え、短い待機の後に1回だけ再試行する。
func (p *oidcProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*Claims, error) {
	provider, oauthConfig, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	claims, err := p.fetchUserInfoOnce(ctx, provider, oauthConfig, token)
	if err == nil {
		return claims, nil
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ユーザー情報の取得に失敗: %w", err)
	case <-time.After(p.retryBackoff):
	}

	claims, retryErr := p.fetchUserInfoOnce(ctx, provider, oauthConfig, token)
	if retryErr != nil {
		return nil, fmt.Errorf("ユーザー情報の取得に失敗（再試行後）: %w", retryErr)
	}
	return claims, nil
}

func (p *oidcProvider) fetchUserInfoOnce(ctx context.Context, provider *oidc.Provider, oauthConfig *oauth2.Config, token *oauth2.Token) (*Claims, error) {
	userInfo, err := provider.UserInfo(p.clientContext(ctx), oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, err
	}

	var claims Claims
	if err := userInfo.Claims(&claims); err != nil {
		return nil, fmt.Errorf("クレームの解析に失敗: %w", err)
	}

	var raw map[string]any
	if err := userInfo.Claims(&raw); err != nil {
		return nil, fmt.Errorf("クレームの解析に失敗: %w", err)
	}
	claims.Extra = raw

	return &claims, nil
}

// decodeClaims はJSONバイト列からClaimsを復元する。テスト用の補助。
func decodeClaims(data []byte) (*Claims, error) {
	var claims Claims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	claims.Extra = raw
	return &claims, nil
}

var _ IdentityProvider = (*oidcProvider)(nil)
