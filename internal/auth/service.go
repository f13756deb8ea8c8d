// Package auth はサインアップ、ログイン、トークン認証、パスワードリセットを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scmxpert/scmxpertlite/internal/metrics"
	"github.com/scmxpert/scmxpertlite/internal/model"
	"github.com/scmxpert/scmxpertlite/internal/notify"
	"github.com/scmxpert/scmxpertlite/internal/password"
	"github.com/scmxpert/scmxpertlite/internal/repository"
	"github.com/scmxpert/scmxpertlite/internal/token"
)

// reCAPTCHA v3のaction名
const recaptchaActionLogin = "login"

// TokenIssuer はベアラートークンの発行と検証のインターフェース。token.Issuerが実装する。
type TokenIssuer interface {
	Issue(username string, role model.Role) (string, error)
	Parse(tokenString string) (*token.Claims, error)
}

// Mailer はメールを同期送信して結果を返すインターフェース。notify.Dispatcherが実装する。
type Mailer interface {
	Dispatch(ctx context.Context, kind string, msg notify.Message) notify.Result
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	OTPTTL time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	otps      repository.OTPRepository
	tokens    TokenIssuer
	hasher    *password.Hasher
	google    GoogleVerifier
	recaptcha RecaptchaVerifier
	mailer    Mailer
	composer  *notify.Composer
	metrics   metrics.MetricsCollector
	config    ServiceConfig
	now       func() time.Time
}

// Deps はServiceの依存をまとめる。
// GoogleがnilのときGoogleログインは無効、RecaptchaがnilのときreCAPTCHA検証は行わない。
type Deps struct {
	Users     repository.UserRepository
	OTPs      repository.OTPRepository
	Tokens    TokenIssuer
	Hasher    *password.Hasher
	Google    GoogleVerifier
	Recaptcha RecaptchaVerifier
	Mailer    Mailer
	Composer  *notify.Composer
	Metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(deps Deps, config ServiceConfig) *Service {
	if config.OTPTTL <= 0 {
		config.OTPTTL = 5 * time.Minute
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		users:     deps.Users,
		otps:      deps.OTPs,
		tokens:    deps.Tokens,
		hasher:    deps.Hasher,
		google:    deps.Google,
		recaptcha: deps.Recaptcha,
		mailer:    deps.Mailer,
		composer:  deps.Composer,
		metrics:   m,
		config:    config,
		now:       time.Now,
	}
}

// SignupInput はサインアップの入力。
type SignupInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// LoginInput はパスワードログインの入力。Identifierはusernameまたはemail。
type LoginInput struct {
	Identifier     string
	Password       string
	RecaptchaToken string
}

// GoogleLoginInput はGoogleログインの入力。
type GoogleLoginInput struct {
	IDToken        string
	RecaptchaToken string
}

// LoginResult はログイン成功時の応答。
type LoginResult struct {
	AccessToken string
	TokenType   string
	Username    string
	Email       string
	Role        model.Role
}

// Signup はユーザーを登録する。ロールは常にDefaultRoleで作成する。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	// 1. 入力を検証
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if in.Password != in.ConfirmPassword {
		return nil, model.NewPasswordMismatchError()
	}
	if !password.Strong(in.Password) {
		return nil, model.NewWeakPasswordError()
	}

	// 2. 重複を確認
	exists, err := s.users.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if exists {
		return nil, model.NewUserExistsError()
	}

	// 3. ダイジェストを生成してユーザーを作成
	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: digest,
		Role:         model.DefaultRole,
		AuthProvider: model.AuthProviderPassword,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		// 確認と作成の間に競合した場合
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewUserExistsError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created",
		slog.String("username", user.Username),
		slog.String("provider", user.AuthProvider),
	)
	return user, nil
}

// Login はusernameまたはemailとパスワードで認証し、トークンを発行する。
// 未登録とパスワード誤りは区別せずInvalidCredentialsを返す。
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	// 1. reCAPTCHAを検証
	if err := s.verifyRecaptcha(ctx, in.RecaptchaToken, recaptchaActionLogin); err != nil {
		s.metrics.RecordLogin(model.AuthProviderPassword, metrics.LoginFailure)
		return nil, err
	}

	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Password == "" {
		s.metrics.RecordLogin(model.AuthProviderPassword, metrics.LoginFailure)
		return nil, model.NewInvalidCredentialsError()
	}

	// 2. ユーザーを検索
	user, err := s.users.FindByUsernameOrEmail(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		s.metrics.RecordLogin(model.AuthProviderPassword, metrics.LoginFailure)
		return nil, model.NewInvalidCredentialsError()
	}

	// 3. パスワードを照合（旧形式の場合は新形式へ移行）
	before := user.PasswordHash
	ok, err := s.hasher.VerifyAndUpgrade(ctx, user, in.Password, s.users)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.metrics.RecordLogin(model.AuthProviderPassword, metrics.LoginFailure)
		return nil, model.NewInvalidCredentialsError()
	}
	if user.PasswordHash != before {
		s.metrics.RecordPasswordUpgrade()
	}

	// 4. ストアのロールでトークンを発行
	result, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLogin(model.AuthProviderPassword, metrics.LoginSuccess)
	return result, nil
}

// VerifyRecaptcha はreCAPTCHAトークン単体を検証する。actionが空の場合はaction照合を行わない。
func (s *Service) VerifyRecaptcha(ctx context.Context, recaptchaToken, action string) error {
	return s.verifyRecaptcha(ctx, recaptchaToken, action)
}

func (s *Service) verifyRecaptcha(ctx context.Context, recaptchaToken, action string) error {
	if s.recaptcha == nil {
		return nil
	}
	if err := s.recaptcha.Verify(ctx, recaptchaToken, action); err != nil {
		// 検証サービスへの通信エラーも失敗として扱う
		slog.Warn("recaptcha verification failed", slog.String("error", err.Error()))
		return model.NewRecaptchaFailedError()
	}
	return nil
}

// GoogleLogin はGoogleのIDトークンで認証し、トークンを発行する。
// emailに一致するユーザーがいない場合は新規に作成する。
func (s *Service) GoogleLogin(ctx context.Context, in GoogleLoginInput) (*LoginResult, error) {
	if s.google == nil {
		return nil, model.NewInvalidGoogleTokenError("google sign-in is not configured")
	}

	// 1. reCAPTCHAを検証
	if err := s.verifyRecaptcha(ctx, in.RecaptchaToken, "login"); err != nil {
		return nil, err
	}

	// 2. IDトークンを検証
	identity, err := s.google.Verify(ctx, in.IDToken)
	if err != nil {
		s.metrics.RecordLogin(model.AuthProviderGoogle, metrics.LoginFailure)
		if errors.Is(err, ErrGoogleTokenRejected) {
			return nil, model.NewInvalidGoogleTokenError(err.Error())
		}
		return nil, fmt.Errorf("failed to verify google token: %w", err)
	}

	// 3. emailで既存ユーザーを検索
	user, err := s.users.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	if user == nil {
		// 4a. 未登録の場合はユーザーを作成
		user, err = s.createGoogleUser(ctx, identity)
		if err != nil {
			return nil, err
		}
	} else {
		// 4b. 登録済みの場合はプロフィールを更新
		if err := s.users.UpdateGoogleProfile(ctx, user.Username, identity.Subject, identity.Name, identity.Picture); err != nil {
			return nil, fmt.Errorf("failed to update google profile: %w", err)
		}
		user.GoogleSub = identity.Subject
		if identity.Name != "" {
			user.FullName = identity.Name
		}
		if identity.Picture != "" {
			user.Picture = identity.Picture
		}
	}

	// 5. トークンを発行
	result, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLogin(model.AuthProviderGoogle, metrics.LoginSuccess)
	return result, nil
}

// maxUsernameAttempts はGoogleユーザー作成時にusernameの重複を回避する試行回数の上限。
const maxUsernameAttempts = 20

func (s *Service) createGoogleUser(ctx context.Context, identity *GoogleIdentity) (*model.User, error) {
	base := usernameFromEmail(identity.Email)

	for i := 0; i < maxUsernameAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s%d", base, i)
		}

		existing, err := s.users.FindByUsername(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to check username: %w", err)
		}
		if existing != nil {
			continue
		}

		user := &model.User{
			Username:     candidate,
			Email:        identity.Email,
			Role:         model.DefaultRole,
			FullName:     identity.Name,
			Picture:      identity.Picture,
			GoogleSub:    identity.Subject,
			AuthProvider: model.AuthProviderGoogle,
			CreatedAt:    s.now(),
		}
		err = s.users.Create(ctx, user)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create google user: %w", err)
		}

		slog.Info("user created",
			slog.String("username", user.Username),
			slog.String("provider", user.AuthProvider),
		)
		return user, nil
	}
	return nil, fmt.Errorf("failed to allocate username for %s", base)
}

func (s *Service) issue(user *model.User) (*LoginResult, error) {
	role := user.EffectiveRole()
	accessToken, err := s.tokens.Issue(user.Username, role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &LoginResult{
		AccessToken: accessToken,
		TokenType:   "bearer",
		Username:    user.Username,
		Email:       user.Email,
		Role:        role,
	}, nil
}

// Authenticate はベアラートークンを検証し、呼び出し元のPrincipalを返す。
//
// ロールはストアから再取得した値を使う。ストアが利用できない場合に限り
// トークンのroleクレームで代替し、PrincipalをDegradedとする。
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*model.Principal, error) {
	// 1. トークンを検証
	claims, err := s.tokens.Parse(tokenString)
	if err != nil {
		return nil, model.NewInvalidTokenError()
	}

	// 2. ユーザーを再取得
	user, err := s.users.FindByUsername(ctx, claims.Subject)
	if err != nil {
		role, ok := model.ParseRole(claims.Role)
		if !ok {
			role = model.DefaultRole
		}
		slog.Warn("user store unavailable, using token role",
			slog.String("username", claims.Subject),
			slog.String("error", err.Error()),
		)
		return &model.Principal{Username: claims.Subject, Role: role, Degraded: true}, nil
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return &model.Principal{
		Username: user.Username,
		Email:    user.Email,
		Role:     user.EffectiveRole(),
	}, nil
}

// CurrentUser は認証済みユーザーの最新情報を返す。
func (s *Service) CurrentUser(ctx context.Context, principal *model.Principal) (*model.User, error) {
	user, err := s.users.FindByUsername(ctx, principal.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
